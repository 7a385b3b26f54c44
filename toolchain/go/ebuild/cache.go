package ebuild

import (
	"sync"
)

// Cache remembers stable ebuild lookups for the lifetime of one invocation.
// It is owned by the caller and must be updated when an ebuild is renamed.
type Cache struct {
	overlay string

	mtx   sync.Mutex
	infos map[string]Info
}

// NewCache returns an empty Cache for ebuilds in overlay.
func NewCache(overlay string) *Cache {
	return &Cache{
		overlay: overlay,
		infos:   map[string]Info{},
	}
}

// Overlay returns the overlay directory searched by the Cache.
func (c *Cache) Overlay() string {
	return c.overlay
}

// Get returns the stable ebuild of category/pkg, looking it up on first
// use.
func (c *Cache) Get(category, pkg string) (Info, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if info, ok := c.infos[pkg]; ok {
		return info, nil
	}
	info, err := FindStable(c.overlay, category, pkg)
	if err != nil {
		return Info{}, err
	}
	c.infos[pkg] = info
	return info, nil
}

// Put records info, eg. after it was renamed by Patch.
func (c *Cache) Put(info Info) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.infos[info.Package] = info
}

// Invalidate forgets pkg.
func (c *Cache) Invalidate(pkg string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.infos, pkg)
}
