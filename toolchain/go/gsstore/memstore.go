package gsstore

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.chromium.org/chromite/go/gcs"
	"go.chromium.org/chromite/go/skerr"
)

// MemStore is an in-memory Store for use in tests.
type MemStore struct {
	mtx     sync.Mutex
	objects map[string]memObject
	// Copies records every URL passed to Copy, in order.
	Copies []string
}

type memObject struct {
	created  time.Time
	contents []byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: map[string]memObject{}}
}

// Put stores an object.
func (m *MemStore) Put(url string, created time.Time, contents []byte) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.objects[url] = memObject{created: created, contents: contents}
}

// List implements Store.
func (m *MemStore) List(_ context.Context, url string) ([]Object, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	bucket, prefix, pattern := splitPattern(url)
	var rv []Object
	for u, obj := range m.objects {
		b, name := gcs.SplitGSPath(u)
		if b != bucket || !matches(prefix, pattern, name) {
			continue
		}
		rv = append(rv, Object{URL: u, Created: obj.created, Size: int64(len(obj.contents))})
	}
	if len(rv) == 0 {
		return nil, skerr.Wrapf(ErrNoSuchKey, "%s matched no objects", url)
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].URL < rv[j].URL })
	return rv, nil
}

// Exists implements Store.
func (m *MemStore) Exists(_ context.Context, url string) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	_, ok := m.objects[url]
	return ok, nil
}

// Copy implements Store.
func (m *MemStore) Copy(_ context.Context, url, dst string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.Copies = append(m.Copies, url)
	obj, ok := m.objects[url]
	if !ok {
		return skerr.Wrapf(ErrNoSuchKey, "%s", url)
	}
	return skerr.Wrap(os.WriteFile(dst, obj.contents, 0644))
}

var _ Store = (*MemStore)(nil)
