// Package gsstore provides the small set of cloud storage operations used
// by the AFDO handlers, addressed by gs:// URLs.
package gsstore

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.chromium.org/chromite/go/gcs"
	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/chromite/go/sklog"
	"go.chromium.org/chromite/go/util"
)

// ErrNoSuchKey is returned when a listing matches nothing or an object does
// not exist.
var ErrNoSuchKey = errors.New("no such key")

// Object describes one stored object.
type Object struct {
	URL     string
	Created time.Time
	Size    int64
}

// Store is the cloud storage contract. None of the methods retry.
type Store interface {
	// List returns the objects directly under the given directory URL, or
	// those whose name matches a URL with '*' wildcards in its last element.
	// Results are sorted by URL. Returns ErrNoSuchKey if nothing matches.
	List(ctx context.Context, url string) ([]Object, error)
	// Exists returns true if the object at url exists.
	Exists(ctx context.Context, url string) (bool, error)
	// Copy downloads the object at url into the local file dst.
	Copy(ctx context.Context, url, dst string) error
}

// splitPattern splits a listing URL into bucket, prefix and an optional glob
// pattern on the basename.
func splitPattern(url string) (string, string, string) {
	bucket, p := gcs.SplitGSPath(url)
	if strings.Contains(path.Base(p), "*") {
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		} else {
			dir += "/"
		}
		return bucket, dir, path.Base(p)
	}
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return bucket, p, ""
}

// matches reports whether the object name, relative to the listed prefix,
// belongs to the listing.
func matches(prefix, pattern, name string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rel := strings.TrimPrefix(name, prefix)
	if rel == "" || strings.Contains(rel, "/") {
		return false
	}
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, rel)
	return err == nil && ok
}

// GCSStore implements Store on top of gcs.GCSClient, with one client per
// bucket.
type GCSStore struct {
	newClient func(bucket string) gcs.GCSClient

	mtx     sync.Mutex
	clients map[string]gcs.GCSClient
}

// NewGCSStore returns a GCSStore which uses the given storage client.
func NewGCSStore(s *storage.Client) *GCSStore {
	return NewGCSStoreWithClients(func(bucket string) gcs.GCSClient {
		return gcs.NewGCSClient(s, bucket)
	})
}

// NewGCSStoreWithClients returns a GCSStore which creates bucket clients
// with the given function.
func NewGCSStoreWithClients(newClient func(bucket string) gcs.GCSClient) *GCSStore {
	return &GCSStore{
		newClient: newClient,
		clients:   map[string]gcs.GCSClient{},
	}
}

func (s *GCSStore) client(bucket string) gcs.GCSClient {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c, ok := s.clients[bucket]
	if !ok {
		c = s.newClient(bucket)
		s.clients[bucket] = c
	}
	return c
}

// List implements Store.
func (s *GCSStore) List(ctx context.Context, url string) ([]Object, error) {
	bucket, prefix, pattern := splitPattern(url)
	var rv []Object
	err := s.client(bucket).AllFilesInDirectory(ctx, prefix, func(item *storage.ObjectAttrs) error {
		if matches(prefix, pattern, item.Name) {
			rv = append(rv, Object{
				URL:     gcs.GSURL(bucket, item.Name),
				Created: item.Created,
				Size:    item.Size,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return nil, skerr.Wrapf(ErrNoSuchKey, "%s", url)
		}
		return nil, skerr.Wrapf(err, "listing %s", url)
	}
	if len(rv) == 0 {
		return nil, skerr.Wrapf(ErrNoSuchKey, "%s matched no objects", url)
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].URL < rv[j].URL })
	return rv, nil
}

// Exists implements Store.
func (s *GCSStore) Exists(ctx context.Context, url string) (bool, error) {
	bucket, p := gcs.SplitGSPath(url)
	exists, err := s.client(bucket).DoesFileExist(ctx, p)
	if err != nil {
		return false, skerr.Wrapf(err, "checking %s", url)
	}
	return exists, nil
}

// Copy implements Store.
func (s *GCSStore) Copy(ctx context.Context, url, dst string) error {
	bucket, p := gcs.SplitGSPath(url)
	r, err := s.client(bucket).FileReader(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return skerr.Wrapf(ErrNoSuchKey, "%s", url)
		}
		return skerr.Wrapf(err, "reading %s", url)
	}
	defer util.Close(r)
	if err := util.WithWriteFile(dst, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}); err != nil {
		return skerr.Wrapf(err, "copying %s to %s", url, dst)
	}
	sklog.Infof("Copied %s to %s", url, dst)
	return nil
}

var _ Store = (*GCSStore)(nil)
