package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.chromium.org/chromite/go/skerr"
	"google.golang.org/api/iterator"
)

// GCSClient is the read-only view of one Google Cloud Storage bucket used to
// find and fetch published artifacts. The bucket is fixed at creation time.
// See also mocks.GCSClient for mocking this in unit tests.
type GCSClient interface {
	// FileReader returns an io.ReadCloser for the object at path.
	// storage.ErrObjectNotExist is returned if there is no such object. The
	// caller must Close the reader.
	FileReader(ctx context.Context, path string) (io.ReadCloser, error)
	// DoesFileExist reports whether the object at path exists. Errors other
	// than storage.ErrObjectNotExist are returned.
	DoesFileExist(ctx context.Context, path string) (bool, error)
	// AllFilesInDirectory calls callback for every object whose name starts
	// with prefix, stopping at the first error.
	AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error
}

type gcsclient struct {
	client *storage.Client
	bucket string
}

// NewGCSClient returns a GCSClient for bucket.
func NewGCSClient(s *storage.Client, bucket string) GCSClient {
	return &gcsclient{
		client: s,
		bucket: bucket,
	}
}

func (g *gcsclient) FileReader(ctx context.Context, path string) (io.ReadCloser, error) {
	return g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
}

func (g *gcsclient) DoesFileExist(ctx context.Context, path string) (bool, error) {
	if _, err := g.client.Bucket(g.bucket).Object(path).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, skerr.Wrapf(err, "checking %s", GSURL(g.bucket, path))
	}
	return true, nil
}

func (g *gcsclient) AllFilesInDirectory(ctx context.Context, prefix string, callback func(item *storage.ObjectAttrs) error) error {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for obj, err := it.Next(); err != iterator.Done; obj, err = it.Next() {
		if err != nil {
			return skerr.Wrapf(err, "listing %s", GSURL(g.bucket, prefix))
		}
		if err := callback(obj); err != nil {
			return err
		}
	}
	return nil
}

// SplitGSPath takes a GCS path and splits it into a <bucket, path> pair.
// It assumes the format: {bucket_name}/{path_within_bucket}, optionally
// prefixed with "gs://".
func SplitGSPath(path string) (string, string) {
	path = strings.TrimPrefix(path, "gs://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) > 1 {
		return parts[0], parts[1]
	}
	return path, ""
}

// GSURL is the inverse of SplitGSPath.
func GSURL(bucket, path string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(path, "/"))
}
