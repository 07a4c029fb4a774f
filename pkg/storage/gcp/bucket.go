// File: pkg/storage/gcp/bucket.go
package gcp

import (
	"context"
	"io"

	gcpstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// The slice of the GCS client the store drives. Generation zero addresses
// the live object.
type bucketAPI interface {
	Attrs(ctx context.Context, key string, generation int64) (*gcpstorage.ObjectAttrs, error)
	NewRangeReader(ctx context.Context, key string, generation, offset, length int64) (io.ReadCloser, error)
	Write(ctx context.Context, key string, r io.Reader, spec writeSpec) (*gcpstorage.ObjectAttrs, error)
	Delete(ctx context.Context, key string) error
	ListPage(ctx context.Context, query *gcpstorage.Query, pageSize int, token string) ([]*gcpstorage.ObjectAttrs, string, error)
	Copy(ctx context.Context, from, to string, ifAbsent bool) (*gcpstorage.ObjectAttrs, error)
}

type writeSpec struct {
	// Nil writes unconditionally
	conds       *gcpstorage.Conditions
	contentType string
	metadata    map[string]string
	// Zero sends the object in a single request
	chunkSize int
}

type bucketHandle struct {
	bucket *gcpstorage.BucketHandle
}

func (h *bucketHandle) object(key string, generation int64) *gcpstorage.ObjectHandle {
	obj := h.bucket.Object(key)
	if generation > 0 {
		obj = obj.Generation(generation)
	}
	return obj
}

func (h *bucketHandle) Attrs(ctx context.Context, key string, generation int64) (*gcpstorage.ObjectAttrs, error) {
	return h.object(key, generation).Attrs(ctx)
}

func (h *bucketHandle) NewRangeReader(ctx context.Context, key string, generation, offset, length int64) (io.ReadCloser, error) {
	return h.object(key, generation).NewRangeReader(ctx, offset, length)
}

// Cancelling the writer's context is the only way to abandon an upload
// without committing it
func (h *bucketHandle) Write(ctx context.Context, key string, r io.Reader, spec writeSpec) (*gcpstorage.ObjectAttrs, error) {
	obj := h.bucket.Object(key)
	if spec.conds != nil {
		obj = obj.If(*spec.conds)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(wctx)
	w.ChunkSize = spec.chunkSize
	w.ContentType = spec.contentType
	w.Metadata = spec.metadata

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Attrs(), nil
}

func (h *bucketHandle) Delete(ctx context.Context, key string) error {
	return h.bucket.Object(key).Delete(ctx)
}

func (h *bucketHandle) ListPage(ctx context.Context, query *gcpstorage.Query, pageSize int, token string) ([]*gcpstorage.ObjectAttrs, string, error) {
	var page []*gcpstorage.ObjectAttrs
	next, err := iterator.NewPager(h.bucket.Objects(ctx, query), pageSize, token).NextPage(&page)
	if err != nil {
		return nil, "", err
	}
	return page, next, nil
}

func (h *bucketHandle) Copy(ctx context.Context, from, to string, ifAbsent bool) (*gcpstorage.ObjectAttrs, error) {
	dst := h.bucket.Object(to)
	if ifAbsent {
		dst = dst.If(gcpstorage.Conditions{DoesNotExist: true})
	}
	return dst.CopierFrom(h.bucket.Object(from)).Run(ctx)
}
