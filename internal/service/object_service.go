// File: internal/service/object_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"objstore/internal/provider/factory"
	"objstore/pkg/storage"

	"golang.org/x/sync/errgroup"
)

// Part size used when the caller does not pick one
const DefaultPartSize = 8 * 1024 * 1024

// Deletes in flight during a recursive remove
const defaultDeleteConcurrency = 16

// Resolves a storage URL to an initialized store
type Resolver interface {
	FromURL(ctx context.Context, raw string) (factory.Target, error)
}

type ObjectService struct {
	resolver    Resolver
	concurrency int
	logger      *slog.Logger
}

func NewObjectService(resolver Resolver, logger *slog.Logger) *ObjectService {
	return &ObjectService{
		resolver:    resolver,
		concurrency: defaultDeleteConcurrency,
		logger:      logger.With("service", "ObjectService"),
	}
}

type PutRequest struct {
	// Fail instead of replacing an existing object
	IfNotExists bool
	// Zero uses DefaultPartSize
	PartSize    int64
	ContentType string
	Tags        map[string]string
}

// Total size of the objects below a URL. Objects is -1 when the figure
// came from provider metrics rather than a listing.
type Usage struct {
	Bytes   int64
	Objects int64
	Source  string
}

const (
	UsageFromMetrics = "metrics"
	UsageFromListing = "listing"
)

// Helper to resolve the URL and handle common error logging
func (s *ObjectService) open(ctx context.Context, raw string) (factory.Target, error) {
	target, err := s.resolver.FromURL(ctx, raw)
	if err != nil {
		s.logger.Error("Failed to resolve storage url", "url", raw, "error", err)
		return factory.Target{}, fmt.Errorf("error initializing provider: %w", err)
	}
	return target, nil
}

func closeTarget(target factory.Target) {
	_ = target.Store.Close()
}

// Streams the object (or the requested range of it) into w
func (s *ObjectService) Get(ctx context.Context, raw string, w io.Writer, rng storage.GetRange) (storage.ObjectMeta, int64, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return storage.ObjectMeta{}, 0, err
	}
	defer closeTarget(target)

	s.logger.Debug("Starting Get operation", "url", raw, "range", rng.String())
	res, err := target.Store.GetOpts(ctx, target.Path, storage.GetOptions{Range: rng})
	if err != nil {
		return storage.ObjectMeta{}, 0, err
	}
	defer res.Close()

	n, err := io.Copy(w, res)
	if err != nil {
		s.logger.Error("Failed to read object", "url", raw, "error", err)
		return res.Meta, n, fmt.Errorf("error reading %s: %w", target.Path, err)
	}
	return res.Meta, n, nil
}

func (s *ObjectService) Head(ctx context.Context, raw string) (storage.ObjectMeta, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return storage.ObjectMeta{}, err
	}
	defer closeTarget(target)

	s.logger.Debug("Starting Head operation", "url", raw)
	return target.Store.Head(ctx, target.Path)
}

// Uploads r. A reader of known size up to the part size goes up in one
// request; anything else is streamed as a multipart upload. size is -1 when
// unknown.
func (s *ObjectService) Put(ctx context.Context, raw string, r io.Reader, size int64, req PutRequest) (storage.PutResult, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return storage.PutResult{}, err
	}
	defer closeTarget(target)

	opts := storage.PutOptions{ContentType: req.ContentType, Tags: req.Tags}
	if req.IfNotExists {
		opts.Mode = storage.PutCreate
	}
	partSize := req.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}

	s.logger.Debug("Starting Put operation", "url", raw, "size", size, "part_size", partSize, "mode", opts.Mode.String())
	if size >= 0 && size <= partSize {
		data, err := io.ReadAll(r)
		if err != nil {
			return storage.PutResult{}, fmt.Errorf("error reading upload data: %w", err)
		}
		return target.Store.PutOpts(ctx, target.Path, storage.NewPayload(data), opts)
	}
	return target.Store.PutMultipart(ctx, target.Path, r, partSize, opts)
}

// Lists the objects below a URL. A recursive listing walks every object;
// otherwise one level of the hierarchy is returned with its common prefixes.
func (s *ObjectService) List(ctx context.Context, raw string, recursive bool) (storage.ListResult, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return storage.ListResult{}, err
	}
	defer closeTarget(target)

	s.logger.Debug("Starting List operation", "url", raw, "recursive", recursive)
	if !recursive {
		return target.Store.ListWithDelimiter(ctx, target.Path)
	}
	objects, err := storage.CollectList(target.Store.List(ctx, target.Path))
	if err != nil {
		return storage.ListResult{}, err
	}
	return storage.ListResult{Objects: objects}, nil
}

// Deletes the object at a URL or, recursively, every object below it.
// Returns the number of objects deleted; objects already gone count as
// deleted.
func (s *ObjectService) Remove(ctx context.Context, raw string, recursive bool) (int, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return 0, err
	}
	defer closeTarget(target)

	if !recursive {
		s.logger.Debug("Starting Remove operation", "url", raw)
		if err := target.Store.Delete(ctx, target.Path); err != nil {
			return 0, err
		}
		return 1, nil
	}

	objects, err := storage.CollectList(target.Store.List(ctx, target.Path))
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Starting recursive Remove operation", "url", raw, "objects", len(objects))

	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, obj := range objects {
		g.Go(func() error {
			err := target.Store.Delete(gctx, obj.Location)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.logger.Error("Failed to delete object", "path", obj.Location, "error", err)
				return fmt.Errorf("error deleting %s: %w", obj.Location, err)
			}
			deleted.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(deleted.Load()), err
}

// Copies between two URLs. Within one store the copy is server-side;
// across stores the object is streamed from one to the other.
func (s *ObjectService) Copy(ctx context.Context, srcURL, dstURL string, ifNotExists bool) error {
	src, dst, err := s.openPair(ctx, srcURL, dstURL)
	if err != nil {
		return err
	}
	defer closeTarget(src)
	defer closeTarget(dst)

	s.logger.Debug("Starting Copy operation", "from", srcURL, "to", dstURL, "if_not_exists", ifNotExists)
	if sameStore(src, dst) {
		if ifNotExists {
			return src.Store.CopyIfNotExists(ctx, src.Path, dst.Path)
		}
		return src.Store.Copy(ctx, src.Path, dst.Path)
	}
	return s.transfer(ctx, src, dst, ifNotExists)
}

// Moves between two URLs: a rename within one store, otherwise a copy
// followed by deleting the source once the copy succeeded
func (s *ObjectService) Move(ctx context.Context, srcURL, dstURL string, ifNotExists bool) error {
	src, dst, err := s.openPair(ctx, srcURL, dstURL)
	if err != nil {
		return err
	}
	defer closeTarget(src)
	defer closeTarget(dst)

	s.logger.Debug("Starting Move operation", "from", srcURL, "to", dstURL, "if_not_exists", ifNotExists)
	if sameStore(src, dst) {
		if ifNotExists {
			return src.Store.RenameIfNotExists(ctx, src.Path, dst.Path)
		}
		return src.Store.Rename(ctx, src.Path, dst.Path)
	}
	if err := s.transfer(ctx, src, dst, ifNotExists); err != nil {
		return err
	}
	return src.Store.Delete(ctx, src.Path)
}

// Opens both ends of a copy. A destination naming a store root receives
// the source's file name.
func (s *ObjectService) openPair(ctx context.Context, srcURL, dstURL string) (factory.Target, factory.Target, error) {
	src, err := s.open(ctx, srcURL)
	if err != nil {
		return factory.Target{}, factory.Target{}, err
	}
	dst, err := s.open(ctx, dstURL)
	if err != nil {
		closeTarget(src)
		return factory.Target{}, factory.Target{}, err
	}
	if dst.Path.IsRoot() {
		dst.Path = storage.Path(src.Path.Filename())
	}
	return src, dst, nil
}

func sameStore(a, b factory.Target) bool {
	return a.Provider == b.Provider && fmt.Sprint(a.Store) == fmt.Sprint(b.Store)
}

func (s *ObjectService) transfer(ctx context.Context, src, dst factory.Target, ifNotExists bool) error {
	res, err := src.Store.Get(ctx, src.Path)
	if err != nil {
		return err
	}
	defer res.Close()

	opts := storage.PutOptions{}
	if ifNotExists {
		opts.Mode = storage.PutCreate
	}
	if _, err := dst.Store.PutMultipart(ctx, dst.Path, res, DefaultPartSize, opts); err != nil {
		s.logger.Error("Failed to transfer object", "from", src.Path, "to", dst.Path, "error", err)
		return err
	}
	return nil
}

// Reports how many bytes live below a URL. For a whole store, provider
// metrics are preferred when the store offers them; otherwise the objects
// are listed and summed.
func (s *ObjectService) Usage(ctx context.Context, raw string) (Usage, error) {
	target, err := s.open(ctx, raw)
	if err != nil {
		return Usage{}, err
	}
	defer closeTarget(target)

	if reporter, ok := target.Store.(storage.UsageReporter); ok && target.Path.IsRoot() {
		bytes, err := reporter.Usage(ctx)
		if err == nil {
			return Usage{Bytes: bytes, Objects: -1, Source: UsageFromMetrics}, nil
		}
		if !errors.Is(err, storage.ErrNotSupported) {
			return Usage{}, err
		}
		s.logger.Debug("Usage metrics unavailable, listing objects instead", "url", raw, "error", err)
	}

	usage := Usage{Source: UsageFromListing}
	for obj, err := range target.Store.List(ctx, target.Path) {
		if err != nil {
			return Usage{}, err
		}
		usage.Bytes += obj.Size
		usage.Objects++
	}
	return usage, nil
}
