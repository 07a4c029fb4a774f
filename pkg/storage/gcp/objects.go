// File: pkg/storage/gcp/objects.go
package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"objstore/internal/local"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"

	gcpstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Objects per listing page
const listPageSize = 1000

func closeBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

func (s *Store) Get(ctx context.Context, location storage.Path) (*storage.GetResult, error) {
	return s.GetOpts(ctx, location, storage.GetOptions{})
}

// Reads the object's attributes first and then opens a reader pinned to
// that generation, so the body always matches the returned metadata
func (s *Store) GetOpts(ctx context.Context, location storage.Path, options storage.GetOptions) (*storage.GetResult, error) {
	op := storage.OpGet
	if options.Head {
		op = storage.OpHead
	}
	if err := checkPath(op, location); err != nil {
		return nil, s.fail(op, location, err)
	}
	if err := options.Validate(); err != nil {
		return nil, s.fail(op, location, storage.InvalidInput(op, location, "%v", err))
	}
	generation, err := parseGeneration(options.Version)
	if err != nil {
		return nil, s.fail(op, location, storage.InvalidInput(op, location, "%v", err))
	}
	key := string(location)

	s.logger.Debug("Getting object", "path", location, "range", options.Range.String(), "head", options.Head)
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (*storage.GetResult, error) {
		return retry.Do(ctx, s.retry, op, func(ctx context.Context, attempt int) (*storage.GetResult, error) {
			attrs, err := local.Call(ctx, t, func(ctx context.Context) (*gcpstorage.ObjectAttrs, error) {
				return s.api.Attrs(ctx, key, generation)
			}, nil)
			if err != nil {
				return nil, mapError(err, op, location, false)
			}
			meta := mapObjectAttributes(location, attrs)
			if err := checkConditions(meta, options); err != nil {
				return nil, storage.Annotate(err, "", op)
			}
			if options.Head {
				return storage.NewGetResult(meta, storage.ByteRange{}, nil), nil
			}

			rng, err := options.Range.Resolve(meta.Size)
			if err != nil {
				var se *storage.Error
				if errors.As(err, &se) {
					se.Op, se.Path = op, location
				}
				return nil, err
			}
			length := rng.Len()
			if options.Range.IsFull() {
				length = -1
			}

			body, err := local.Call(ctx, t, func(ctx context.Context) (io.ReadCloser, error) {
				return s.api.NewRangeReader(ctx, key, attrs.Generation, rng.Start, length)
			}, closeBody)
			if err != nil {
				return nil, mapError(err, op, location, false)
			}
			return storage.NewGetResult(meta, rng, body), nil
		})
	})
	if err != nil {
		return nil, s.fail(op, location, err)
	}
	return res, nil
}

func (s *Store) GetRange(ctx context.Context, location storage.Path, r storage.ByteRange) ([]byte, error) {
	if r.Start < 0 || r.Start >= r.End {
		return nil, s.fail(storage.OpGet, location, storage.InvalidInput(storage.OpGet, location, "range %s is empty or negative", r))
	}
	return storage.ReadRange(ctx, s, location, r)
}

func (s *Store) GetRanges(ctx context.Context, location storage.Path, ranges []storage.ByteRange) ([][]byte, error) {
	return storage.ReadRanges(ctx, s, location, ranges)
}

func (s *Store) Head(ctx context.Context, location storage.Path) (storage.ObjectMeta, error) {
	res, err := s.GetOpts(ctx, location, storage.GetOptions{Head: true})
	if err != nil {
		return storage.ObjectMeta{}, err
	}
	return res.Meta, nil
}

func (s *Store) Put(ctx context.Context, location storage.Path, payload storage.PutPayload) (storage.PutResult, error) {
	return s.PutOpts(ctx, location, payload, storage.PutOptions{})
}

func (s *Store) PutOpts(ctx context.Context, location storage.Path, payload storage.PutPayload, options storage.PutOptions) (storage.PutResult, error) {
	if err := s.checkPut(location, options); err != nil {
		return storage.PutResult{}, err
	}

	create := options.Mode == storage.PutCreate
	data := payload.Bytes()
	s.logger.Debug("Putting object", "path", location, "size", len(data), "mode", options.Mode.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.PutResult, error) {
		conds, err := s.putConditions(ctx, t, location, options)
		if err != nil {
			return storage.PutResult{}, err
		}
		spec := writeSpec{conds: conds, contentType: options.ContentType, metadata: options.Tags}

		return retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (storage.PutResult, error) {
			attrs, err := local.Call(ctx, t, func(ctx context.Context) (*gcpstorage.ObjectAttrs, error) {
				return s.api.Write(ctx, string(location), bytes.NewReader(data), spec)
			}, nil)
			if err != nil {
				return storage.PutResult{}, mapError(err, storage.OpPut, location, create)
			}
			return putResult(location, attrs), nil
		})
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	return res, nil
}

func putResult(location storage.Path, attrs *gcpstorage.ObjectAttrs) storage.PutResult {
	if attrs == nil {
		return storage.PutResult{}
	}
	meta := mapObjectAttributes(location, attrs)
	return storage.PutResult{ETag: meta.ETag, Version: meta.Version}
}

func (s *Store) checkPut(location storage.Path, options storage.PutOptions) error {
	if err := checkPath(storage.OpPut, location); err != nil {
		return s.fail(storage.OpPut, location, err)
	}
	if err := options.Validate(); err != nil {
		return s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "%v", err))
	}
	if _, err := parseGeneration(options.Version); err != nil {
		return s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "%v", err))
	}
	return nil
}

// Translates the put mode into write preconditions. An update by ETag is
// resolved to the generation currently carrying that ETag.
func (s *Store) putConditions(ctx context.Context, t *local.Thread, location storage.Path, options storage.PutOptions) (*gcpstorage.Conditions, error) {
	switch options.Mode {
	case storage.PutCreate:
		return &gcpstorage.Conditions{DoesNotExist: true}, nil
	case storage.PutUpdate:
	default:
		return nil, nil
	}

	if options.Version != "" {
		gen, _ := parseGeneration(options.Version)
		return &gcpstorage.Conditions{GenerationMatch: gen}, nil
	}

	attrs, err := retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (*gcpstorage.ObjectAttrs, error) {
		attrs, err := local.Call(ctx, t, func(ctx context.Context) (*gcpstorage.ObjectAttrs, error) {
			return s.api.Attrs(ctx, string(location), 0)
		}, nil)
		return attrs, mapError(err, storage.OpPut, location, false)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &storage.Error{Kind: storage.KindPrecondition, Op: storage.OpPut, Path: location, Err: errors.New("object does not exist")}
	}
	if err != nil {
		return nil, err
	}
	if !sameETag(attrs.Etag, options.ETag) {
		return nil, &storage.Error{Kind: storage.KindPrecondition, Op: storage.OpPut, Path: location, Err: fmt.Errorf("etag %q does not match %q", attrs.Etag, options.ETag)}
	}
	return &gcpstorage.Conditions{GenerationMatch: attrs.Generation}, nil
}

// Streams r through a resumable upload in chunks of partSize, rounded up to
// the upload chunk granularity. The reader cannot be rewound, so a failed
// upload is not retried; it is abandoned uncommitted.
func (s *Store) PutMultipart(ctx context.Context, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions) (storage.PutResult, error) {
	if err := s.checkPut(location, options); err != nil {
		return storage.PutResult{}, err
	}
	if partSize == 0 {
		partSize = googleapi.DefaultUploadChunkSize
	}
	if partSize < storage.MinPartSize {
		return storage.PutResult{}, s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "part size %d is below the %d byte minimum", partSize, storage.MinPartSize))
	}
	chunk := chunkSize(partSize)
	create := options.Mode == storage.PutCreate

	s.logger.Debug("Uploading object", "path", location, "chunk_size", chunk, "mode", options.Mode.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.PutResult, error) {
		conds, err := s.putConditions(ctx, t, location, options)
		if err != nil {
			return storage.PutResult{}, err
		}
		spec := writeSpec{conds: conds, contentType: options.ContentType, metadata: options.Tags, chunkSize: chunk}

		attrs, err := local.Call(ctx, t, func(ctx context.Context) (*gcpstorage.ObjectAttrs, error) {
			return s.api.Write(ctx, string(location), r, spec)
		}, nil)
		if err != nil {
			return storage.PutResult{}, mapError(err, storage.OpPut, location, create)
		}
		return putResult(location, attrs), nil
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	return res, nil
}

// Rounds up to a multiple of the minimum upload chunk
func chunkSize(partSize int64) int {
	const unit = googleapi.MinUploadChunkSize
	return int((partSize + unit - 1) / unit * unit)
}

func (s *Store) Delete(ctx context.Context, location storage.Path) error {
	if err := checkPath(storage.OpDelete, location); err != nil {
		return s.fail(storage.OpDelete, location, err)
	}

	s.logger.Debug("Deleting object", "path", location)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpDelete, func(ctx context.Context, attempt int) error {
			_, err := local.Call(ctx, t, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.api.Delete(ctx, string(location))
			}, nil)
			return mapError(err, storage.OpDelete, location, false)
		})
	})
	if err != nil {
		return s.fail(storage.OpDelete, location, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix storage.Path) iter.Seq2[storage.ObjectMeta, error] {
	return storage.WalkPages(ctx, s, prefix)
}

func (s *Store) ListWithDelimiter(ctx context.Context, prefix storage.Path) (storage.ListResult, error) {
	return storage.CollectDelimited(ctx, s, prefix)
}

func (s *Store) ListPage(ctx context.Context, prefix storage.Path, delimited bool, cursor string) (storage.ListResult, error) {
	query := &gcpstorage.Query{Prefix: prefix.DirPrefix()}
	if delimited {
		query.Delimiter = storage.Delimiter
	}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Updated", "Etag", "MD5", "Generation"}); err != nil {
		return storage.ListResult{}, s.fail(storage.OpList, prefix, err)
	}

	s.logger.Debug("Listing page", "prefix", prefix, "delimited", delimited, "cursor", cursor)
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.ListResult, error) {
		return retry.Do(ctx, s.retry, storage.OpList, func(ctx context.Context, attempt int) (storage.ListResult, error) {
			type page struct {
				attrs []*gcpstorage.ObjectAttrs
				next  string
			}
			p, err := local.Call(ctx, t, func(ctx context.Context) (page, error) {
				attrs, next, err := s.api.ListPage(ctx, query, listPageSize, cursor)
				return page{attrs: attrs, next: next}, err
			}, nil)
			if err != nil {
				return storage.ListResult{}, mapError(err, storage.OpList, prefix, false)
			}
			return mapListPage(p.attrs, p.next, prefix), nil
		})
	})
	if err != nil {
		return storage.ListResult{}, s.fail(storage.OpList, prefix, err)
	}
	return res, nil
}

func (s *Store) Copy(ctx context.Context, from, to storage.Path) error {
	return s.copy(ctx, from, to, false)
}

// Server-side copy with a does-not-exist precondition on the destination
func (s *Store) CopyIfNotExists(ctx context.Context, from, to storage.Path) error {
	return s.copy(ctx, from, to, true)
}

func (s *Store) copy(ctx context.Context, from, to storage.Path, ifAbsent bool) error {
	if err := checkPath(storage.OpCopy, from); err != nil {
		return s.fail(storage.OpCopy, from, err)
	}
	if err := checkPath(storage.OpCopy, to); err != nil {
		return s.fail(storage.OpCopy, to, err)
	}

	s.logger.Debug("Copying object", "from", from, "to", to, "if_absent", ifAbsent)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpCopy, func(ctx context.Context, attempt int) error {
			_, err := local.Call(ctx, t, func(ctx context.Context) (*gcpstorage.ObjectAttrs, error) {
				return s.api.Copy(ctx, string(from), string(to), ifAbsent)
			}, nil)
			return mapError(err, storage.OpCopy, to, ifAbsent)
		})
	})
	if err != nil {
		return s.fail(storage.OpCopy, to, err)
	}
	return nil
}

func (s *Store) Rename(ctx context.Context, from, to storage.Path) error {
	return s.fail(storage.OpRename, from, storage.RenameByCopy(ctx, s, from, to, false))
}

func (s *Store) RenameIfNotExists(ctx context.Context, from, to storage.Path) error {
	return s.fail(storage.OpRename, from, storage.RenameByCopy(ctx, s, from, to, true))
}

// Normalizes any failure leaving the store into a *storage.Error carrying
// the store's name. Nil stays nil.
func (s *Store) fail(op storage.Op, location storage.Path, err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if !errors.As(err, &se) {
		return &storage.Error{Kind: storage.KindGeneric, Store: s.name, Op: op, Path: location, Err: err}
	}
	return storage.Annotate(err, s.name, op)
}

func checkPath(op storage.Op, location storage.Path) error {
	if location.IsRoot() {
		return storage.InvalidInput(op, location, "object path is empty")
	}
	return nil
}
