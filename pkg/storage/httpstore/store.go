// File: pkg/storage/httpstore/store.go
package httpstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"objstore/internal/local"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"
)

// Store implements storage.ObjectStore against an S3-compatible HTTP
// endpoint. Every operation runs on its own logical thread, with its
// attempts issued one after the other through the retry controller.
type Store struct {
	name         string
	builder      requestBuilder
	transport    *Transport
	doer         HTTPDoer
	retry        *retry.Controller
	strictRanges bool
	timeout      time.Duration
	logger       *slog.Logger
}

var _ storage.ObjectStore = (*Store)(nil)

func New(cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid store url %q: %w", cfg.URL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("store url %q must use http or https", cfg.URL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("store url %q has no host", cfg.URL)
	}

	o := options{name: "http"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.doer == nil {
		// No client timeout: it would also cut off streamed bodies
		o.doer = &http.Client{}
	}

	controller, err := retry.New(cfg.Retry, logger, o.retryOptions...)
	if err != nil {
		return nil, err
	}

	return &Store{
		name:         o.name,
		builder:      newRequestBuilder(base),
		transport:    newTransport(o.doer, cfg, o.decorators),
		doer:         o.doer,
		retry:        controller,
		strictRanges: cfg.StrictRanges,
		timeout:      cfg.Timeout,
		logger:       logger,
	}, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.builder.base.Redacted())
}

func (s *Store) Get(ctx context.Context, location storage.Path) (*storage.GetResult, error) {
	return s.GetOpts(ctx, location, storage.GetOptions{})
}

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

	s.logger.Debug("Getting object", "path", location, "range", options.Range.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (*storage.GetResult, error) {
		return retry.Do(ctx, s.retry, op, func(ctx context.Context, attempt int) (*storage.GetResult, error) {
			req, err := s.builder.get(ctx, location, options)
			if err != nil {
				return nil, err
			}
			resp, err := s.send(ctx, t, req, op, location, false)
			if err != nil {
				return nil, err
			}
			return s.readGet(resp, location, options)
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
	if err := checkPath(storage.OpHead, location); err != nil {
		return storage.ObjectMeta{}, s.fail(storage.OpHead, location, err)
	}

	meta, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.ObjectMeta, error) {
		return retry.Do(ctx, s.retry, storage.OpHead, func(ctx context.Context, attempt int) (storage.ObjectMeta, error) {
			req, err := s.builder.head(ctx, location)
			if err != nil {
				return storage.ObjectMeta{}, err
			}
			resp, err := s.send(ctx, t, req, storage.OpHead, location, false)
			if err != nil {
				return storage.ObjectMeta{}, err
			}
			defer discardResponse(resp)
			return headerMeta(resp, location)
		})
	})
	if err != nil {
		return storage.ObjectMeta{}, s.fail(storage.OpHead, location, err)
	}
	return meta, nil
}

func (s *Store) Put(ctx context.Context, location storage.Path, payload storage.PutPayload) (storage.PutResult, error) {
	return s.PutOpts(ctx, location, payload, storage.PutOptions{})
}

func (s *Store) PutOpts(ctx context.Context, location storage.Path, payload storage.PutPayload, options storage.PutOptions) (storage.PutResult, error) {
	if err := checkPath(storage.OpPut, location); err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	if err := options.Validate(); err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "%v", err))
	}
	if options.Mode == storage.PutUpdate && options.ETag == "" {
		return storage.PutResult{}, s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "update put requires an etag on this store"))
	}

	create := options.Mode == storage.PutCreate
	s.logger.Debug("Putting object", "path", location, "size", payload.Len(), "mode", options.Mode.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.PutResult, error) {
		return retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (storage.PutResult, error) {
			req, err := s.builder.put(ctx, location, payload, options)
			if err != nil {
				return storage.PutResult{}, err
			}
			resp, err := s.send(ctx, t, req, storage.OpPut, location, create)
			if err != nil {
				return storage.PutResult{}, err
			}
			defer discardResponse(resp)
			return storage.PutResult{
				ETag:    resp.Header.Get("ETag"),
				Version: resp.Header.Get(headerVersionID),
			}, nil
		})
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	return res, nil
}

// The store has no multipart protocol, so the parts are sent as a single
// streamed PUT that succeeds or fails as a whole
func (s *Store) PutMultipart(ctx context.Context, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions) (storage.PutResult, error) {
	payload, err := storage.ReadPayload(r, partSize)
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, fmt.Errorf("failed to read upload data: %w", err))
	}
	return s.PutOpts(ctx, location, payload, options)
}

func (s *Store) Delete(ctx context.Context, location storage.Path) error {
	if err := checkPath(storage.OpDelete, location); err != nil {
		return s.fail(storage.OpDelete, location, err)
	}

	s.logger.Debug("Deleting object", "path", location)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpDelete, func(ctx context.Context, attempt int) error {
			req, err := s.builder.delete(ctx, location)
			if err != nil {
				return err
			}
			resp, err := s.send(ctx, t, req, storage.OpDelete, location, false)
			if err != nil {
				return err
			}
			discardResponse(resp)
			return nil
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

// Fetches one listing page. A retried page is requested with the very same
// cursor it was first asked for.
func (s *Store) ListPage(ctx context.Context, prefix storage.Path, delimited bool, cursor string) (storage.ListResult, error) {
	s.logger.Debug("Listing page", "prefix", prefix, "delimited", delimited, "cursor", cursor)
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.ListResult, error) {
		return retry.Do(ctx, s.retry, storage.OpList, func(ctx context.Context, attempt int) (storage.ListResult, error) {
			req, err := s.builder.list(ctx, prefix, delimited, cursor)
			if err != nil {
				return storage.ListResult{}, err
			}
			resp, err := s.send(ctx, t, req, storage.OpList, prefix, false)
			if err != nil {
				return storage.ListResult{}, err
			}
			defer discardResponse(resp)
			return decodeListPage(resp.Body, prefix)
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

func (s *Store) CopyIfNotExists(ctx context.Context, from, to storage.Path) error {
	return s.copy(ctx, from, to, true)
}

func (s *Store) copy(ctx context.Context, from, to storage.Path, ifNotExists bool) error {
	if err := checkPath(storage.OpCopy, from); err != nil {
		return s.fail(storage.OpCopy, from, err)
	}
	if err := checkPath(storage.OpCopy, to); err != nil {
		return s.fail(storage.OpCopy, to, err)
	}

	s.logger.Debug("Copying object", "from", from, "to", to, "if_not_exists", ifNotExists)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpCopy, func(ctx context.Context, attempt int) error {
			req, err := s.builder.copy(ctx, from, to, ifNotExists)
			if err != nil {
				return err
			}
			resp, err := s.send(ctx, t, req, storage.OpCopy, to, ifNotExists)
			if err != nil {
				// A copy is only ever missing its source
				var se *storage.Error
				if errors.As(err, &se) && se.Kind == storage.KindNotFound {
					se.Path = from
				}
				return err
			}
			defer discardResponse(resp)

			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			if err != nil {
				return storage.FromTransport(err, storage.OpCopy, to)
			}
			if doc, failed := embeddedError(raw); failed {
				return &storage.Error{
					Kind:      storage.KindGeneric,
					Op:        storage.OpCopy,
					Path:      to,
					Status:    resp.StatusCode,
					Transient: true,
					Err:       fmt.Errorf("%s: %s", doc.Code, doc.Message),
				}
			}
			return nil
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

func (s *Store) Close() error {
	if c, ok := s.doer.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

// Issues req on t and waits for it. Any response outside 2xx is turned into
// a storage error and released.
func (s *Store) send(ctx context.Context, t *local.Thread, req *http.Request, op storage.Op, location storage.Path, create bool) (*http.Response, error) {
	resp, err := s.transport.Issue(t, req).Await(ctx, t)
	if err != nil {
		var se *storage.Error
		if errors.As(err, &se) {
			if se.Path == "" {
				se.Path = location
			}
			if se.Op == "" {
				se.Op = op
			}
			return nil, err
		}
		return nil, storage.FromTransport(err, op, location)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return nil, responseError(resp, op, location, create)
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
