package storage

import (
	"errors"
	"io"
	"iter"
	"sync"
)

// Size of the chunks handed out by GetResult.Chunks
const DefaultChunkSize = 64 * 1024

var errConsumed = errors.New("object body already consumed; issue a new get to read it again")

// GetResult is the outcome of a get: the object's metadata, the byte range
// that was returned and the body. The body is a finite, single-pass stream;
// reading it again requires a new request.
type GetResult struct {
	Meta ObjectMeta
	// The bytes of the object covered by the body, half-open
	Range ByteRange

	body     io.ReadCloser
	taken    bool
	release  func()
	closeErr error
	once     sync.Once
}

func NewGetResult(meta ObjectMeta, rng ByteRange, body io.ReadCloser) *GetResult {
	if body == nil {
		body = io.NopCloser(eofReader{})
	}
	return &GetResult{Meta: meta, Range: rng, body: body}
}

// Registers a function run once when the body is closed. Used to keep the
// request's context alive for as long as the body is being read.
func (r *GetResult) AttachRelease(release func()) {
	r.release = release
}

func (r *GetResult) Read(p []byte) (int, error) {
	return r.body.Read(p)
}

func (r *GetResult) Close() error {
	r.once.Do(func() {
		r.closeErr = r.body.Close()
		if r.release != nil {
			r.release()
		}
	})
	return r.closeErr
}

// Reads the remaining body and closes it
func (r *GetResult) Bytes() ([]byte, error) {
	if err := r.take(); err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r.body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Yields the body in chunks of at most DefaultChunkSize bytes and closes it
// once the sequence ends. The sequence can only be ranged over once.
func (r *GetResult) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if err := r.take(); err != nil {
			yield(nil, err)
			return
		}
		defer r.Close()

		buf := make([]byte, DefaultChunkSize)
		for {
			n, err := r.body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (r *GetResult) take() error {
	if r.taken {
		return &Error{Kind: KindGeneric, Path: r.Meta.Location, Err: errConsumed}
	}
	r.taken = true
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
