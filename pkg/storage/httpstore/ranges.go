// File: pkg/storage/httpstore/ranges.go
package httpstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"objstore/pkg/storage"
)

// Turns a successful GET response into a result whose body holds exactly the
// requested bytes. resp.Body is owned by the result, or closed on error.
func (s *Store) readGet(resp *http.Response, location storage.Path, opts storage.GetOptions) (*storage.GetResult, error) {
	meta, err := headerMeta(resp, location)
	if err != nil {
		discardResponse(resp)
		return nil, err
	}

	if opts.Head || resp.Request != nil && resp.Request.Method == http.MethodHead {
		discardResponse(resp)
		return storage.NewGetResult(meta, storage.ByteRange{}, nil), nil
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return s.readPartial(resp, meta, opts.Range)
	case http.StatusOK:
		if opts.Range.IsFull() {
			body := verifyLength(resp.Body, meta.Size, location)
			return storage.NewGetResult(meta, storage.ByteRange{Start: 0, End: meta.Size}, body), nil
		}
		return s.sliceFull(resp, meta, opts.Range)
	}

	discardResponse(resp)
	return nil, storage.ProtocolError(storage.OpGet, location, "unexpected status %d for get", resp.StatusCode)
}

// A 206 response: the returned span must start where it was asked to and
// the body must be as long as the span it announces
func (s *Store) readPartial(resp *http.Response, meta storage.ObjectMeta, requested storage.GetRange) (*storage.GetResult, error) {
	location := meta.Location
	cr, err := storage.ParseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		discardResponse(resp)
		return nil, storage.ProtocolError(storage.OpGet, location, "%v", err)
	}
	if !cr.Matches(requested) {
		discardResponse(resp)
		return nil, storage.ProtocolError(storage.OpGet, location, "server returned bytes %d-%d for requested range %s", cr.Start, cr.End, requested)
	}
	meta.Size = cr.ObjectSize()

	body := verifyLength(resp.Body, cr.Len(), location)
	return storage.NewGetResult(meta, cr.Bytes(), body), nil
}

// A 200 response to a ranged request: the server ignored the range. Strict
// stores refuse; lenient stores cut the range out of the full body while
// streaming it.
func (s *Store) sliceFull(resp *http.Response, meta storage.ObjectMeta, requested storage.GetRange) (*storage.GetResult, error) {
	location := meta.Location
	if s.strictRanges {
		discardResponse(resp)
		return nil, &storage.Error{
			Kind: storage.KindNotSupported,
			Op:   storage.OpGet,
			Path: location,
			Err:  fmt.Errorf("server ignored range %s and returned the full object", requested),
		}
	}

	resolved, err := requested.Resolve(meta.Size)
	if err != nil {
		discardResponse(resp)
		var se *storage.Error
		if errors.As(err, &se) {
			se.Op, se.Path, se.Status = storage.OpGet, location, resp.StatusCode
		}
		return nil, err
	}

	s.logger.Debug("Server ignored range request, slicing locally", "path", location, "range", requested.String(), "size", meta.Size)
	body := &slicedBody{
		rc:        verifyLength(resp.Body, meta.Size, location),
		skip:      resolved.Start,
		remaining: resolved.Len(),
		location:  location,
	}
	return storage.NewGetResult(meta, resolved, body), nil
}

// Fails the read with a protocol error when the body ends before or runs
// past the expected length
type lengthVerifier struct {
	rc       io.ReadCloser
	want     int64
	read     int64
	location storage.Path
}

func verifyLength(rc io.ReadCloser, want int64, location storage.Path) io.ReadCloser {
	return &lengthVerifier{rc: rc, want: want, location: location}
}

func (v *lengthVerifier) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.read += int64(n)
	if v.read > v.want {
		return n, storage.ProtocolError(storage.OpGet, v.location, "body is longer than the announced %d bytes", v.want)
	}
	if err == io.EOF && v.read < v.want {
		return n, storage.ProtocolError(storage.OpGet, v.location, "body ended after %d of %d bytes", v.read, v.want)
	}
	return n, err
}

func (v *lengthVerifier) Close() error {
	return v.rc.Close()
}

// Skips the leading bytes of a full body, then yields at most remaining bytes
type slicedBody struct {
	rc        io.ReadCloser
	skip      int64
	remaining int64
	location  storage.Path
}

func (b *slicedBody) Read(p []byte) (int, error) {
	if b.skip > 0 {
		n, err := io.CopyN(io.Discard, b.rc, b.skip)
		b.skip -= n
		if err != nil {
			if err == io.EOF {
				return 0, storage.ProtocolError(storage.OpGet, b.location, "body ended before the requested range")
			}
			return 0, err
		}
	}
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if err == io.EOF && b.remaining > 0 {
		return n, storage.ProtocolError(storage.OpGet, b.location, "body ended inside the requested range")
	}
	if err == nil && b.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (b *slicedBody) Close() error {
	return b.rc.Close()
}
