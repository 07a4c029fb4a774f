// File: pkg/storage/httpstore/transport.go
package httpstore

import (
	"fmt"
	"io"
	"net/http"

	"objstore/internal/local"
	"objstore/pkg/storage"

	"golang.org/x/time/rate"
)

// HTTPDoer is the host HTTP primitive: it performs exactly one request.
// *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Runs on every outgoing request after default headers are applied. This is
// where provider signing plugs in; a returned error aborts the request.
type RequestDecorator func(req *http.Request) error

// Transport issues single requests on behalf of a logical thread. It never
// retries; that is left to the caller.
type Transport struct {
	doer       HTTPDoer
	limiter    *rate.Limiter
	headers    http.Header
	userAgent  string
	decorators []RequestDecorator
}

func newTransport(doer HTTPDoer, cfg Config, decorators []RequestDecorator) *Transport {
	t := &Transport{
		doer:       doer,
		headers:    make(http.Header, len(cfg.Headers)),
		userAgent:  cfg.UserAgent,
		decorators: decorators,
	}
	for k, v := range cfg.Headers {
		t.headers.Set(k, v)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// Starts req on behalf of th. The returned handle can only be awaited on th.
func (t *Transport) Issue(th *local.Thread, req *http.Request) *local.Pending[*http.Response] {
	return local.Spawn(th, func() (*http.Response, error) {
		return t.do(req)
	}, discardResponse)
}

func (t *Transport) do(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	for k, vs := range t.headers {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	for _, decorate := range t.decorators {
		if err := decorate(req); err != nil {
			return nil, &storage.Error{Kind: storage.KindGeneric, Err: fmt.Errorf("failed to decorate request: %w", err)}
		}
	}

	return t.doer.Do(req)
}

// Releases a response nobody is waiting for anymore
func discardResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
}
