// File: pkg/storage/httpstore/request.go
package httpstore

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"objstore/pkg/storage"
)

const (
	headerCopySource = "X-Amz-Copy-Source"
	headerTagging    = "X-Amz-Tagging"
	headerVersionID  = "X-Amz-Version-Id"
	queryVersionID   = "versionId"
)

// Maps storage operations onto requests against an S3-compatible base URL.
// Building never touches the network.
type requestBuilder struct {
	base *url.URL
}

func newRequestBuilder(base *url.URL) requestBuilder {
	b := *base
	b.RawQuery = ""
	b.Fragment = ""
	return requestBuilder{base: &b}
}

// Each path segment is percent-encoded on its own, so "/" inside a key is
// never produced by escaping.
func (b requestBuilder) objectURL(p storage.Path) *url.URL {
	u := *b.base
	plain := strings.TrimSuffix(b.base.Path, "/")
	escaped := strings.TrimSuffix(b.base.EscapedPath(), "/")
	for _, part := range p.Parts() {
		plain += "/" + part
		escaped += "/" + url.PathEscape(part)
	}
	u.Path = plain
	u.RawPath = escaped
	return &u
}

func (b requestBuilder) bucketURL() *url.URL {
	u := *b.base
	u.Path = strings.TrimSuffix(b.base.Path, "/") + "/"
	u.RawPath = ""
	return &u
}

func (b requestBuilder) get(ctx context.Context, p storage.Path, opts storage.GetOptions) (*http.Request, error) {
	method := http.MethodGet
	if opts.Head {
		method = http.MethodHead
	}

	u := b.objectURL(p)
	if opts.Version != "" {
		u.RawQuery = url.Values{queryVersionID: {opts.Version}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, storage.InvalidInput(storage.OpGet, p, "failed to build request: %v", err)
	}

	// Object sizes and ranges refer to the stored bytes. A transparently
	// decompressed body would lose its Content-Length.
	req.Header.Set("Accept-Encoding", "identity")
	if value, ok := opts.Range.Header(); ok && !opts.Head {
		req.Header.Set("Range", value)
	}
	if opts.IfMatch != "" {
		req.Header.Set("If-Match", opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", opts.IfNoneMatch)
	}
	if opts.IfModifiedSince != nil {
		req.Header.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if opts.IfUnmodifiedSince != nil {
		req.Header.Set("If-Unmodified-Since", opts.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
	return req, nil
}

func (b requestBuilder) head(ctx context.Context, p storage.Path) (*http.Request, error) {
	return b.get(ctx, p, storage.GetOptions{Head: true})
}

// The payload reader is created per call so every attempt sends the full body
func (b requestBuilder) put(ctx context.Context, p storage.Path, payload storage.PutPayload, opts storage.PutOptions) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if payload.Len() > 0 {
		body = payload.Reader()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(p).String(), body)
	if err != nil {
		return nil, storage.InvalidInput(storage.OpPut, p, "failed to build request: %v", err)
	}
	req.ContentLength = payload.Len()
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(payload.Reader()), nil
	}

	switch opts.Mode {
	case storage.PutCreate:
		req.Header.Set("If-None-Match", "*")
	case storage.PutUpdate:
		if opts.ETag != "" {
			req.Header.Set("If-Match", opts.ETag)
		}
		if opts.Version != "" {
			req.Header.Set(headerVersionID, opts.Version)
		}
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if len(opts.Tags) > 0 {
		tags := url.Values{}
		for k, v := range opts.Tags {
			tags.Set(k, v)
		}
		req.Header.Set(headerTagging, tags.Encode())
	}
	return req, nil
}

func (b requestBuilder) delete(ctx context.Context, p storage.Path) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.objectURL(p).String(), nil)
	if err != nil {
		return nil, storage.InvalidInput(storage.OpDelete, p, "failed to build request: %v", err)
	}
	return req, nil
}

// A ListObjectsV2 request. cursor is sent exactly as the server returned it.
func (b requestBuilder) list(ctx context.Context, prefix storage.Path, delimited bool, cursor string) (*http.Request, error) {
	q := url.Values{}
	q.Set("list-type", "2")
	if !prefix.IsRoot() {
		q.Set("prefix", prefix.DirPrefix())
	}
	if delimited {
		q.Set("delimiter", storage.Delimiter)
	}
	if cursor != "" {
		q.Set("continuation-token", cursor)
	}

	u := b.bucketURL()
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, storage.InvalidInput(storage.OpList, prefix, "failed to build request: %v", err)
	}
	return req, nil
}

// A server-side copy: a body-less PUT on the destination naming the source
func (b requestBuilder) copy(ctx context.Context, from, to storage.Path, ifNotExists bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.objectURL(to).String(), http.NoBody)
	if err != nil {
		return nil, storage.InvalidInput(storage.OpCopy, to, "failed to build request: %v", err)
	}
	req.Header.Set(headerCopySource, b.objectURL(from).EscapedPath())
	if ifNotExists {
		req.Header.Set("If-None-Match", "*")
	}
	return req, nil
}
