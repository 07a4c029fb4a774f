// File: pkg/storage/httpstore/meta.go
package httpstore

import (
	"net/http"
	"strconv"
	"time"

	"objstore/pkg/storage"
)

// Extracts object metadata from response headers. Content-Length is
// required; a missing ETag is left empty and a missing Last-Modified reads
// as the Unix epoch.
func headerMeta(resp *http.Response, location storage.Path) (storage.ObjectMeta, error) {
	meta := storage.ObjectMeta{
		Location:     location,
		ETag:         resp.Header.Get("ETag"),
		Version:      resp.Header.Get(headerVersionID),
		LastModified: time.Unix(0, 0).UTC(),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		t, err := http.ParseTime(lm)
		if err != nil {
			return storage.ObjectMeta{}, storage.ProtocolError(storage.OpGet, location, "invalid last-modified header %q", lm)
		}
		meta.LastModified = t.UTC()
	}

	switch cl := resp.Header.Get("Content-Length"); {
	case cl != "":
		size, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || size < 0 {
			return storage.ObjectMeta{}, storage.ProtocolError(storage.OpGet, location, "invalid content-length header %q", cl)
		}
		meta.Size = size
	case resp.ContentLength >= 0:
		meta.Size = resp.ContentLength
	default:
		return storage.ObjectMeta{}, storage.ProtocolError(storage.OpGet, location, "response has no content-length")
	}

	return meta, nil
}
