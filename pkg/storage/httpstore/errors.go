// File: pkg/storage/httpstore/errors.go
package httpstore

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"objstore/pkg/storage"
)

// Longest error body read for diagnostics
const maxErrorBody = 4096

// The S3 error document
type errorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// Maps a non-2xx response to a storage error and releases the response
func responseError(resp *http.Response, op storage.Op, location storage.Path, create bool) *storage.Error {
	defer discardResponse(resp)

	e := storage.FromStatus(resp.StatusCode, op, location, create)
	if e.Kind == storage.KindRateLimited || e.Transient {
		e.RetryAfter = storage.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}

	var raw []byte
	if resp.Body != nil {
		raw, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	}
	e.Err = describeBody(resp.StatusCode, raw)
	return e
}

func describeBody(status int, raw []byte) error {
	raw = bytes.TrimSpace(raw)
	var doc errorBody
	if len(raw) > 0 && xml.Unmarshal(raw, &doc) == nil && doc.Code != "" {
		if doc.Message == "" {
			return errors.New(doc.Code)
		}
		return fmt.Errorf("%s: %s", doc.Code, doc.Message)
	}
	if len(raw) > 0 {
		return errors.New(strings.ToValidUTF8(string(raw), "?"))
	}
	return errors.New(http.StatusText(status))
}

// Reads an embedded error document from a 200 response body. Some
// S3-compatible servers report a failed copy this way.
func embeddedError(raw []byte) (errorBody, bool) {
	var doc errorBody
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &doc); err != nil || doc.Code == "" {
		return errorBody{}, false
	}
	return doc, true
}
