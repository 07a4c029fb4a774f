// File: pkg/storage/gcp/errors.go
package gcp

import (
	"errors"
	"net/http"
	"time"

	"objstore/pkg/storage"

	gcpstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Maps a client error onto the storage taxonomy. JSON API errors go through
// the status table; anything else is a transport failure.
func mapError(err error, op storage.Op, location storage.Path, create bool) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}

	if errors.Is(err, gcpstorage.ErrObjectNotExist) || errors.Is(err, gcpstorage.ErrBucketNotExist) {
		return &storage.Error{Kind: storage.KindNotFound, Op: op, Path: location, Status: http.StatusNotFound, Err: err}
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return storage.FromTransport(err, op, location)
	}

	mapped := storage.FromStatus(apiErr.Code, op, location, create)
	mapped.Err = err
	if mapped.Retryable() {
		mapped.RetryAfter = storage.ParseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now())
	}
	return mapped
}
