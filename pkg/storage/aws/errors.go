// File: pkg/storage/aws/errors.go
package aws

import (
	"errors"
	"time"

	"objstore/pkg/storage"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// S3 error codes that mean the caller should slow down, whatever the status
var throttleCodes = map[string]struct{}{
	"SlowDown":             {},
	"Throttling":           {},
	"ThrottlingException":  {},
	"RequestLimitExceeded": {},
}

// Maps an SDK error onto the storage taxonomy. Errors carrying an HTTP
// response go through the status table; anything else is a transport
// failure.
func mapError(err error, op storage.Op, location storage.Path, create bool) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}

	var respErr *awshttp.ResponseError
	if !errors.As(err, &respErr) || respErr.ResponseError == nil || respErr.Response == nil || respErr.Response.Response == nil {
		return storage.FromTransport(err, op, location)
	}

	mapped := storage.FromStatus(respErr.HTTPStatusCode(), op, location, create)
	mapped.Err = err

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, throttled := throttleCodes[apiErr.ErrorCode()]; throttled {
			mapped.Kind = storage.KindRateLimited
		}
		if apiErr.ErrorCode() == "NoSuchBucket" {
			mapped.Kind = storage.KindNotFound
		}
	}

	if mapped.Retryable() {
		mapped.RetryAfter = storage.ParseRetryAfter(respErr.Response.Header.Get("Retry-After"), time.Now())
	}
	return mapped
}
