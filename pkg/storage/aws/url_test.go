package aws

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"objstore/internal/config"
	"objstore/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		raw      string
		bucket   string
		region   string
		endpoint string
		path     storage.Path
	}{
		{raw: "s3://backups/dir/file.txt", bucket: "backups", path: "dir/file.txt"},
		{raw: "s3a://backups", bucket: "backups"},
		{raw: "s3://backups/with%20space", bucket: "backups", path: "with space"},
		{raw: "https://backups.s3.us-west-2.amazonaws.com/a/b", bucket: "backups", region: "us-west-2", path: "a/b"},
		{raw: "https://my.dotted.bucket.s3.amazonaws.com/k", bucket: "my.dotted.bucket", path: "k"},
		{raw: "https://s3.eu-central-1.amazonaws.com/backups/k", bucket: "backups", region: "eu-central-1", path: "k"},
		{raw: "https://s3-eu-west-1.amazonaws.com/backups/k", bucket: "backups", region: "eu-west-1", path: "k"},
		{raw: "https://acct.r2.cloudflarestorage.com/backups/x/y", bucket: "backups", region: "auto", endpoint: "https://acct.r2.cloudflarestorage.com", path: "x/y"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := url.Parse(tc.raw)
			require.NoError(t, err)
			cfg := &config.Config{}

			path, ok, err := parseURL(u, cfg)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.path, path)
			assert.Equal(t, tc.bucket, cfg.AWS.Bucket)
			assert.Equal(t, tc.region, cfg.AWS.Region)
			assert.Equal(t, tc.endpoint, cfg.AWS.Endpoint)
		})
	}
}

func TestParseURL_NotAnS3URL(t *testing.T) {
	for _, raw := range []string{"gs://bucket/key", "https://example.com/bucket/key", "file:///tmp/x"} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		_, ok, err := parseURL(u, &config.Config{})
		assert.NoError(t, err, raw)
		assert.False(t, ok, raw)
	}

	u, _ := url.Parse("https://s3.us-east-1.amazonaws.com/")
	_, _, err := parseURL(u, &config.Config{})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorContains(t, Config{Region: "us-west-2"}.validate(), "s3 bucket is required")
	assert.ErrorContains(t, Config{Bucket: "b"}.validate(), "s3 region is required")
	assert.ErrorContains(t, Config{Bucket: "b", Endpoint: "ftp://example.com"}.validate(), "must use http or https")
	assert.ErrorContains(t, Config{Bucket: "b", Region: "r", PartSize: 1024}.validate(), "part size")
	assert.NoError(t, Config{Bucket: "b", Endpoint: "http://localhost:9000"}.validate())
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil, storage.OpGet, "k", false))

	err := mapError(apiError(http.StatusNotFound, "NoSuchBucket", nil), storage.OpList, "", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = mapError(apiError(http.StatusPreconditionFailed, "PreconditionFailed", nil), storage.OpPut, "k", true)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	err = mapError(apiError(http.StatusPreconditionFailed, "PreconditionFailed", nil), storage.OpPut, "k", false)
	assert.ErrorIs(t, err, storage.ErrPrecondition)

	err = mapError(apiError(http.StatusTooManyRequests, "TooManyRequests", http.Header{"Retry-After": []string{"3"}}), storage.OpGet, "k", false)
	assert.ErrorIs(t, err, storage.ErrRateLimited)
	assert.Equal(t, 3*time.Second, storage.RetryAfter(err))

	err = mapError(errors.New("connection reset"), storage.OpGet, "k", false)
	assert.ErrorIs(t, err, storage.ErrGeneric)
	assert.True(t, storage.IsRetryable(err))

	err = mapError(apiError(http.StatusBadRequest, "InvalidArgument", nil), storage.OpGet, "k", false)
	assert.ErrorIs(t, err, storage.ErrGeneric)
	assert.False(t, storage.IsRetryable(err))
}
