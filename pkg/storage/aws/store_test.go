package aws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"objstore/internal/local"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeS3API struct {
	mu       sync.Mutex
	calls    []string
	getFn    func(ctx context.Context, params *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	headFn   func(ctx context.Context, params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	putFn    func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	deleteFn func(ctx context.Context, params *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
	copyFn   func(ctx context.Context, params *s3.CopyObjectInput) (*s3.CopyObjectOutput, error)
	tagsFn   func(ctx context.Context, params *s3.GetObjectTaggingInput) (*s3.GetObjectTaggingOutput, error)
	listFn   func(ctx context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	createFn func(ctx context.Context, params *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	partFn   func(ctx context.Context, params *s3.UploadPartInput) (*s3.UploadPartOutput, error)
	doneFn   func(ctx context.Context, params *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	abortFn  func(ctx context.Context, params *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
}

func (f *fakeS3API) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeS3API) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeS3API) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.record("GetObject")
	if f.getFn == nil {
		return nil, errors.New("unexpected get object call")
	}
	return f.getFn(ctx, params)
}

func (f *fakeS3API) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.record("HeadObject")
	if f.headFn == nil {
		return nil, errors.New("unexpected head object call")
	}
	return f.headFn(ctx, params)
}

func (f *fakeS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.record("PutObject")
	if f.putFn == nil {
		return nil, errors.New("unexpected put object call")
	}
	return f.putFn(ctx, params)
}

func (f *fakeS3API) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.record("DeleteObject")
	if f.deleteFn == nil {
		return nil, errors.New("unexpected delete object call")
	}
	return f.deleteFn(ctx, params)
}

func (f *fakeS3API) CopyObject(ctx context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.record("CopyObject")
	if f.copyFn == nil {
		return nil, errors.New("unexpected copy object call")
	}
	return f.copyFn(ctx, params)
}

func (f *fakeS3API) GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	f.record("GetObjectTagging")
	if f.tagsFn == nil {
		return nil, errors.New("unexpected get object tagging call")
	}
	return f.tagsFn(ctx, params)
}

func (f *fakeS3API) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.record("ListObjectsV2")
	if f.listFn == nil {
		return nil, errors.New("unexpected list objects call")
	}
	return f.listFn(ctx, params)
}

func (f *fakeS3API) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.record("CreateMultipartUpload")
	if f.createFn == nil {
		return nil, errors.New("unexpected create multipart upload call")
	}
	return f.createFn(ctx, params)
}

func (f *fakeS3API) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.record("UploadPart")
	if f.partFn == nil {
		return nil, errors.New("unexpected upload part call")
	}
	return f.partFn(ctx, params)
}

func (f *fakeS3API) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.record("CompleteMultipartUpload")
	if f.doneFn == nil {
		return nil, errors.New("unexpected complete multipart upload call")
	}
	return f.doneFn(ctx, params)
}

func (f *fakeS3API) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.record("AbortMultipartUpload")
	if f.abortFn == nil {
		return &s3.AbortMultipartUploadOutput{}, nil
	}
	return f.abortFn(ctx, params)
}

type fakeUploader struct {
	lastInput *transfermanager.UploadObjectInput
	body      []byte
	err       error
}

func (f *fakeUploader) UploadObject(_ context.Context, input *transfermanager.UploadObjectInput, _ ...func(*transfermanager.Options)) (*transfermanager.UploadObjectOutput, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &transfermanager.UploadObjectOutput{}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// An SDK error as returned for a non-2xx response
func apiError(status int, code string, header http.Header) error {
	if header == nil {
		header = http.Header{}
	}
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "Test",
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status, Header: header}},
				Err:      &smithy.GenericAPIError{Code: code, Message: "injected"},
			},
			RequestID: "req-1",
		},
	}
}

func newTestStore(t *testing.T, api *fakeS3API, mutate func(*Config), opts ...Option) (*Store, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	cfg := Config{
		Bucket: "bucket",
		Region: "us-east-1",
		Retry:  retry.Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 80 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithAPI(api), WithRetryOptions(retry.WithSleeper(rec.sleep))}, opts...)
	s, err := New(t.Context(), cfg, quiet, opts...)
	require.NoError(t, err)
	return s, rec
}

func body(data string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(data))
}

func TestStore_GetFullObject(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeS3API{
		getFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "bucket", *in.Bucket)
			assert.Equal(t, "dir/file.txt", *in.Key)
			assert.Nil(t, in.Range)
			return &s3.GetObjectOutput{
				Body:          body("payload"),
				ContentLength: awssdk.Int64(7),
				ETag:          awssdk.String(`"e1"`),
				LastModified:  &modified,
				VersionId:     awssdk.String("v1"),
			}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	res, err := s.Get(t.Context(), "dir/file.txt")
	require.NoError(t, err)
	data, err := res.Bytes()
	require.NoError(t, err)

	assert.Equal(t, "payload", string(data))
	assert.Equal(t, storage.ObjectMeta{Location: "dir/file.txt", Size: 7, ETag: `"e1"`, LastModified: modified, Version: "v1"}, res.Meta)
	assert.Equal(t, storage.ByteRange{Start: 0, End: 7}, res.Range)
}

func TestStore_GetRange(t *testing.T) {
	api := &fakeS3API{
		getFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			require.NotNil(t, in.Range)
			assert.Equal(t, "bytes=0-99", *in.Range)
			return &s3.GetObjectOutput{
				Body:          body(strings.Repeat("x", 100)),
				ContentLength: awssdk.Int64(100),
				ContentRange:  awssdk.String("bytes 0-99/1000"),
			}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	data, err := s.GetRange(t.Context(), "k", storage.ByteRange{Start: 0, End: 100})
	require.NoError(t, err)
	assert.Len(t, data, 100)

	res, err := s.GetOpts(t.Context(), "k", storage.GetOptions{Range: storage.BoundedRange(0, 100)})
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, int64(1000), res.Meta.Size)
	assert.Equal(t, storage.ByteRange{Start: 0, End: 100}, res.Range)
}

func TestStore_GetRangeIgnoredByEndpoint(t *testing.T) {
	api := &fakeS3API{
		getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: body("0123456789"), ContentLength: awssdk.Int64(10)}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	data, err := s.GetRange(t.Context(), "k", storage.ByteRange{Start: 2, End: 5})
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))

	res, err := s.GetOpts(t.Context(), "k", storage.GetOptions{Range: storage.SuffixRange(3)})
	require.NoError(t, err)
	tail, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "789", string(tail))
	assert.Equal(t, storage.ByteRange{Start: 7, End: 10}, res.Range)
}

func TestStore_GetRangeMismatchedContentRange(t *testing.T) {
	api := &fakeS3API{
		getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body:          body("xxxxx"),
				ContentLength: awssdk.Int64(5),
				ContentRange:  awssdk.String("bytes 5-9/100"),
			}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.GetRange(t.Context(), "k", storage.ByteRange{Start: 0, End: 5})
	assert.ErrorIs(t, err, storage.ErrGeneric)
}

func TestStore_GetInvalidRangeSendsNothing(t *testing.T) {
	api := &fakeS3API{}
	s, _ := newTestStore(t, api, nil)

	_, err := s.GetRange(t.Context(), "k", storage.ByteRange{Start: 5, End: 5})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, api.recorded())
}

func TestStore_GetNotFound(t *testing.T) {
	api := &fakeS3API{
		getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, apiError(http.StatusNotFound, "NoSuchKey", nil)
		},
	}
	s, rec := newTestStore(t, api, nil)

	_, err := s.Get(t.Context(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	var se *storage.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "aws", se.Store)
	assert.Equal(t, storage.Path("missing"), se.Path)
	assert.Empty(t, rec.recorded())
}

func TestStore_GetConditionalHeaders(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	api := &fakeS3API{
		getFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			assert.Equal(t, `"abc"`, awssdk.ToString(in.IfNoneMatch))
			assert.Equal(t, since, *in.IfModifiedSince)
			assert.Equal(t, "v7", awssdk.ToString(in.VersionId))
			return nil, apiError(http.StatusNotModified, "NotModified", nil)
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.GetOpts(t.Context(), "k", storage.GetOptions{IfNoneMatch: `"abc"`, IfModifiedSince: &since, Version: "v7"})
	assert.ErrorIs(t, err, storage.ErrNotModified)
}

func TestStore_HeadViaGetOptions(t *testing.T) {
	api := &fakeS3API{
		headFn: func(_ context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			assert.Equal(t, `"e1"`, awssdk.ToString(in.IfMatch))
			return &s3.HeadObjectOutput{ContentLength: awssdk.Int64(42), ETag: awssdk.String(`"e1"`)}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	res, err := s.GetOpts(t.Context(), "k", storage.GetOptions{Head: true, IfMatch: `"e1"`})
	require.NoError(t, err)
	data, err := res.Bytes()
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, int64(42), res.Meta.Size)
	assert.Equal(t, time.Unix(0, 0).UTC(), res.Meta.LastModified)
	assert.Equal(t, []string{"HeadObject"}, api.recorded())
}

func TestStore_HeadWithoutLengthIsProtocolError(t *testing.T) {
	api := &fakeS3API{
		headFn: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.Head(t.Context(), "k")
	assert.ErrorIs(t, err, storage.ErrGeneric)
}

func TestStore_RetriesTransientFailures(t *testing.T) {
	for _, failures := range []int{1, 2, 4} {
		calls := 0
		api := &fakeS3API{
			getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
				calls++
				if calls <= failures {
					return nil, apiError(http.StatusServiceUnavailable, "ServiceUnavailable", nil)
				}
				return &s3.GetObjectOutput{Body: body("ok"), ContentLength: awssdk.Int64(2)}, nil
			},
		}
		s, rec := newTestStore(t, api, nil)

		res, err := s.Get(t.Context(), "k")
		require.NoError(t, err)
		data, err := res.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "ok", string(data))
		assert.Equal(t, failures+1, calls)

		delays := rec.recorded()
		require.Len(t, delays, failures)
		for i := 1; i < len(delays); i++ {
			assert.GreaterOrEqual(t, delays[i], delays[i-1])
		}
	}
}

func TestStore_SlowDownHonorsRetryAfter(t *testing.T) {
	calls := 0
	api := &fakeS3API{
		deleteFn: func(_ context.Context, _ *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			calls++
			if calls == 1 {
				return nil, apiError(http.StatusServiceUnavailable, "SlowDown", http.Header{"Retry-After": []string{"7"}})
			}
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	s, rec := newTestStore(t, api, nil)

	require.NoError(t, s.Delete(t.Context(), "k"))
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.recorded())
}

func TestStore_RetryExhaustionKeepsKind(t *testing.T) {
	api := &fakeS3API{
		headFn: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, apiError(http.StatusTooManyRequests, "TooManyRequests", nil)
		},
	}
	s, _ := newTestStore(t, api, func(c *Config) { c.Retry.MaxAttempts = 3 })

	_, err := s.Head(t.Context(), "k")
	require.ErrorIs(t, err, storage.ErrRateLimited)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, api.recorded(), 3)
}

func TestStore_PutModes(t *testing.T) {
	var last *s3.PutObjectInput
	var sent []byte
	api := &fakeS3API{
		putFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			last = in
			data, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			sent = data
			if awssdk.ToString(in.IfNoneMatch) == "*" && awssdk.ToString(in.Key) == "exists" {
				return nil, apiError(http.StatusPreconditionFailed, "PreconditionFailed", nil)
			}
			return &s3.PutObjectOutput{ETag: awssdk.String(`"new"`), VersionId: awssdk.String("v2")}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	res, err := s.Put(t.Context(), "k", storage.PayloadFromChunks([]byte("ab"), []byte("cd")))
	require.NoError(t, err)
	assert.Equal(t, storage.PutResult{ETag: `"new"`, Version: "v2"}, res)
	assert.Equal(t, "abcd", string(sent))
	assert.Equal(t, int64(4), awssdk.ToInt64(last.ContentLength))
	assert.Nil(t, last.IfNoneMatch)
	assert.Nil(t, last.IfMatch)

	_, err = s.PutOpts(t.Context(), "exists", storage.NewPayload([]byte("x")), storage.PutOptions{Mode: storage.PutCreate})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = s.PutOpts(t.Context(), "k", storage.NewPayload([]byte("x")), storage.PutOptions{
		Mode:        storage.PutUpdate,
		ETag:        `"old"`,
		ContentType: "text/plain",
		Tags:        map[string]string{"b": "2", "a": "1 2"},
	})
	require.NoError(t, err)
	assert.Equal(t, `"old"`, awssdk.ToString(last.IfMatch))
	assert.Equal(t, "text/plain", awssdk.ToString(last.ContentType))
	assert.Equal(t, "a=1+2&b=2", awssdk.ToString(last.Tagging))
}

func TestStore_UpdateWithoutETagIsInvalid(t *testing.T) {
	api := &fakeS3API{}
	s, _ := newTestStore(t, api, nil)

	_, err := s.PutOpts(t.Context(), "k", storage.NewPayload([]byte("x")), storage.PutOptions{Mode: storage.PutUpdate, Version: "v1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, api.recorded())
}

func TestStore_PutMultipartOverwriteUsesUploader(t *testing.T) {
	uploader := &fakeUploader{}
	api := &fakeS3API{
		headFn: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{ContentLength: awssdk.Int64(7), ETag: awssdk.String(`"up"`)}, nil
		},
	}
	s, _ := newTestStore(t, api, nil, WithUploader(uploader))

	res, err := s.PutMultipart(t.Context(), "big", strings.NewReader("payload"), 0, storage.PutOptions{ContentType: "application/octet-stream"})
	require.NoError(t, err)
	assert.Equal(t, `"up"`, res.ETag)
	require.NotNil(t, uploader.lastInput)
	assert.Equal(t, "bucket", *uploader.lastInput.Bucket)
	assert.Equal(t, "big", *uploader.lastInput.Key)
	assert.Equal(t, "payload", string(uploader.body))
	assert.Equal(t, []string{"HeadObject"}, api.recorded())
}

func TestStore_PutMultipartCreateRunsProtocol(t *testing.T) {
	const partSize = storage.MinPartSize
	data := bytes.Repeat([]byte("z"), 2*partSize+10)

	var mu sync.Mutex
	var received [][]byte
	var completed *s3.CompleteMultipartUploadInput
	api := &fakeS3API{
		createFn: func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			assert.Equal(t, "a=1", awssdk.ToString(in.Tagging))
			return &s3.CreateMultipartUploadOutput{UploadId: awssdk.String("up-1")}, nil
		},
		partFn: func(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			assert.Equal(t, "up-1", awssdk.ToString(in.UploadId))
			part, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			mu.Lock()
			received = append(received, part)
			mu.Unlock()
			return &s3.UploadPartOutput{ETag: awssdk.String("p")}, nil
		},
		doneFn: func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in
			return &s3.CompleteMultipartUploadOutput{ETag: awssdk.String(`"mp"`)}, nil
		},
	}
	s, _ := newTestStore(t, api, nil, WithUploader(&fakeUploader{err: errors.New("must not be used")}))

	res, err := s.PutMultipart(t.Context(), "big", bytes.NewReader(data), partSize, storage.PutOptions{
		Mode: storage.PutCreate,
		Tags: map[string]string{"a": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, `"mp"`, res.ETag)

	require.Len(t, received, 3)
	assert.Len(t, received[0], partSize)
	assert.Len(t, received[2], 10)
	require.NotNil(t, completed)
	assert.Equal(t, "*", awssdk.ToString(completed.IfNoneMatch))
	require.Len(t, completed.MultipartUpload.Parts, 3)
	for i, p := range completed.MultipartUpload.Parts {
		assert.Equal(t, int32(i+1), awssdk.ToInt32(p.PartNumber))
	}
}

func TestStore_PutMultipartFailureAborts(t *testing.T) {
	api := &fakeS3API{
		createFn: func(_ context.Context, _ *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: awssdk.String("up-2")}, nil
		},
		partFn: func(_ context.Context, _ *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			return nil, apiError(http.StatusForbidden, "AccessDenied", nil)
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.PutMultipart(t.Context(), "big", strings.NewReader("abc"), 0, storage.PutOptions{Mode: storage.PutCreate})
	require.ErrorIs(t, err, storage.ErrPermissionDenied)
	assert.Equal(t, []string{"CreateMultipartUpload", "UploadPart", "AbortMultipartUpload"}, api.recorded())
}

func TestStore_PutMultipartRejectsSmallParts(t *testing.T) {
	api := &fakeS3API{}
	s, _ := newTestStore(t, api, nil)

	_, err := s.PutMultipart(t.Context(), "big", strings.NewReader("abc"), 1024, storage.PutOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, api.recorded())
}

func TestStore_Delete(t *testing.T) {
	api := &fakeS3API{
		deleteFn: func(_ context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			assert.Equal(t, "path/item", awssdk.ToString(in.Key))
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.Delete(t.Context(), "path/item"))
	assert.ErrorIs(t, s.Delete(t.Context(), ""), storage.ErrInvalidInput)
}

// Serves pages keyed by continuation token
func pagedList(t *testing.T, pages map[string]*s3.ListObjectsV2Output, tokens *[]string) func(context.Context, *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	return func(_ context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
		token := awssdk.ToString(in.ContinuationToken)
		*tokens = append(*tokens, token)
		page, ok := pages[token]
		require.True(t, ok, "unknown token %q", token)
		return page, nil
	}
}

func TestStore_ListWalksPages(t *testing.T) {
	var tokens []string
	api := &fakeS3API{listFn: pagedList(t, map[string]*s3.ListObjectsV2Output{
		"": {
			Contents: []types.Object{
				{Key: nil},
				{Key: awssdk.String("a/")},
				{Key: awssdk.String("a/1"), Size: awssdk.Int64(1)},
			},
			IsTruncated:           awssdk.Bool(true),
			NextContinuationToken: awssdk.String("T1"),
		},
		"T1": {
			Contents: []types.Object{
				{Key: awssdk.String("a/2"), Size: awssdk.Int64(2)},
				{Key: awssdk.String("ab/3")},
			},
		},
	}, &tokens)}
	s, _ := newTestStore(t, api, nil)

	objects, err := storage.CollectList(s.List(t.Context(), "a"))
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, storage.Path("a/1"), objects[0].Location)
	assert.Equal(t, storage.Path("a/2"), objects[1].Location)
	assert.Equal(t, int64(2), objects[1].Size)
	assert.Equal(t, []string{"", "T1"}, tokens)
}

func TestStore_ListPageRetryResendsCursor(t *testing.T) {
	var tokens []string
	failed := false
	api := &fakeS3API{
		listFn: func(_ context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			tokens = append(tokens, awssdk.ToString(in.ContinuationToken))
			if !failed {
				failed = true
				return nil, apiError(http.StatusInternalServerError, "InternalError", nil)
			}
			return &s3.ListObjectsV2Output{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.ListPage(t.Context(), "", false, "cursor/1+")
	require.NoError(t, err)
	assert.Equal(t, []string{"cursor/1+", "cursor/1+"}, tokens)
}

func TestStore_ListWithDelimiter(t *testing.T) {
	var prefixes, delimiters []string
	api := &fakeS3API{
		listFn: func(_ context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			prefixes = append(prefixes, awssdk.ToString(in.Prefix))
			delimiters = append(delimiters, awssdk.ToString(in.Delimiter))
			return &s3.ListObjectsV2Output{
				Contents: []types.Object{
					{Key: awssdk.String("a/b.txt"), Size: awssdk.Int64(3)},
					{Key: awssdk.String("a/c"), Size: awssdk.Int64(1)},
				},
				CommonPrefixes: []types.CommonPrefix{{Prefix: awssdk.String("a/c/")}},
			}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	res, err := s.ListWithDelimiter(t.Context(), "a")
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, storage.Path("a/b.txt"), res.Objects[0].Location)
	assert.Equal(t, []storage.Path{"a/c"}, res.CommonPrefixes)
	assert.Equal(t, []string{"a/"}, prefixes)
	assert.Equal(t, []string{"/"}, delimiters)
}

func TestStore_ListTruncatedWithoutToken(t *testing.T) {
	api := &fakeS3API{
		listFn: func(_ context.Context, _ *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			return &s3.ListObjectsV2Output{IsTruncated: awssdk.Bool(true)}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	_, err := s.ListPage(t.Context(), "", false, "")
	assert.ErrorIs(t, err, storage.ErrGeneric)
}

func TestStore_Copy(t *testing.T) {
	api := &fakeS3API{
		copyFn: func(_ context.Context, in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			assert.Equal(t, "bucket/src%20dir/file%20one", awssdk.ToString(in.CopySource))
			assert.Equal(t, "dst", awssdk.ToString(in.Key))
			return &s3.CopyObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.Copy(t.Context(), "src dir/file one", "dst"))
}

func TestStore_CopyIfNotExists(t *testing.T) {
	var put *s3.PutObjectInput
	api := &fakeS3API{
		getFn: func(_ context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "src", awssdk.ToString(in.Key))
			return &s3.GetObjectOutput{Body: body("data"), ContentLength: awssdk.Int64(4)}, nil
		},
		putFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			put = in
			if awssdk.ToString(in.Key) == "taken" {
				return nil, apiError(http.StatusPreconditionFailed, "PreconditionFailed", nil)
			}
			return &s3.PutObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.CopyIfNotExists(t.Context(), "src", "dst"))
	assert.Equal(t, "*", awssdk.ToString(put.IfNoneMatch))
	assert.Equal(t, int64(4), awssdk.ToInt64(put.ContentLength))

	err := s.CopyIfNotExists(t.Context(), "src", "taken")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestStore_CopyIfNotExistsCarriesHeadersAndTags(t *testing.T) {
	var put *s3.PutObjectInput
	var sent []byte
	api := &fakeS3API{
		getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body:          body("report"),
				ContentLength: awssdk.Int64(6),
				ContentType:   awssdk.String("text/csv"),
				CacheControl:  awssdk.String("no-cache"),
				Metadata:      map[string]string{"owner": "ops"},
				TagCount:      awssdk.Int32(1),
			}, nil
		},
		tagsFn: func(_ context.Context, in *s3.GetObjectTaggingInput) (*s3.GetObjectTaggingOutput, error) {
			assert.Equal(t, "src", awssdk.ToString(in.Key))
			return &s3.GetObjectTaggingOutput{TagSet: []types.Tag{{Key: awssdk.String("env"), Value: awssdk.String("prod")}}}, nil
		},
		putFn: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			put = in
			// The buffered body is seekable so the request can be signed
			_, ok := in.Body.(io.Seeker)
			assert.True(t, ok)
			data, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			sent = data
			return &s3.PutObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.CopyIfNotExists(t.Context(), "src", "dst"))
	assert.Equal(t, "report", string(sent))
	assert.Equal(t, "text/csv", awssdk.ToString(put.ContentType))
	assert.Equal(t, "no-cache", awssdk.ToString(put.CacheControl))
	assert.Equal(t, map[string]string{"owner": "ops"}, put.Metadata)
	assert.Equal(t, "env=prod", awssdk.ToString(put.Tagging))
	assert.Equal(t, "*", awssdk.ToString(put.IfNoneMatch))
}

func TestStore_CopyIfNotExistsUnknownSizeUsesMultipart(t *testing.T) {
	var created *s3.CreateMultipartUploadInput
	var completed *s3.CompleteMultipartUploadInput
	var uploaded []byte
	api := &fakeS3API{
		getFn: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: body("streamed"), Metadata: map[string]string{"k": "v"}}, nil
		},
		createFn: func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			created = in
			return &s3.CreateMultipartUploadOutput{UploadId: awssdk.String("up-3")}, nil
		},
		partFn: func(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			part, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			uploaded = append(uploaded, part...)
			return &s3.UploadPartOutput{ETag: awssdk.String(`"p1"`)}, nil
		},
		doneFn: func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.CopyIfNotExists(t.Context(), "src", "dst"))
	assert.Equal(t, "streamed", string(uploaded))
	assert.Equal(t, map[string]string{"k": "v"}, created.Metadata)
	assert.Equal(t, "*", awssdk.ToString(completed.IfNoneMatch))
	assert.NotContains(t, api.recorded(), "PutObject")
	assert.NotContains(t, api.recorded(), "GetObjectTagging")
}

func TestStore_RenameFailedCopyKeepsSource(t *testing.T) {
	api := &fakeS3API{
		copyFn: func(_ context.Context, _ *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			return nil, apiError(http.StatusForbidden, "AccessDenied", nil)
		},
	}
	s, _ := newTestStore(t, api, nil)

	err := s.Rename(t.Context(), "src", "dst")
	require.ErrorIs(t, err, storage.ErrPermissionDenied)
	assert.Equal(t, []string{"CopyObject"}, api.recorded())
}

func TestStore_Rename(t *testing.T) {
	var deleted string
	api := &fakeS3API{
		copyFn: func(_ context.Context, _ *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			return &s3.CopyObjectOutput{}, nil
		},
		deleteFn: func(_ context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			deleted = awssdk.ToString(in.Key)
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	s, _ := newTestStore(t, api, nil)

	require.NoError(t, s.Rename(t.Context(), "src", "dst"))
	assert.Equal(t, "src", deleted)
	assert.Equal(t, []string{"CopyObject", "DeleteObject"}, api.recorded())
}

func TestStore_Timeout(t *testing.T) {
	api := &fakeS3API{
		getFn: func(ctx context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s, _ := newTestStore(t, api, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	_, err := s.Get(t.Context(), "k")
	assert.ErrorIs(t, err, local.ErrTimeout)
}

func TestStore_CallerCancellation(t *testing.T) {
	api := &fakeS3API{
		getFn: func(ctx context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s, _ := newTestStore(t, api, nil)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
