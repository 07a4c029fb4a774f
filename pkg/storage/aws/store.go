// File: pkg/storage/aws/store.go
package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"objstore/internal/local"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store implements storage.ObjectStore on one S3 bucket. Object paths are
// used as keys verbatim.
type Store struct {
	name     string
	bucket   string
	api      S3API
	uploader Uploader
	retry    *retry.Controller
	timeout  time.Duration
	partSize int64
	logger   *slog.Logger
}

var _ storage.ObjectStore = (*Store)(nil)

func (s *Store) String() string {
	return fmt.Sprintf("%s(s3://%s)", s.name, s.bucket)
}

func discardObject(out *s3.GetObjectOutput) {
	if out != nil && out.Body != nil {
		_ = out.Body.Close()
	}
}

func (s *Store) Get(ctx context.Context, location storage.Path) (*storage.GetResult, error) {
	return s.GetOpts(ctx, location, storage.GetOptions{})
}

func (s *Store) GetOpts(ctx context.Context, location storage.Path, options storage.GetOptions) (*storage.GetResult, error) {
	op := storage.OpGet
	if options.Head {
		op = storage.OpHead
	}
	if err := checkPath(op, location); err != nil {
		return nil, s.fail(op, location, err)
	}
	if err := options.Validate(); err != nil {
		return nil, s.fail(op, location, storage.InvalidInput(op, location, "%v", err))
	}

	if options.Head {
		meta, err := s.head(ctx, location, options)
		if err != nil {
			return nil, err
		}
		return storage.NewGetResult(meta, storage.ByteRange{}, nil), nil
	}

	s.logger.Debug("Getting object", "path", location, "range", options.Range.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (*storage.GetResult, error) {
		return retry.Do(ctx, s.retry, storage.OpGet, func(ctx context.Context, attempt int) (*storage.GetResult, error) {
			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.GetObjectOutput, error) {
				return s.api.GetObject(ctx, s.getInput(location, options))
			}, discardObject)
			if err != nil {
				return nil, mapError(err, storage.OpGet, location, false)
			}
			return readObject(out, location, options.Range)
		})
	})
	if err != nil {
		return nil, s.fail(storage.OpGet, location, err)
	}
	return res, nil
}

func (s *Store) getInput(location storage.Path, options storage.GetOptions) *s3.GetObjectInput {
	input := &s3.GetObjectInput{
		Bucket:            awssdk.String(s.bucket),
		Key:               awssdk.String(string(location)),
		IfModifiedSince:   options.IfModifiedSince,
		IfUnmodifiedSince: options.IfUnmodifiedSince,
	}
	if v, ok := options.Range.Header(); ok {
		input.Range = awssdk.String(v)
	}
	if options.IfMatch != "" {
		input.IfMatch = awssdk.String(options.IfMatch)
	}
	if options.IfNoneMatch != "" {
		input.IfNoneMatch = awssdk.String(options.IfNoneMatch)
	}
	if options.Version != "" {
		input.VersionId = awssdk.String(options.Version)
	}
	return input
}

// Builds the result for a GetObject response. The body is owned by the
// result, or closed on error.
func readObject(out *s3.GetObjectOutput, location storage.Path, requested storage.GetRange) (*storage.GetResult, error) {
	if out.ContentLength == nil {
		discardObject(out)
		return nil, storage.ProtocolError(storage.OpGet, location, "response has no content-length")
	}
	meta := objectMeta(location, *out.ContentLength, out.ETag, out.LastModified, out.VersionId)

	if requested.IsFull() {
		return storage.NewGetResult(meta, storage.ByteRange{Start: 0, End: meta.Size}, out.Body), nil
	}

	if out.ContentRange != nil {
		cr, err := storage.ParseContentRange(*out.ContentRange)
		if err != nil {
			discardObject(out)
			return nil, storage.ProtocolError(storage.OpGet, location, "%v", err)
		}
		if !cr.Matches(requested) || cr.Len() != meta.Size {
			discardObject(out)
			return nil, storage.ProtocolError(storage.OpGet, location, "server returned bytes %d-%d for requested range %s", cr.Start, cr.End, requested)
		}
		meta.Size = cr.ObjectSize()
		return storage.NewGetResult(meta, cr.Bytes(), out.Body), nil
	}

	// The endpoint ignored the range and sent the whole object
	resolved, err := requested.Resolve(meta.Size)
	if err != nil {
		discardObject(out)
		var se *storage.Error
		if errors.As(err, &se) {
			se.Op, se.Path = storage.OpGet, location
		}
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, out.Body, resolved.Start); err != nil {
		discardObject(out)
		return nil, storage.FromTransport(err, storage.OpGet, location)
	}
	body := struct {
		io.Reader
		io.Closer
	}{io.LimitReader(out.Body, resolved.Len()), out.Body}
	return storage.NewGetResult(meta, resolved, body), nil
}

// Missing ETag stays empty, a missing modification time reads as the epoch
func objectMeta(location storage.Path, size int64, etag *string, modified *time.Time, version *string) storage.ObjectMeta {
	meta := storage.ObjectMeta{
		Location:     location,
		Size:         size,
		ETag:         awssdk.ToString(etag),
		Version:      awssdk.ToString(version),
		LastModified: time.Unix(0, 0).UTC(),
	}
	if modified != nil {
		meta.LastModified = modified.UTC()
	}
	return meta
}

func (s *Store) GetRange(ctx context.Context, location storage.Path, r storage.ByteRange) ([]byte, error) {
	if r.Start < 0 || r.Start >= r.End {
		return nil, s.fail(storage.OpGet, location, storage.InvalidInput(storage.OpGet, location, "range %s is empty or negative", r))
	}
	return storage.ReadRange(ctx, s, location, r)
}

func (s *Store) GetRanges(ctx context.Context, location storage.Path, ranges []storage.ByteRange) ([][]byte, error) {
	return storage.ReadRanges(ctx, s, location, ranges)
}

func (s *Store) Head(ctx context.Context, location storage.Path) (storage.ObjectMeta, error) {
	if err := checkPath(storage.OpHead, location); err != nil {
		return storage.ObjectMeta{}, s.fail(storage.OpHead, location, err)
	}
	return s.head(ctx, location, storage.GetOptions{})
}

func (s *Store) head(ctx context.Context, location storage.Path, options storage.GetOptions) (storage.ObjectMeta, error) {
	input := &s3.HeadObjectInput{
		Bucket:            awssdk.String(s.bucket),
		Key:               awssdk.String(string(location)),
		IfModifiedSince:   options.IfModifiedSince,
		IfUnmodifiedSince: options.IfUnmodifiedSince,
	}
	if options.IfMatch != "" {
		input.IfMatch = awssdk.String(options.IfMatch)
	}
	if options.IfNoneMatch != "" {
		input.IfNoneMatch = awssdk.String(options.IfNoneMatch)
	}
	if options.Version != "" {
		input.VersionId = awssdk.String(options.Version)
	}

	meta, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.ObjectMeta, error) {
		return retry.Do(ctx, s.retry, storage.OpHead, func(ctx context.Context, attempt int) (storage.ObjectMeta, error) {
			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.HeadObjectOutput, error) {
				return s.api.HeadObject(ctx, input)
			}, nil)
			if err != nil {
				return storage.ObjectMeta{}, mapError(err, storage.OpHead, location, false)
			}
			if out.ContentLength == nil {
				return storage.ObjectMeta{}, storage.ProtocolError(storage.OpHead, location, "response has no content-length")
			}
			return objectMeta(location, *out.ContentLength, out.ETag, out.LastModified, out.VersionId), nil
		})
	})
	if err != nil {
		return storage.ObjectMeta{}, s.fail(storage.OpHead, location, err)
	}
	return meta, nil
}

func (s *Store) Put(ctx context.Context, location storage.Path, payload storage.PutPayload) (storage.PutResult, error) {
	return s.PutOpts(ctx, location, payload, storage.PutOptions{})
}

func (s *Store) PutOpts(ctx context.Context, location storage.Path, payload storage.PutPayload, options storage.PutOptions) (storage.PutResult, error) {
	if err := s.checkPut(location, options); err != nil {
		return storage.PutResult{}, err
	}

	create := options.Mode == storage.PutCreate
	data := payload.Bytes()
	s.logger.Debug("Putting object", "path", location, "size", len(data), "mode", options.Mode.String())
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.PutResult, error) {
		return retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (storage.PutResult, error) {
			input := &s3.PutObjectInput{
				Bucket:        awssdk.String(s.bucket),
				Key:           awssdk.String(string(location)),
				Body:          bytes.NewReader(data),
				ContentLength: awssdk.Int64(int64(len(data))),
			}
			applyPutOptions(input, options)

			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.PutObjectOutput, error) {
				return s.api.PutObject(ctx, input)
			}, nil)
			if err != nil {
				return storage.PutResult{}, mapError(err, storage.OpPut, location, create)
			}
			return storage.PutResult{ETag: awssdk.ToString(out.ETag), Version: awssdk.ToString(out.VersionId)}, nil
		})
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	return res, nil
}

func (s *Store) checkPut(location storage.Path, options storage.PutOptions) error {
	if err := checkPath(storage.OpPut, location); err != nil {
		return s.fail(storage.OpPut, location, err)
	}
	if err := options.Validate(); err != nil {
		return s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "%v", err))
	}
	if options.Mode == storage.PutUpdate && options.ETag == "" {
		return s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "update put requires an etag on S3"))
	}
	return nil
}

func applyPutOptions(input *s3.PutObjectInput, options storage.PutOptions) {
	switch options.Mode {
	case storage.PutCreate:
		input.IfNoneMatch = awssdk.String("*")
	case storage.PutUpdate:
		input.IfMatch = awssdk.String(options.ETag)
	}
	if options.ContentType != "" {
		input.ContentType = awssdk.String(options.ContentType)
	}
	if tagging := encodeTags(options.Tags); tagging != "" {
		input.Tagging = awssdk.String(tagging)
	}
}

// Tags travel as a URL-encoded query string
func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return values.Encode()
}

// Plain overwrites are streamed through the transfer manager. Conditional
// or tagged uploads run the multipart protocol directly so the condition is
// checked when the upload completes.
func (s *Store) PutMultipart(ctx context.Context, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions) (storage.PutResult, error) {
	if err := s.checkPut(location, options); err != nil {
		return storage.PutResult{}, err
	}
	if partSize == 0 {
		partSize = s.partSize
	}
	if partSize < storage.MinPartSize {
		return storage.PutResult{}, s.fail(storage.OpPut, location, storage.InvalidInput(storage.OpPut, location, "part size %d is below the %d byte minimum", partSize, storage.MinPartSize))
	}

	if options.Mode == storage.PutOverwrite && len(options.Tags) == 0 && s.uploader != nil {
		return s.upload(ctx, location, r, partSize, options)
	}
	return s.multipart(ctx, location, r, partSize, options)
}

// The reader cannot be rewound, so a failed transfer is not retried
func (s *Store) upload(ctx context.Context, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions) (storage.PutResult, error) {
	s.logger.Debug("Uploading object", "path", location, "part_size", partSize)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		input := &transfermanager.UploadObjectInput{
			Bucket: awssdk.String(s.bucket),
			Key:    awssdk.String(string(location)),
			Body:   r,
		}
		if options.ContentType != "" {
			input.ContentType = awssdk.String(options.ContentType)
		}
		_, err := local.Call(ctx, t, func(ctx context.Context) (*transfermanager.UploadObjectOutput, error) {
			return s.uploader.UploadObject(ctx, input, func(o *transfermanager.Options) {
				o.PartSizeBytes = partSize
			})
		}, nil)
		if err != nil {
			return struct{}{}, mapError(err, storage.OpPut, location, false)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}

	meta, err := s.Head(ctx, location)
	if err != nil {
		return storage.PutResult{}, err
	}
	return storage.PutResult{ETag: meta.ETag, Version: meta.Version}, nil
}

// Runs create, upload-part and complete, each retried on its own. Parts are
// buffered one at a time so a retried part can be resent. Any failure
// aborts the upload.
func (s *Store) multipart(ctx context.Context, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions) (storage.PutResult, error) {
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.PutResult, error) {
		return s.multipartOn(ctx, t, location, r, partSize, options, objectHeaders{})
	})
	if err != nil {
		return storage.PutResult{}, s.fail(storage.OpPut, location, err)
	}
	return res, nil
}

func (s *Store) multipartOn(ctx context.Context, t *local.Thread, location storage.Path, r io.Reader, partSize int64, options storage.PutOptions, headers objectHeaders) (storage.PutResult, error) {
	create := options.Mode == storage.PutCreate
	s.logger.Debug("Starting multipart upload", "path", location, "part_size", partSize, "mode", options.Mode.String())

	createInput := &s3.CreateMultipartUploadInput{
		Bucket:             awssdk.String(s.bucket),
		Key:                awssdk.String(string(location)),
		Metadata:           headers.Metadata,
		CacheControl:       headers.CacheControl,
		ContentDisposition: headers.ContentDisposition,
		ContentEncoding:    headers.ContentEncoding,
		ContentLanguage:    headers.ContentLanguage,
	}
	if options.ContentType != "" {
		createInput.ContentType = awssdk.String(options.ContentType)
	}
	if tagging := encodeTags(options.Tags); tagging != "" {
		createInput.Tagging = awssdk.String(tagging)
	}

	uploadID, err := retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (string, error) {
		out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
			return s.api.CreateMultipartUpload(ctx, createInput)
		}, nil)
		if err != nil {
			return "", mapError(err, storage.OpPut, location, false)
		}
		if out.UploadId == nil {
			return "", storage.ProtocolError(storage.OpPut, location, "create multipart upload returned no upload id")
		}
		return *out.UploadId, nil
	})
	if err != nil {
		return storage.PutResult{}, err
	}

	result, err := s.uploadParts(ctx, t, location, uploadID, r, partSize, options, create)
	if err != nil {
		s.abort(ctx, t, location, uploadID)
		return storage.PutResult{}, err
	}
	return result, nil
}

func (s *Store) uploadParts(ctx context.Context, t *local.Thread, location storage.Path, uploadID string, r io.Reader, partSize int64, options storage.PutOptions, create bool) (storage.PutResult, error) {
	var parts []types.CompletedPart
	buf := make([]byte, partSize)
	for number := int32(1); ; number++ {
		n, rerr := io.ReadFull(r, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return storage.PutResult{}, fmt.Errorf("failed to read upload data: %w", rerr)
		}
		// An empty upload still needs one part
		if n == 0 && len(parts) > 0 {
			break
		}

		part := bytes.Clone(buf[:n])
		etag, err := retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (string, error) {
			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.UploadPartOutput, error) {
				return s.api.UploadPart(ctx, &s3.UploadPartInput{
					Bucket:        awssdk.String(s.bucket),
					Key:           awssdk.String(string(location)),
					UploadId:      awssdk.String(uploadID),
					PartNumber:    awssdk.Int32(number),
					Body:          bytes.NewReader(part),
					ContentLength: awssdk.Int64(int64(len(part))),
				})
			}, nil)
			if err != nil {
				return "", mapError(err, storage.OpPut, location, false)
			}
			return awssdk.ToString(out.ETag), nil
		})
		if err != nil {
			return storage.PutResult{}, err
		}
		parts = append(parts, types.CompletedPart{ETag: awssdk.String(etag), PartNumber: awssdk.Int32(number)})

		if rerr != nil {
			break
		}
	}

	completeInput := &s3.CompleteMultipartUploadInput{
		Bucket:          awssdk.String(s.bucket),
		Key:             awssdk.String(string(location)),
		UploadId:        awssdk.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}
	switch options.Mode {
	case storage.PutCreate:
		completeInput.IfNoneMatch = awssdk.String("*")
	case storage.PutUpdate:
		completeInput.IfMatch = awssdk.String(options.ETag)
	}

	s.logger.Debug("Completing multipart upload", "path", location, "parts", len(parts))
	return retry.Do(ctx, s.retry, storage.OpPut, func(ctx context.Context, attempt int) (storage.PutResult, error) {
		out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
			return s.api.CompleteMultipartUpload(ctx, completeInput)
		}, nil)
		if err != nil {
			return storage.PutResult{}, mapError(err, storage.OpPut, location, create)
		}
		return storage.PutResult{ETag: awssdk.ToString(out.ETag), Version: awssdk.ToString(out.VersionId)}, nil
	})
}

// Best effort; runs even when ctx is already cancelled
func (s *Store) abort(ctx context.Context, t *local.Thread, location storage.Path, uploadID string) {
	actx := context.WithoutCancel(ctx)
	_, err := local.Call(actx, t, func(ctx context.Context) (*s3.AbortMultipartUploadOutput, error) {
		return s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   awssdk.String(s.bucket),
			Key:      awssdk.String(string(location)),
			UploadId: awssdk.String(uploadID),
		})
	}, nil)
	if err != nil {
		s.logger.Warn("Failed to abort multipart upload", "path", location, "upload_id", uploadID, "error", err)
	}
}

func (s *Store) Delete(ctx context.Context, location storage.Path) error {
	if err := checkPath(storage.OpDelete, location); err != nil {
		return s.fail(storage.OpDelete, location, err)
	}

	s.logger.Debug("Deleting object", "path", location)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpDelete, func(ctx context.Context, attempt int) error {
			_, err := local.Call(ctx, t, func(ctx context.Context) (*s3.DeleteObjectOutput, error) {
				return s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: awssdk.String(s.bucket),
					Key:    awssdk.String(string(location)),
				})
			}, nil)
			return mapError(err, storage.OpDelete, location, false)
		})
	})
	if err != nil {
		return s.fail(storage.OpDelete, location, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix storage.Path) iter.Seq2[storage.ObjectMeta, error] {
	return storage.WalkPages(ctx, s, prefix)
}

func (s *Store) ListWithDelimiter(ctx context.Context, prefix storage.Path) (storage.ListResult, error) {
	return storage.CollectDelimited(ctx, s, prefix)
}

func (s *Store) ListPage(ctx context.Context, prefix storage.Path, delimited bool, cursor string) (storage.ListResult, error) {
	input := &s3.ListObjectsV2Input{Bucket: awssdk.String(s.bucket)}
	if p := prefix.DirPrefix(); p != "" {
		input.Prefix = awssdk.String(p)
	}
	if delimited {
		input.Delimiter = awssdk.String(storage.Delimiter)
	}
	if cursor != "" {
		input.ContinuationToken = awssdk.String(cursor)
	}

	s.logger.Debug("Listing page", "prefix", prefix, "delimited", delimited, "cursor", cursor)
	res, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (storage.ListResult, error) {
		return retry.Do(ctx, s.retry, storage.OpList, func(ctx context.Context, attempt int) (storage.ListResult, error) {
			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
				return s.api.ListObjectsV2(ctx, input)
			}, nil)
			if err != nil {
				return storage.ListResult{}, mapError(err, storage.OpList, prefix, false)
			}
			return listPage(out, prefix)
		})
	})
	if err != nil {
		return storage.ListResult{}, s.fail(storage.OpList, prefix, err)
	}
	return res, nil
}

// Converts one ListObjectsV2 page. Directory markers and keys outside
// prefix are dropped.
func listPage(out *s3.ListObjectsV2Output, prefix storage.Path) (storage.ListResult, error) {
	truncated := awssdk.ToBool(out.IsTruncated)
	if truncated && awssdk.ToString(out.NextContinuationToken) == "" {
		return storage.ListResult{}, storage.ProtocolError(storage.OpList, prefix, "truncated list response has no continuation token")
	}

	res := storage.ListResult{
		Objects:        make([]storage.ObjectMeta, 0, len(out.Contents)),
		CommonPrefixes: make([]storage.Path, 0, len(out.CommonPrefixes)),
	}
	if truncated {
		res.NextCursor = *out.NextContinuationToken
	}

	for _, obj := range out.Contents {
		key := awssdk.ToString(obj.Key)
		if key == "" || strings.HasSuffix(key, storage.Delimiter) {
			continue
		}
		location, err := storage.ParsePath(key)
		if err != nil || !location.HasPrefix(prefix) {
			continue
		}
		res.Objects = append(res.Objects, objectMeta(location, awssdk.ToInt64(obj.Size), obj.ETag, obj.LastModified, nil))
	}

	for _, cp := range out.CommonPrefixes {
		p, err := storage.ParsePrefix(awssdk.ToString(cp.Prefix))
		if err != nil || p.IsRoot() || !p.HasPrefix(prefix) {
			continue
		}
		res.CommonPrefixes = append(res.CommonPrefixes, p)
	}

	return storage.Partition(res), nil
}

func (s *Store) Copy(ctx context.Context, from, to storage.Path) error {
	if err := s.checkCopy(from, to); err != nil {
		return err
	}

	s.logger.Debug("Copying object", "from", from, "to", to)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		return struct{}{}, s.retry.Do(ctx, storage.OpCopy, func(ctx context.Context, attempt int) error {
			_, err := local.Call(ctx, t, func(ctx context.Context) (*s3.CopyObjectOutput, error) {
				return s.api.CopyObject(ctx, &s3.CopyObjectInput{
					Bucket:     awssdk.String(s.bucket),
					Key:        awssdk.String(string(to)),
					CopySource: awssdk.String(copySource(s.bucket, from)),
				})
			}, nil)
			return mapError(err, storage.OpCopy, to, false)
		})
	})
	if err != nil {
		return s.fail(storage.OpCopy, to, err)
	}
	return nil
}

// Sources up to this size are copied with a single buffered put
const copyBufferLimit = 64 * 1024 * 1024

// Headers a copy carries over from its source besides type and tags
type objectHeaders struct {
	Metadata           map[string]string
	CacheControl       *string
	ContentDisposition *string
	ContentEncoding    *string
	ContentLanguage    *string
}

func sourceHeaders(src *s3.GetObjectOutput) objectHeaders {
	return objectHeaders{
		Metadata:           src.Metadata,
		CacheControl:       src.CacheControl,
		ContentDisposition: src.ContentDisposition,
		ContentEncoding:    src.ContentEncoding,
		ContentLanguage:    src.ContentLanguage,
	}
}

// CopyObject has no create-only condition, so the source is read back and
// written with a conditional put. Sources up to copyBufferLimit are held in
// memory, which keeps the body seekable for signing and retries; larger
// ones go through a conditional multipart upload. Metadata and tags travel
// with the copy.
func (s *Store) CopyIfNotExists(ctx context.Context, from, to storage.Path) error {
	if err := s.checkCopy(from, to); err != nil {
		return err
	}

	s.logger.Debug("Copying object if absent", "from", from, "to", to)
	_, err := local.Run(ctx, s.timeout, func(ctx context.Context, t *local.Thread) (struct{}, error) {
		src, err := retry.Do(ctx, s.retry, storage.OpCopy, func(ctx context.Context, attempt int) (*s3.GetObjectOutput, error) {
			out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.GetObjectOutput, error) {
				return s.api.GetObject(ctx, &s3.GetObjectInput{
					Bucket: awssdk.String(s.bucket),
					Key:    awssdk.String(string(from)),
				})
			}, discardObject)
			if err != nil {
				return nil, mapError(err, storage.OpCopy, from, false)
			}
			return out, nil
		})
		if err != nil {
			return struct{}{}, err
		}
		defer discardObject(src)

		options := storage.PutOptions{Mode: storage.PutCreate, ContentType: awssdk.ToString(src.ContentType)}
		if awssdk.ToInt32(src.TagCount) > 0 {
			if options.Tags, err = s.objectTags(ctx, t, from); err != nil {
				return struct{}{}, err
			}
		}
		headers := sourceHeaders(src)

		if src.ContentLength == nil || *src.ContentLength > copyBufferLimit {
			_, err := s.multipartOn(ctx, t, to, src.Body, s.partSize, options, headers)
			return struct{}{}, err
		}

		data, err := io.ReadAll(src.Body)
		if err != nil {
			return struct{}{}, storage.FromTransport(err, storage.OpCopy, from)
		}
		return struct{}{}, s.retry.Do(ctx, storage.OpCopy, func(ctx context.Context, attempt int) error {
			input := &s3.PutObjectInput{
				Bucket:             awssdk.String(s.bucket),
				Key:                awssdk.String(string(to)),
				Body:               bytes.NewReader(data),
				ContentLength:      awssdk.Int64(int64(len(data))),
				Metadata:           headers.Metadata,
				CacheControl:       headers.CacheControl,
				ContentDisposition: headers.ContentDisposition,
				ContentEncoding:    headers.ContentEncoding,
				ContentLanguage:    headers.ContentLanguage,
			}
			applyPutOptions(input, options)
			_, err := local.Call(ctx, t, func(ctx context.Context) (*s3.PutObjectOutput, error) {
				return s.api.PutObject(ctx, input)
			}, nil)
			return mapError(err, storage.OpCopy, to, true)
		})
	})
	if err != nil {
		return s.fail(storage.OpCopy, to, err)
	}
	return nil
}

func (s *Store) objectTags(ctx context.Context, t *local.Thread, location storage.Path) (map[string]string, error) {
	return retry.Do(ctx, s.retry, storage.OpCopy, func(ctx context.Context, attempt int) (map[string]string, error) {
		out, err := local.Call(ctx, t, func(ctx context.Context) (*s3.GetObjectTaggingOutput, error) {
			return s.api.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
				Bucket: awssdk.String(s.bucket),
				Key:    awssdk.String(string(location)),
			})
		}, nil)
		if err != nil {
			return nil, mapError(err, storage.OpCopy, location, false)
		}
		tags := make(map[string]string, len(out.TagSet))
		for _, tag := range out.TagSet {
			tags[awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
		}
		return tags, nil
	})
}

func (s *Store) checkCopy(from, to storage.Path) error {
	if err := checkPath(storage.OpCopy, from); err != nil {
		return s.fail(storage.OpCopy, from, err)
	}
	if err := checkPath(storage.OpCopy, to); err != nil {
		return s.fail(storage.OpCopy, to, err)
	}
	return nil
}

// CopySource is "<bucket>/<key>" with every segment escaped
func copySource(bucket string, key storage.Path) string {
	parts := key.Parts()
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(bucket))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (s *Store) Rename(ctx context.Context, from, to storage.Path) error {
	return s.fail(storage.OpRename, from, storage.RenameByCopy(ctx, s, from, to, false))
}

func (s *Store) RenameIfNotExists(ctx context.Context, from, to storage.Path) error {
	return s.fail(storage.OpRename, from, storage.RenameByCopy(ctx, s, from, to, true))
}

func (s *Store) Close() error {
	return nil
}

// Normalizes any failure leaving the store into a *storage.Error carrying
// the store's name. Nil stays nil.
func (s *Store) fail(op storage.Op, location storage.Path, err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if !errors.As(err, &se) {
		return &storage.Error{Kind: storage.KindGeneric, Store: s.name, Op: op, Path: location, Err: err}
	}
	return storage.Annotate(err, s.name, op)
}

func checkPath(op storage.Op, location storage.Path) error {
	if location.IsRoot() {
		return storage.InvalidInput(op, location, "object path is empty")
	}
	return nil
}
