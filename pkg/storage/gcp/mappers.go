// File: pkg/storage/gcp/mappers.go
package gcp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"objstore/pkg/storage"

	gcpstorage "cloud.google.com/go/storage"
)

// Maps GCP object attributes to the common metadata. The generation is the
// object's version.
func mapObjectAttributes(location storage.Path, attrs *gcpstorage.ObjectAttrs) storage.ObjectMeta {
	meta := storage.ObjectMeta{
		Location:     location,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: time.Unix(0, 0).UTC(),
	}
	if meta.ETag == "" {
		meta.ETag = formatMD5(attrs.MD5)
	}
	if attrs.Generation > 0 {
		meta.Version = strconv.FormatInt(attrs.Generation, 10)
	}
	if !attrs.Updated.IsZero() {
		meta.LastModified = attrs.Updated.UTC()
	}
	return meta
}

// Converts the raw MD5 hash provided by GCP SDK into a standard Base64 encoded string
func formatMD5(hash []byte) string {
	if len(hash) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(hash)
}

// Versions are decimal generation numbers; empty means the live object
func parseGeneration(version string) (int64, error) {
	if version == "" {
		return 0, nil
	}
	gen, err := strconv.ParseInt(version, 10, 64)
	if err != nil || gen <= 0 {
		return 0, fmt.Errorf("invalid generation %q", version)
	}
	return gen, nil
}

func sameETag(a, b string) bool {
	return strings.Trim(a, `"`) == strings.Trim(b, `"`)
}

// GCS has no conditional reads, so the get conditions are evaluated against
// the object's attributes. Times compare at second precision, as they do
// in HTTP headers.
func checkConditions(meta storage.ObjectMeta, options storage.GetOptions) error {
	modified := meta.LastModified.Truncate(time.Second)

	if options.IfMatch != "" {
		if options.IfMatch != "*" && !sameETag(options.IfMatch, meta.ETag) {
			return &storage.Error{Kind: storage.KindPrecondition, Path: meta.Location, Err: fmt.Errorf("etag %q does not match %q", meta.ETag, options.IfMatch)}
		}
	} else if options.IfUnmodifiedSince != nil && modified.After(*options.IfUnmodifiedSince) {
		return &storage.Error{Kind: storage.KindPrecondition, Path: meta.Location, Err: fmt.Errorf("object modified at %s", meta.LastModified.Format(time.RFC3339))}
	}

	if options.IfNoneMatch != "" {
		if options.IfNoneMatch == "*" || sameETag(options.IfNoneMatch, meta.ETag) {
			return &storage.Error{Kind: storage.KindNotModified, Path: meta.Location}
		}
	} else if options.IfModifiedSince != nil && !modified.After(*options.IfModifiedSince) {
		return &storage.Error{Kind: storage.KindNotModified, Path: meta.Location}
	}
	return nil
}

// Converts one listing page. Entries with Prefix set are common prefixes;
// directory markers and names outside prefix are dropped.
func mapListPage(page []*gcpstorage.ObjectAttrs, next string, prefix storage.Path) storage.ListResult {
	res := storage.ListResult{
		Objects:    make([]storage.ObjectMeta, 0, len(page)),
		NextCursor: next,
	}
	for _, attrs := range page {
		if attrs == nil {
			continue
		}
		if attrs.Prefix != "" {
			p, err := storage.ParsePrefix(attrs.Prefix)
			if err != nil || p.IsRoot() || !p.HasPrefix(prefix) {
				continue
			}
			res.CommonPrefixes = append(res.CommonPrefixes, p)
			continue
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, storage.Delimiter) {
			continue
		}
		location, err := storage.ParsePath(attrs.Name)
		if err != nil || !location.HasPrefix(prefix) {
			continue
		}
		res.Objects = append(res.Objects, mapObjectAttributes(location, attrs))
	}
	return storage.Partition(res)
}
