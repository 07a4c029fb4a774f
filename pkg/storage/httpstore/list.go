// File: pkg/storage/httpstore/list.go
package httpstore

import (
	"encoding/xml"
	"io"
	"strings"
	"time"

	"objstore/pkg/storage"
)

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	IsTruncated           bool           `xml:"IsTruncated"`
	NextContinuationToken string         `xml:"NextContinuationToken"`
	Contents              []listEntry    `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

type listEntry struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	VersionID    string `xml:"VersionId"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// Decodes one ListObjectsV2 page. Entries outside prefix and directory
// markers are dropped, and an object that collides with a common prefix
// gives way to the prefix.
func decodeListPage(r io.Reader, prefix storage.Path) (storage.ListResult, error) {
	var doc listBucketResult
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return storage.ListResult{}, storage.ProtocolError(storage.OpList, prefix, "failed to decode list response: %v", err)
	}

	if doc.IsTruncated && doc.NextContinuationToken == "" {
		return storage.ListResult{}, storage.ProtocolError(storage.OpList, prefix, "truncated list response has no continuation token")
	}

	res := storage.ListResult{
		Objects:        make([]storage.ObjectMeta, 0, len(doc.Contents)),
		CommonPrefixes: make([]storage.Path, 0, len(doc.CommonPrefixes)),
	}
	if doc.IsTruncated {
		res.NextCursor = doc.NextContinuationToken
	}

	for _, entry := range doc.Contents {
		if strings.HasSuffix(entry.Key, storage.Delimiter) {
			continue
		}
		location, err := storage.ParsePath(entry.Key)
		if err != nil || !location.HasPrefix(prefix) {
			continue
		}
		meta := storage.ObjectMeta{
			Location:     location,
			Size:         entry.Size,
			ETag:         entry.ETag,
			Version:      entry.VersionID,
			LastModified: time.Unix(0, 0).UTC(),
		}
		if entry.LastModified != "" {
			t, err := time.Parse(time.RFC3339Nano, entry.LastModified)
			if err != nil {
				return storage.ListResult{}, storage.ProtocolError(storage.OpList, prefix, "invalid last-modified %q for %q", entry.LastModified, entry.Key)
			}
			meta.LastModified = t.UTC()
		}
		res.Objects = append(res.Objects, meta)
	}

	for _, cp := range doc.CommonPrefixes {
		p, err := storage.ParsePrefix(cp.Prefix)
		if err != nil || p.IsRoot() || !p.HasPrefix(prefix) {
			continue
		}
		res.CommonPrefixes = append(res.CommonPrefixes, p)
	}

	return storage.Partition(res), nil
}
