// File: pkg/storage/gcp/url.go
package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"objstore/internal/config"
	"objstore/pkg/storage"
)

const (
	apiHost       = "storage.googleapis.com"
	virtualSuffix = "." + apiHost
)

// Recognizes gs:// URLs and storage.googleapis.com URLs in path or
// virtual-hosted style
func parseURL(u *url.URL, cfg *config.Config) (storage.Path, bool, error) {
	var bucket, rest string
	switch u.Scheme {
	case "gs":
		bucket, rest = u.Host, u.EscapedPath()
	case "http", "https":
		host := strings.ToLower(u.Hostname())
		switch {
		case host == apiHost:
			first, tail, _ := strings.Cut(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
			unescaped, err := url.PathUnescape(first)
			if err != nil {
				return "", false, err
			}
			bucket, rest = unescaped, tail
		case strings.HasSuffix(host, virtualSuffix):
			bucket, rest = strings.TrimSuffix(host, virtualSuffix), u.EscapedPath()
		default:
			return "", false, nil
		}
	default:
		return "", false, nil
	}

	if bucket == "" {
		return "", false, fmt.Errorf("missing bucket")
	}
	path, err := storage.PathFromURLPath(rest)
	if err != nil {
		return "", false, err
	}
	cfg.GCP.Bucket = bucket
	return path, true, nil
}
