// File: pkg/storage/aws/url.go
package aws

import (
	"fmt"
	"net/url"
	"strings"

	"objstore/internal/config"
	"objstore/pkg/storage"
)

const (
	amazonSuffix = ".amazonaws.com"
	r2Suffix     = ".r2.cloudflarestorage.com"
)

// Recognizes s3:// and s3a:// URLs, virtual-hosted and path-style AWS
// endpoints and Cloudflare R2 account endpoints. On a match cfg is pointed
// at the bucket (and region or endpoint) the URL names.
func parseURL(u *url.URL, cfg *config.Config) (storage.Path, bool, error) {
	switch u.Scheme {
	case "s3", "s3a":
		if u.Host == "" {
			return "", false, fmt.Errorf("missing bucket")
		}
		cfg.AWS.Bucket = u.Host
		path, err := storage.PathFromURLPath(u.EscapedPath())
		return path, err == nil, err
	case "http", "https":
	default:
		return "", false, nil
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, r2Suffix):
		bucket, path, err := splitBucket(u)
		if err != nil {
			return "", false, err
		}
		cfg.AWS.Bucket = bucket
		cfg.AWS.Endpoint = (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
		cfg.AWS.Region = "auto"
		cfg.AWS.PathStyle = true
		return path, true, nil

	case strings.HasSuffix(host, amazonSuffix):
		labels := strings.Split(strings.TrimSuffix(host, amazonSuffix), ".")
		for i, label := range labels {
			if label != "s3" && !strings.HasPrefix(label, "s3-") {
				continue
			}
			region := regionFrom(label, labels[i+1:])
			if region != "" {
				cfg.AWS.Region = region
			}
			if i > 0 {
				// Virtual-hosted style: the bucket leads the host name
				cfg.AWS.Bucket = strings.Join(labels[:i], ".")
				path, err := storage.PathFromURLPath(u.EscapedPath())
				return path, err == nil, err
			}
			bucket, path, err := splitBucket(u)
			if err != nil {
				return "", false, err
			}
			cfg.AWS.Bucket = bucket
			return path, true, nil
		}
	}
	return "", false, nil
}

// s3.<region>, s3-<region> and plain s3 (us-east-1)
func regionFrom(label string, rest []string) string {
	if r, ok := strings.CutPrefix(label, "s3-"); ok {
		return r
	}
	for _, l := range rest {
		if l != "dualstack" && l != "s3-accelerate" {
			return l
		}
	}
	return ""
}

// Splits a path-style URL path into bucket and key
func splitBucket(u *url.URL) (string, storage.Path, error) {
	first, rest, _ := strings.Cut(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if first == "" {
		return "", "", fmt.Errorf("missing bucket in path")
	}
	bucket, err := url.PathUnescape(first)
	if err != nil {
		return "", "", err
	}
	path, err := storage.PathFromURLPath(rest)
	if err != nil {
		return "", "", err
	}
	return bucket, path, nil
}
