// File: pkg/storage/httpstore/provider.go
package httpstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"objstore/internal/config"
	"objstore/internal/provider/registry"
	"objstore/pkg/common"
	"objstore/pkg/storage"
)

func init() {
	registry.RegisterProvider(common.HTTP.String(), registry.ProviderRegistration{
		ConfigCheck: isConfigured,
		Initializer: initialize,
		ParseURL:    parseURL,
	})
}

// Checks if a base URL is configured for the HTTP store
func isConfigured(cfg *config.Config) bool {
	return cfg.HTTP.URL != ""
}

// Initializes the HTTP store from the configuration
func initialize(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if !isConfigured(cfg) {
		return nil, fmt.Errorf("HTTP configuration missing or incomplete")
	}
	return New(FromConfig(cfg), logger, WithName(common.HTTP.String()))
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		URL:               cfg.HTTP.URL,
		Headers:           cfg.HTTP.Headers,
		UserAgent:         cfg.HTTP.UserAgent,
		StrictRanges:      cfg.HTTP.StrictRanges,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Retry:             cfg.Retry,
	}
}

// Handles any http(s) URL. A URL below the configured base URL resolves to
// that store; any other URL is read as host/bucket/key.
func parseURL(u *url.URL, cfg *config.Config) (storage.Path, bool, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false, nil
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("missing host")
	}

	if cfg.HTTP.URL != "" {
		base, err := url.Parse(cfg.HTTP.URL)
		if err == nil && base.Scheme == u.Scheme && base.Host == u.Host {
			basePath := strings.TrimSuffix(base.EscapedPath(), "/")
			full := u.EscapedPath()
			if full == basePath || strings.HasPrefix(full, basePath+"/") {
				path, err := storage.PathFromURLPath(strings.TrimPrefix(full, basePath))
				return path, err == nil, err
			}
		}
	}

	segments := strings.SplitN(strings.TrimPrefix(u.EscapedPath(), "/"), "/", 2)
	if segments[0] == "" {
		return "", false, fmt.Errorf("missing bucket in path")
	}
	base := url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User, Path: "/" + segments[0]}
	if unescaped, err := url.PathUnescape(segments[0]); err == nil {
		base.Path = "/" + unescaped
		base.RawPath = "/" + segments[0]
	}
	cfg.HTTP.URL = base.String()

	var path storage.Path
	if len(segments) == 2 {
		p, err := storage.PathFromURLPath(segments[1])
		if err != nil {
			return "", false, err
		}
		path = p
	}
	return path, true, nil
}
