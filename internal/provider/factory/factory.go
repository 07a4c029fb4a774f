// File: internal/provider/factory/factory.go
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"objstore/internal/config"
	"objstore/internal/provider/registry"
	"objstore/pkg/storage"
)

type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// An object store together with the object a URL pointed at
type Target struct {
	Provider string
	Store    storage.ObjectStore
	Path     storage.Path
}

// Names of the registered providers whose settings are present, sorted
func (f *Factory) GetConfiguredProviders() []string {
	var configured []string
	for _, name := range registry.GetSupportedProviders() {
		if f.IsConfigured(name) {
			configured = append(configured, name)
		}
	}
	return configured
}

func (f *Factory) IsConfigured(providerName string) bool {
	reg, ok := registry.GetRegistration(providerName)
	return ok && reg.ConfigCheck(f.cfg)
}

// Opens the named provider's store from the loaded configuration
func (f *Factory) GetStorageProvider(ctx context.Context, providerName string) (storage.ObjectStore, error) {
	return f.initialize(ctx, strings.ToLower(providerName), f.cfg)
}

func (f *Factory) initialize(ctx context.Context, name string, cfg *config.Config) (storage.ObjectStore, error) {
	reg, ok := registry.GetRegistration(name)
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported provider: %s. Supported providers are: %v", name, registry.GetSupportedProviders())
	case !reg.ConfigCheck(cfg):
		return nil, fmt.Errorf("provider '%s' is not configured. Use 'objstore config set %s.<key> <value>' (e.g., 'aws.bucket' or 'http.url')", name, name)
	}

	store, err := reg.Initializer(ctx, cfg, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	return store, nil
}

// Resolves a storage URL such as s3://bucket/key, gs://bucket/key or
// https://host/base/key to an initialized store and the object path below
// it. Settings the URL carries override the loaded configuration for this
// store only.
func (f *Factory) FromURL(ctx context.Context, raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid storage url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Target{}, fmt.Errorf("storage url %q has no scheme (expected e.g. s3://, gs:// or https://)", raw)
	}

	for _, parser := range registry.URLParsers() {
		cfg := *f.cfg
		path, ok, err := parser.Parse(u, &cfg)
		if err != nil {
			return Target{}, fmt.Errorf("invalid %s url %q: %w", parser.Name, raw, err)
		}
		if !ok {
			continue
		}

		f.logger.Debug("Resolved storage url", "url", u.Redacted(), "provider", parser.Name, "path", path)
		store, err := f.initialize(ctx, parser.Name, &cfg)
		if err != nil {
			return Target{}, err
		}
		return Target{Provider: parser.Name, Store: store, Path: path}, nil
	}

	return Target{}, fmt.Errorf("no provider recognizes storage url %q. Supported providers are: %v", raw, registry.GetSupportedProviders())
}
