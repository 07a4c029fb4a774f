// File: pkg/storage/gcp/client.go
package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"objstore/internal/config"
	"objstore/internal/provider/registry"
	"objstore/pkg/common"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"

	gcpstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func init() {
	registry.RegisterProvider(common.GCP.String(), registry.ProviderRegistration{
		ConfigCheck: isConfigured,
		Initializer: initialize,
		ParseURL:    parseURL,
		Priority:    10,
	})
}

// Checks if the GCP configuration names a bucket
func isConfigured(cfg *config.Config) bool {
	return cfg.GCP.Bucket != ""
}

// Initializes the GCS store from the configuration
func initialize(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if !isConfigured(cfg) {
		return nil, fmt.Errorf("GCP configuration missing or incomplete")
	}
	return New(ctx, FromConfig(cfg), logger)
}

// Config describes one GCS bucket and how to reach it
type Config struct {
	// Only needed for usage metrics
	Project  string
	Bucket   string
	Endpoint string
	// Skip credential lookup, for emulators and public buckets
	Anonymous bool
	Timeout   time.Duration
	Retry     retry.Policy
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Project:   cfg.GCP.Project,
		Bucket:    cfg.GCP.Bucket,
		Endpoint:  cfg.GCP.Endpoint,
		Anonymous: cfg.GCP.Anonymous,
		Timeout:   cfg.Timeout,
		Retry:     cfg.Retry,
	}
}

// Client options shared by the storage and monitoring clients
func (c Config) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts
}

type options struct {
	client       *gcpstorage.Client
	api          bucketAPI
	retryOptions []retry.Option
	name         string
}

type Option func(*options)

// Uses an existing client; the store takes ownership and closes it
func WithClient(c *gcpstorage.Client) Option {
	return func(o *options) { o.client = c }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOptions = append(o.retryOptions, opts...) }
}

// Names the store in errors and logs; defaults to "gcp"
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Replaces the bucket client, for tests
func withAPI(api bucketAPI) Option {
	return func(o *options) { o.api = api }
}

// Store implements storage.ObjectStore on one GCS bucket. Object versions
// are GCS generations.
type Store struct {
	name    string
	client  *gcpstorage.Client
	api     bucketAPI
	cfg     Config
	retry   *retry.Controller
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ storage.ObjectStore   = (*Store)(nil)
	_ storage.UsageReporter = (*Store)(nil)
)

func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	o := options{name: common.GCP.String()}
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil && o.api == nil {
		clientOpts := cfg.clientOptions()
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
		}
		var err error
		client, err = gcpstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP storage client: %w", err)
		}
	}
	api := o.api
	if api == nil {
		// Retries are driven by the store's controller
		client.SetRetry(gcpstorage.WithPolicy(gcpstorage.RetryNever))
		api = &bucketHandle{bucket: client.Bucket(cfg.Bucket)}
	}

	controller, err := retry.New(cfg.Retry, logger, o.retryOptions...)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, err
	}

	return &Store{
		name:    o.name,
		client:  client,
		api:     api,
		cfg:     cfg,
		retry:   controller,
		timeout: cfg.Timeout,
		logger:  logger.With("bucket", cfg.Bucket),
	}, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("%s(gs://%s)", s.name, s.cfg.Bucket)
}

func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
