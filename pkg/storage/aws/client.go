// File: pkg/storage/aws/client.go
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"objstore/internal/config"
	"objstore/internal/provider/registry"
	"objstore/pkg/common"
	"objstore/pkg/storage"
	"objstore/pkg/storage/retry"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func init() {
	registry.RegisterProvider(common.AWS.String(), registry.ProviderRegistration{
		ConfigCheck: isConfigured,
		Initializer: initialize,
		ParseURL:    parseURL,
		Priority:    10,
	})
}

// Checks if the AWS configuration names a bucket
func isConfigured(cfg *config.Config) bool {
	return cfg.AWS.Bucket != ""
}

// Initializes the S3 store from the configuration
func initialize(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if !isConfigured(cfg) {
		return nil, fmt.Errorf("AWS configuration missing or incomplete")
	}
	return New(ctx, FromConfig(cfg), logger)
}

// The subset of the S3 API the store calls
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Streams unconditional multipart uploads
type Uploader interface {
	UploadObject(ctx context.Context, input *transfermanager.UploadObjectInput, optFns ...func(*transfermanager.Options)) (*transfermanager.UploadObjectOutput, error)
}

// Config describes one S3 bucket and how to reach it
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// Static credentials; empty uses the default credential chain
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	PartSize        int64
	Timeout         time.Duration
	Retry           retry.Policy
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Bucket:          cfg.AWS.Bucket,
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
		PathStyle:       cfg.AWS.PathStyle,
		PartSize:        cfg.AWS.PartSize,
		Timeout:         cfg.Timeout,
		Retry:           cfg.Retry,
	}
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("s3 endpoint %q must be a valid http(s) URL and must use http or https", c.Endpoint)
		}
	} else if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if c.PartSize != 0 && c.PartSize < storage.MinPartSize {
		return fmt.Errorf("s3 part size %d is below the %d byte minimum", c.PartSize, storage.MinPartSize)
	}
	return nil
}

type options struct {
	api          S3API
	uploader     Uploader
	retryOptions []retry.Option
	name         string
}

type Option func(*options)

// Replaces the SDK client; the uploader is left unset unless given as well
func WithAPI(api S3API) Option {
	return func(o *options) { o.api = api }
}

func WithUploader(u Uploader) Option {
	return func(o *options) { o.uploader = u }
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOptions = append(o.retryOptions, opts...) }
}

// Names the store in errors and logs; defaults to "aws"
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Builds the SDK client. The SDK's own retryer is disabled so every retry
// goes through the store's controller.
func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		// S3-compatible endpoints such as R2 ignore the region
		region = "auto"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = awssdk.NopRetryer{}
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
	}), nil
}

func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{name: common.AWS.String()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.api == nil {
		client, err := newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		o.api = client
		if o.uploader == nil {
			o.uploader = transfermanager.New(client)
		}
	}

	controller, err := retry.New(cfg.Retry, logger, o.retryOptions...)
	if err != nil {
		return nil, err
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = storage.MinPartSize
	}

	return &Store{
		name:     o.name,
		bucket:   cfg.Bucket,
		api:      o.api,
		uploader: o.uploader,
		retry:    controller,
		timeout:  cfg.Timeout,
		partSize: partSize,
		logger:   logger.With("bucket", cfg.Bucket),
	}, nil
}
