// Package s3 implements an S3 (or S3-compatible) backend for shadowfs.
//
// This file contains the backend type, client construction, key mapping and
// error translation. Read and write operations live in s3_read.go and
// s3_write.go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
)

// S3Backend implements backend.Backend on an S3 bucket.
//
// Key Design:
//   - A logical path maps to the object key "<prefix><path>" (leading "/" dropped)
//   - Directories are zero-byte marker objects whose key ends in "/"
//   - A directory also exists implicitly while any object lives below it
//   - The bucket mirrors the logical tree and stays human-readable
//
// S3 Characteristics:
//   - AppendBytes is a read-modify-write and not atomic
//   - Rename is CopyObject followed by DeleteObject
//   - Throttling responses (SlowDown, TooManyRequests) map to
//     backend.ErrResourceExhausted so the cache layer can defer the operation
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are last-writer-wins.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   Metrics
	closed    atomic.Bool
}

// Config contains the S3 backend configuration.
type Config struct {
	// Bucket is the S3 bucket name (must exist)
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Region is the AWS region
	Region string `mapstructure:"region" validate:"required"`

	// Endpoint is a custom endpoint for S3-compatible storage (MinIO, Localstack, ...)
	Endpoint string `mapstructure:"endpoint"`

	// KeyPrefix is prepended to every object key
	// Example: "shadowfs/" results in keys like "shadowfs/records/a.json"
	KeyPrefix string `mapstructure:"key_prefix"`

	// AccessKeyID and SecretAccessKey select static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries bounds SDK-level retries of transient failures (default: 10)
	MaxRetries int `mapstructure:"max_retries"`

	// ForcePathStyle forces path-style addressing (set automatically with Endpoint)
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Metrics receives per-request observations (nil = no metrics)
	Metrics Metrics `mapstructure:"-"`
}

// NewClient builds an S3 client from cfg.
//
// Parameters:
//   - ctx: Context for loading the AWS configuration
//   - cfg: Backend configuration
//
// Returns:
//   - *s3.Client: Configured client
//   - error: Returns error if the AWS configuration cannot be loaded
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return client, nil
}

// NewS3Backend creates an S3 backend using an existing client.
//
// The bucket must already exist; its access is verified with HeadBucket.
func NewS3Backend(ctx context.Context, client *s3.Client, cfg Config) (*S3Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	var m Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	start := time.Now()
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	m.ObserveOperation("head_bucket", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return &S3Backend{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   m,
	}, nil
}

// New builds the client and the backend in one step.
func New(ctx context.Context, cfg Config) (*S3Backend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 backend: region is required")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Backend(ctx, client, cfg)
}

// objectKey maps a logical path to its object key.
func (s *S3Backend) objectKey(p string) (string, error) {
	clean := strings.TrimPrefix(backend.CleanPath(p), "/")
	if clean == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%q: %w", p, backend.ErrInvalidPath)
	}
	return s.keyPrefix + clean, nil
}

// dirPrefix returns the listing prefix (and marker key) of a directory key.
func dirPrefix(key string) string {
	return key + "/"
}

func (s *S3Backend) begin(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", backend.ErrClosed
	}
	return s.objectKey(p)
}

// copySource builds the URL-encoded CopySource value for key.
func (s *S3Backend) copySource(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.bucket + "/" + strings.Join(segments, "/")
}

// Close marks the backend closed. The S3 client holds no resources to release.
func (s *S3Backend) Close() error {
	s.closed.Store(true)
	return nil
}

// ============================================================================
// Error Translation
// ============================================================================

// throttleCodes are the API error codes S3 and compatible stores use when a
// client exceeds the request rate.
var throttleCodes = map[string]bool{
	"SlowDown":                 true,
	"RequestLimitExceeded":     true,
	"TooManyRequests":          true,
	"TooManyRequestsException": true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"RequestThrottled":         true,
	"ServiceUnavailable":       true,
}

// mapErr translates an SDK error into the backend taxonomy.
func mapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if backend.IsCancelled(err) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, backend.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "NoSuchKey" || code == "NotFound":
			return fmt.Errorf("%s %s: %w", op, key, backend.ErrNotFound)
		case throttleCodes[code]:
			return fmt.Errorf("%s %s: %w: %w", op, key, backend.ErrResourceExhausted, err)
		}
	}

	return fmt.Errorf("%s %s: %w", op, key, err)
}

var _ backend.Backend = (*S3Backend)(nil)
