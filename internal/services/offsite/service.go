// Package offsite copies finished backups to S3-compatible object storage.
package offsite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for offsite copies.
type Service interface {
	Upload(ctx context.Context, cfg models.OffsiteConfig, runDir string) (*models.OffsiteResult, error)
}

// Uploader is the subset of the S3 client used here.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientFactory builds an Uploader for a configuration.
type ClientFactory func(ctx context.Context, cfg models.OffsiteConfig) (Uploader, error)

// Impl implements the Service interface.
type Impl struct {
	newClient ClientFactory
	logger    zerolog.Logger
}

// New creates a new offsite service backed by the AWS SDK.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		newClient: NewClient,
		logger:    logger,
	}
}

// NewWithFactory creates a new offsite service with a custom client factory (for testing).
func NewWithFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		newClient: factory,
		logger:    logger,
	}
}

// NewClient creates an S3 client. Static credentials are used when configured, otherwise
// the default AWS credential chain applies.
func NewClient(ctx context.Context, cfg models.OffsiteConfig) (Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most other S3-compatible stores need path-style addressing.
			o.UsePathStyle = true
		}
	}), nil
}

// ObjectKey returns the key a run directory is stored under.
func ObjectKey(prefix, runDir string) string {
	return path.Join(prefix, filepath.Base(runDir)+".tar.gz")
}

// Upload archives runDir and stores it in the configured bucket.
func (s *Impl) Upload(ctx context.Context, cfg models.OffsiteConfig, runDir string) (*models.OffsiteResult, error) {
	start := time.Now()
	key := ObjectKey(cfg.Prefix, runDir)

	s.logger.Info().
		Str("bucket", cfg.Bucket).
		Str("key", key).
		Msg("uploading offsite copy")

	tmp, err := os.CreateTemp("", "dynabackup-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("creating archive file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	files, err := Archive(tmp, runDir)
	if err != nil {
		return nil, err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("sizing archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding archive: %w", err)
	}

	client, err := s.newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s to bucket %s: %w", key, cfg.Bucket, err)
	}

	result := &models.OffsiteResult{
		Key:       key,
		SizeBytes: size,
		Duration:  time.Since(start),
	}

	s.logger.Info().
		Str("key", key).
		Int("files", files).
		Int64("size", size).
		Dur("duration", result.Duration).
		Msg("offsite copy uploaded")

	return result, nil
}
