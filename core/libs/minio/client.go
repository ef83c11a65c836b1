package mio

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string

	Bucket       string
	// Prefix is joined in front of keys that name no bucket of their own.
	Prefix       string
	// CreateBucket makes the bucket when missing. Readers leave it off and
	// fail on a missing bucket instead.
	CreateBucket bool

	Retry RetryConfig
}

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = time.Second
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = 30 * time.Second
	}
	return r
}

// ObjectKey maps a key relative to the configured prefix to the stored key.
func (c Config) ObjectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if c.Prefix == "" {
		return key
	}
	return path.Join(c.Prefix, key)
}

// NewClient builds the client and waits, with backoff, until the bucket is
// reachable.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, errors.New("empty MinIO endpoint")
	case cfg.Bucket == "":
		return nil, errors.New("empty MinIO bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	err = Backoff(ctx, cfg.Retry, func() error {
		return ensureBucket(ctx, client, cfg.Bucket, cfg.CreateBucket)
	})
	if err != nil {
		return nil, fmt.Errorf("init MinIO %s: %w", cfg.Endpoint, err)
	}
	return client, nil
}

// Backoff runs op until it succeeds, the attempts run out or ctx ends. The
// pause doubles after each failure up to MaxInterval.
func Backoff(ctx context.Context, retry RetryConfig, op func() error) error {
	retry = retry.withDefaults()
	interval := retry.InitialInterval

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == retry.MaxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(interval):
		}
		interval = min(interval*2, retry.MaxInterval)
	}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, create bool) error {
	exists, err := client.BucketExists(ctx, bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket exists: %w", err)
	case exists:
		return nil
	case !create:
		return fmt.Errorf("bucket %q does not exist", bucket)
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}
