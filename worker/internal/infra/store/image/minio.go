package imagestore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	mio "github.com/spheroseg/segpipeline/core/libs/minio"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type objectGetter interface {
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

type minioStore struct {
	db     objectGetter
	bucket string
	prefix string
}

func NewMinIOStore(ctx context.Context, cfg mio.Config) (*minioStore, error) {
	mioClient, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &minioStore{db: mioClient, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Fetch downloads minio://key (default bucket, under the configured prefix)
// or s3://bucket/key into scratchDir.
func (s *minioStore) Fetch(ctx context.Context, locator, scratchDir string) (string, error) {
	bucket, object, err := s.objectName(locator)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(scratchDir, "source"+path.Ext(object))
	if err := s.db.FGetObject(ctx, bucket, object, dst, minio.GetObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == minio.NoSuchKey || resp.Code == "NoSuchBucket" {
			return "", fmt.Errorf("%w: %s", domain.ErrImageNotFound, locator)
		}
		return "", fmt.Errorf("get object: %w", err)
	}
	return dst, nil
}

func (s *minioStore) objectName(locator string) (bucket, object string, err error) {
	switch {
	case strings.HasPrefix(locator, "minio://"):
		bucket, object = s.bucket, strings.TrimPrefix(locator, "minio://")
	case strings.HasPrefix(locator, "s3://"):
		rest := strings.TrimPrefix(locator, "s3://")
		bucket, object, _ = strings.Cut(rest, "/")
	default:
		return "", "", fmt.Errorf("%w: not an object locator: %s", domain.ErrImageNotFound, locator)
	}

	clean := strings.TrimLeft(path.Clean("/"+object), "/")
	if bucket == "" || clean == "" || clean == "." {
		return "", "", fmt.Errorf("%w: invalid object locator: %s", domain.ErrImageNotFound, locator)
	}
	if bucket == s.bucket && strings.HasPrefix(locator, "minio://") {
		clean = mio.Config{Prefix: s.prefix}.ObjectKey(clean)
	}
	return bucket, clean, nil
}
