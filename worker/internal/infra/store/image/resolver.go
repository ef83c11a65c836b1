package imagestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type Source interface {
	Fetch(ctx context.Context, locator, scratchDir string) (string, error)
}

// Resolver picks a source by locator scheme: minio:// and s3:// go to
// object storage, anything else is a local path.
type Resolver struct {
	local  Source
	remote Source
}

func NewResolver(local, remote Source) *Resolver {
	return &Resolver{local: local, remote: remote}
}

func (r *Resolver) Fetch(ctx context.Context, locator, scratchDir string) (string, error) {
	if isObjectLocator(locator) {
		if r.remote == nil {
			return "", fmt.Errorf("%w: object storage not configured for %s", domain.ErrImageNotFound, locator)
		}
		return r.remote.Fetch(ctx, locator, scratchDir)
	}
	return r.local.Fetch(ctx, locator, scratchDir)
}

func isObjectLocator(locator string) bool {
	return strings.HasPrefix(locator, "minio://") || strings.HasPrefix(locator, "s3://")
}
