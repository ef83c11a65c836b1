package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type localStore struct {
	baseDir string
}

// NewLocalStore resolves image paths against baseDir. With an empty
// baseDir paths are used as given.
func NewLocalStore(baseDir string) *localStore {
	if baseDir != "" {
		baseDir = filepath.Clean(baseDir)
	}
	return &localStore{baseDir: baseDir}
}

// Fetch returns the image in place; nothing is copied to scratch.
func (s *localStore) Fetch(ctx context.Context, locator, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	fullPath, err := s.fullFilePath(locator)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrImageNotFound, locator)
		}
		return "", fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", domain.ErrImageNotFound, locator)
	}

	return fullPath, nil
}

func (s *localStore) fullFilePath(filename string) (string, error) {
	filename = strings.TrimPrefix(filename, "file://")
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("%w: empty image path", domain.ErrImageNotFound)
	}

	clean := filepath.Clean(filename)
	if s.baseDir == "" {
		return clean, nil
	}

	if filepath.IsAbs(clean) {
		rel, err := filepath.Rel(s.baseDir, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s is outside %s", domain.ErrImageNotFound, filename, s.baseDir)
		}
		return clean, nil
	}

	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid image path %s", domain.ErrImageNotFound, filename)
	}
	return filepath.Join(s.baseDir, clean), nil
}
