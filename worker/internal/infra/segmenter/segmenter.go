package segmenter

import (
	"fmt"
	"os"
)

// Model describes the segmentation artifact a backend depends on.
type Model struct {
	Path string `json:"path,omitempty"`
	Size int64  `json:"size_bytes,omitempty"`
}

// CheckModel fails when a configured model artifact is missing or empty.
// An empty path means the backend needs no local artifact.
func CheckModel(path string) (Model, error) {
	if path == "" {
		return Model{}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return Model{Path: path}, fmt.Errorf("model artifact: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return Model{Path: path}, fmt.Errorf("model artifact %s is empty or a directory", path)
	}
	return Model{Path: path, Size: info.Size()}, nil
}
