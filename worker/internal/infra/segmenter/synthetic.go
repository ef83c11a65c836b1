package segmenter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

// Synthetic stands in for a model during local development. It answers
// every valid image with the same centred disc at the working size.
type Synthetic struct {
	size  int
	delay time.Duration

	sem *semaphore.Weighted
}

func NewSynthetic(size int, delay time.Duration, maxParallel int) *Synthetic {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if size <= 0 {
		size = 1024
	}

	return &Synthetic{size: size, delay: delay, sem: semaphore.NewWeighted(int64(maxParallel))}
}

func (s *Synthetic) Segment(ctx context.Context, img []byte, _ domain.Parameters) (*image.Gray, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("synthetic segmenter busy or canceled: %w", err)
	}
	defer s.sem.Release(1)

	if _, _, err := contour.DecodeConfig(img); err != nil {
		return nil, err
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return discMask(s.size), nil
}

func (s *Synthetic) Available() error {
	return nil
}

func discMask(size int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, size, size))
	c := size / 2
	r2 := (size / 4) * (size / 4)
	for y := range size {
		for x := range size {
			dx, dy := x-c, y-c
			if dx*dx+dy*dy <= r2 {
				g.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return g
}
