package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type ImageSource interface {
	// Fetch makes the image available on local disk and returns its path.
	// Copies it creates must live under scratchDir.
	Fetch(ctx context.Context, locator, scratchDir string) (string, error)
}

type Segmenter interface {
	Segment(ctx context.Context, image []byte, params domain.Parameters) (*image.Gray, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, callbackURL string, payload domain.CallbackPayload) error
}

type Config struct {
	InstanceID string
	ScratchDir string
	Extraction contour.Options
	// RetryCutoffs are tried in order, below the primary cutoff, while an
	// extraction pass returns no polygons.
	RetryCutoffs []uint8
}

const scratchPrefix = "task-"

type Executor struct {
	source    ImageSource
	segmenter Segmenter
	deliverer Deliverer
	cfg       Config
	extractor *contour.Extractor
}

func New(source ImageSource, segmenter Segmenter, deliverer Deliverer, cfg Config) *Executor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return &Executor{
		source:    source,
		segmenter: segmenter,
		deliverer: deliverer,
		cfg:       cfg,
		extractor: contour.NewExtractor(cfg.Extraction),
	}
}

// Execute runs one task to a terminal outcome. Failures are classified,
// never returned. Scratch files are removed before it returns.
func (e *Executor) Execute(ctx context.Context, task domain.SegmentationTask) domain.TaskOutcome {
	log := slog.With(
		slog.String("task_id", task.TaskID),
		slog.String("image_id", string(task.ImageID)),
	)
	log.Info("process start", slog.String("image_path", task.ImagePath))

	start := time.Now()
	polygons, err := e.process(ctx, task, log)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		outcome := domain.Failed(task.TaskID, err, elapsed)
		log.Error("process failed",
			slog.String("kind", string(outcome.Kind)),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return outcome
	}

	external, internal := contour.Counts(polygons)
	log.Info("process done",
		slog.Int("external", external),
		slog.Int("internal", internal),
		slog.Duration("duration", elapsed),
	)
	return domain.Completed(task.TaskID, polygons, elapsed)
}

func (e *Executor) process(ctx context.Context, task domain.SegmentationTask, log *slog.Logger) ([]contour.Polygon, error) {
	extractor, err := e.extractorFor(task.Parameters)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(e.cfg.ScratchDir, scratchPrefix+safeName(task.TaskID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("remove scratch dir", slog.String("error", err.Error()))
		}
	}()

	path, err := e.source.Fetch(ctx, task.ImagePath, scratch)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrImageNotFound, task.ImagePath)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}

	cfg, format, err := contour.DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	log.Debug("image loaded",
		slog.String("format", format),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
	)

	mask, err := e.segmenter.Segment(ctx, data, task.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSegmentation, err)
	}
	if mask == nil || mask.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty mask", domain.ErrSegmentation)
	}
	mask = contour.Resize(mask, cfg.Width, cfg.Height)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	polygons := extractor.Extract(mask)
	primary := extractor.Options().Cutoff
	for _, cutoff := range e.cfg.RetryCutoffs {
		if len(polygons) > 0 {
			break
		}
		if cutoff >= primary {
			continue
		}
		log.Info("no polygons found, retrying with lower cutoff",
			slog.Int("cutoff", int(primary)),
			slog.Int("retry_cutoff", int(cutoff)),
		)
		polygons = extractor.WithCutoff(cutoff).Extract(mask)
	}
	return polygons, nil
}

// extractorFor applies the per-task min_area and threshold overrides.
// threshold accepts either a probability in [0,1] or a gray level.
func (e *Executor) extractorFor(params domain.Parameters) (*contour.Extractor, error) {
	ex := e.extractor

	minArea, ok, err := params.Float("min_area")
	if err != nil {
		return nil, err
	}
	if ok {
		if minArea < 0 || math.IsNaN(minArea) {
			return nil, fmt.Errorf("parameter \"min_area\": must be non-negative, got %v", minArea)
		}
		ex = ex.WithMinArea(minArea)
	}

	threshold, ok, err := params.Float("threshold")
	if err != nil {
		return nil, err
	}
	if ok {
		cutoff, err := cutoffFor(threshold)
		if err != nil {
			return nil, err
		}
		ex = ex.WithCutoff(cutoff)
	}
	return ex, nil
}

func cutoffFor(threshold float64) (uint8, error) {
	switch {
	case math.IsNaN(threshold) || threshold < 0 || threshold > 255:
		return 0, fmt.Errorf("parameter \"threshold\": out of range: %v", threshold)
	case threshold <= 1:
		return uint8(math.Round(threshold * 255)), nil
	default:
		return uint8(math.Round(threshold)), nil
	}
}

// Report makes exactly one delivery attempt. A failed delivery is logged
// and does not change the outcome.
func (e *Executor) Report(ctx context.Context, task domain.SegmentationTask, outcome domain.TaskOutcome) {
	payload := outcome.Payload(e.cfg.InstanceID, task.Parameters)
	if err := e.deliverer.Deliver(ctx, task.CallbackURL, payload); err != nil {
		slog.Warn("callback delivery",
			slog.String("task_id", task.TaskID),
			slog.String("kind", string(domain.KindCallbackDelivery)),
			slog.String("status", string(outcome.Status)),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Debug("callback delivered",
		slog.String("task_id", task.TaskID),
		slog.String("status", string(outcome.Status)),
	)
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
