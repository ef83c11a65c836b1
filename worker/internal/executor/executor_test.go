package executor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
	"github.com/spheroseg/segpipeline/worker/internal/pool"
)

type copySource struct {
	root string
}

func (s copySource) Fetch(_ context.Context, locator, scratchDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, locator))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.ErrImageNotFound
		}
		return "", err
	}
	dst := filepath.Join(scratchDir, filepath.Base(locator))
	return dst, os.WriteFile(dst, data, 0o644)
}

type segmenterFunc func(ctx context.Context, image []byte, params domain.Parameters) (*image.Gray, error)

func (f segmenterFunc) Segment(ctx context.Context, image []byte, params domain.Parameters) (*image.Gray, error) {
	return f(ctx, image, params)
}

type recordingDeliverer struct {
	err error

	mu       sync.Mutex
	urls     []string
	payloads []domain.CallbackPayload
}

func (d *recordingDeliverer) Deliver(_ context.Context, url string, p domain.CallbackPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.payloads = append(d.payloads, p)
	return d.err
}

func (d *recordingDeliverer) delivered() []domain.CallbackPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.CallbackPayload(nil), d.payloads...)
}

// disc paints a filled circle of value v, optionally with a hole.
func disc(w, h int, r, hole float64, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	for y := range h {
		for x := range w {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if d <= r && d > hole {
				g.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
	return g
}

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

type fixture struct {
	images   string
	scratch  string
	deliver  *recordingDeliverer
	executor *Executor
}

func newFixture(t *testing.T, seg segmenterFunc, retry ...uint8) *fixture {
	t.Helper()
	f := &fixture{
		images:  t.TempDir(),
		scratch: t.TempDir(),
		deliver: &recordingDeliverer{},
	}
	writePNG(t, f.images, "img.png", 200, 200)
	f.executor = New(copySource{root: f.images}, seg, f.deliver, Config{
		InstanceID:   "worker-test",
		ScratchDir:   f.scratch,
		Extraction:   contour.Options{MinArea: 100, Cutoff: 127},
		RetryCutoffs: retry,
	})
	return f
}

func segTask(id, path string, params domain.Parameters) domain.SegmentationTask {
	return domain.SegmentationTask{
		TaskID:      id,
		ImageID:     "7",
		ImagePath:   path,
		Parameters:  params,
		CallbackURL: "http://api.local/cb/" + id,
	}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecute_RingWithHole(t *testing.T) {
	f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		return disc(200, 200, 60, 30, 255), nil
	})

	out := f.executor.Execute(context.Background(), segTask("t1", "img.png", nil))
	require.Equal(t, domain.StatusCompleted, out.Status, out.Error)
	require.Len(t, out.Polygons, 2)

	var ext, hole contour.Polygon
	for _, p := range out.Polygons {
		if p.Type == contour.External {
			ext = p
		} else {
			hole = p
		}
	}
	assert.InEpsilon(t, math.Pi*60*60, ext.Area, 0.05)
	assert.InEpsilon(t, math.Pi*30*30, hole.Area, 0.05)
	assert.Equal(t, ext.ID, hole.ParentID)
	assert.Positive(t, out.Duration)
	assertScratchEmpty(t, f.scratch)
}

func TestExecute_ResizesMaskToOriginal(t *testing.T) {
	f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		return disc(100, 100, 25, 0, 255), nil
	})

	out := f.executor.Execute(context.Background(), segTask("t", "img.png", nil))
	require.Equal(t, domain.StatusCompleted, out.Status)
	require.Len(t, out.Polygons, 1)
	assert.InEpsilon(t, math.Pi*50*50, out.Polygons[0].Area, 0.06)
	assert.InDelta(t, 100, out.Polygons[0].Centroid.X, 2)
}

func TestExecute_RetriesAtLowerCutoff(t *testing.T) {
	calls := 0
	f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		calls++
		return disc(200, 200, 40, 0, 80), nil
	}, 50)

	out := f.executor.Execute(context.Background(), segTask("t", "img.png", nil))
	require.Equal(t, domain.StatusCompleted, out.Status)
	assert.Len(t, out.Polygons, 1)
	assert.Equal(t, 1, calls)
}

func TestExecute_NoRetryConfigured(t *testing.T) {
	f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		return disc(200, 200, 40, 0, 80), nil
	})

	out := f.executor.Execute(context.Background(), segTask("t", "img.png", nil))
	require.Equal(t, domain.StatusCompleted, out.Status)
	assert.NotNil(t, out.Polygons)
	assert.Empty(t, out.Polygons)
}

func TestExecute_Parameters(t *testing.T) {
	seg := func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		return disc(200, 200, 20, 0, 200), nil
	}

	tests := []struct {
		name     string
		params   domain.Parameters
		status   domain.OutcomeStatus
		polygons int
	}{
		{"defaults", nil, domain.StatusCompleted, 1},
		{"min_area above disc", domain.Parameters{"min_area": 5000}, domain.StatusCompleted, 0},
		{"probability threshold above mask", domain.Parameters{"threshold": 0.9}, domain.StatusCompleted, 0},
		{"gray threshold below mask", domain.Parameters{"threshold": 150}, domain.StatusCompleted, 1},
		{"malformed min_area", domain.Parameters{"min_area": "lots"}, domain.StatusFailed, 0},
		{"negative min_area", domain.Parameters{"min_area": -1}, domain.StatusFailed, 0},
		{"threshold out of range", domain.Parameters{"threshold": 300}, domain.StatusFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, seg)
			out := f.executor.Execute(context.Background(), segTask("t", "img.png", tt.params))
			assert.Equal(t, tt.status, out.Status)
			assert.Len(t, out.Polygons, tt.polygons)
			if tt.status == domain.StatusFailed {
				assert.Equal(t, domain.KindComputation, out.Kind)
			}
		})
	}
}

func TestExecute_Failures(t *testing.T) {
	t.Run("image not found", func(t *testing.T) {
		f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
			t.Fatal("segmenter must not be called")
			return nil, nil
		})
		out := f.executor.Execute(context.Background(), segTask("t", "missing.png", nil))
		assert.Equal(t, domain.StatusFailed, out.Status)
		assert.Equal(t, domain.KindNotFound, out.Kind)
		assertScratchEmpty(t, f.scratch)
	})

	t.Run("segmenter error", func(t *testing.T) {
		f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
			return nil, errors.New("CUDA out of memory")
		})
		out := f.executor.Execute(context.Background(), segTask("t", "img.png", nil))
		assert.Equal(t, domain.KindComputation, out.Kind)
		assert.Contains(t, out.Error, "CUDA out of memory")
		assertScratchEmpty(t, f.scratch)
	})

	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
			return disc(10, 10, 3, 0, 255), nil
		})
		require.NoError(t, os.WriteFile(filepath.Join(f.images, "notes.txt"), []byte("hello"), 0o644))
		out := f.executor.Execute(context.Background(), segTask("t", "notes.txt", nil))
		assert.Equal(t, domain.KindComputation, out.Kind)
	})

	t.Run("deadline", func(t *testing.T) {
		f := newFixture(t, func(ctx context.Context, _ []byte, _ domain.Parameters) (*image.Gray, error) {
			<-ctx.Done()
			return nil, errors.New("inference interrupted")
		})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		out := f.executor.Execute(ctx, segTask("t", "img.png", nil))
		assert.True(t, out.TimedOut())
		assert.Equal(t, domain.ErrTimeout.Error(), out.Error)
	})
}

func TestReport(t *testing.T) {
	f := newFixture(t, nil)
	task := segTask("t9", "img.png", domain.Parameters{"min_area": 10})

	f.executor.Report(context.Background(), task, domain.Failed("t9", domain.ErrImageNotFound, time.Second))

	got := f.deliver.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "http://api.local/cb/t9", f.deliver.urls[0])
	assert.Equal(t, domain.StatusFailed, got[0].Status)
	assert.Equal(t, "image not found", got[0].Error)
	assert.Equal(t, "worker-test", got[0].ProcessedBy)
	assert.Equal(t, task.Parameters, got[0].Parameters)

	f.deliver.err = domain.ErrCallbackDelivery
	f.executor.Report(context.Background(), task, domain.Completed("t9", nil, time.Second))
	assert.Len(t, f.deliver.delivered(), 2)
}

// A segmenter slower than the task budget yields one failed/timeout
// callback and frees the slot.
func TestPoolTimeoutDeliversFailedCallback(t *testing.T) {
	f := newFixture(t, func(context.Context, []byte, domain.Parameters) (*image.Gray, error) {
		time.Sleep(500 * time.Millisecond)
		return disc(200, 200, 40, 0, 255), nil
	})
	p := pool.New(f.executor, pool.Config{MaxConcurrent: 1, TaskTimeout: 200 * time.Millisecond})

	got := make(chan domain.TaskOutcome, 1)
	require.NoError(t, p.Submit(context.Background(), segTask("slow", "img.png", nil), func(o domain.TaskOutcome) {
		got <- o
	}))

	out := <-got
	assert.True(t, out.TimedOut())
	assert.Equal(t, 0, p.ActiveCount())

	payloads := f.deliver.delivered()
	require.Len(t, payloads, 1)
	assert.Equal(t, domain.StatusFailed, payloads[0].Status)
	assert.Equal(t, domain.ErrTimeout.Error(), payloads[0].Error)

	// the abandoned execution finishes later without a second callback
	assert.Eventually(t, func() bool { return p.Stats().Stray == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.deliver.delivered(), 1)
	assert.Eventually(t, func() bool {
		entries, _ := os.ReadDir(f.scratch)
		return len(entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, nil)
	old := filepath.Join(f.scratch, scratchPrefix+"old-1")
	fresh := filepath.Join(f.scratch, scratchPrefix+"fresh-1")
	other := filepath.Join(f.scratch, "keep-me")
	for _, dir := range []string{old, fresh, other} {
		require.NoError(t, os.Mkdir(dir, 0o755))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	n, err := f.executor.Sweep(time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestCutoffFor(t *testing.T) {
	c, err := cutoffFor(0.5)
	require.NoError(t, err)
	assert.Equal(t, uint8(128), c)

	c, err = cutoffFor(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), c)

	c, err = cutoffFor(50)
	require.NoError(t, err)
	assert.Equal(t, uint8(50), c)

	_, err = cutoffFor(-0.1)
	assert.Error(t, err)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b_c-1", safeName("a/b c-1"))
	assert.Len(t, safeName(string(make([]byte, 100))), 40)
}
