package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

const (
	minTrackable = int64(time.Millisecond)
	maxTrackable = int64(time.Hour)
)

type Snapshot struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`

	Count int64   `json:"count"`
	Mean  float64 `json:"mean_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
	P99   float64 `json:"p99_seconds"`
	Max   float64 `json:"max_seconds"`
}

// Recorder keeps outcome counters and a task duration histogram.
// Counters are lock-free; the histogram is guarded by its own mutex and
// never held while a task runs.
type Recorder struct {
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func NewRecorder() *Recorder {
	return &Recorder{hist: hdrhistogram.New(minTrackable, maxTrackable, 3)}
}

func (r *Recorder) Observe(o domain.TaskOutcome) {
	switch {
	case o.Status == domain.StatusCompleted:
		r.completed.Add(1)
	case o.TimedOut():
		r.timedOut.Add(1)
	default:
		r.failed.Add(1)
	}

	d := int64(o.Duration)
	if d < minTrackable {
		d = minTrackable
	}
	if d > maxTrackable {
		d = maxTrackable
	}

	r.mu.Lock()
	_ = r.hist.RecordValue(d)
	r.mu.Unlock()
}

func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		TimedOut:  r.timedOut.Load(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.Count = r.hist.TotalCount()
	if s.Count == 0 {
		return s
	}
	s.Mean = r.hist.Mean() / float64(time.Second)
	s.P50 = seconds(r.hist.ValueAtQuantile(50))
	s.P95 = seconds(r.hist.ValueAtQuantile(95))
	s.P99 = seconds(r.hist.ValueAtQuantile(99))
	s.Max = seconds(r.hist.Max())
	return s
}

func seconds(ns int64) float64 {
	return time.Duration(ns).Seconds()
}
