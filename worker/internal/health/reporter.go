package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spheroseg/segpipeline/worker/internal/infra/segmenter"
	"github.com/spheroseg/segpipeline/worker/internal/metrics"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Segmenter interface {
	Available() error
}

type Queue interface {
	Connected() bool
	Prefetch() int
	Inflight() int
}

type Pool interface {
	ActiveCount() int
	MaxConcurrent() int
}

type Metrics interface {
	Snapshot() metrics.Snapshot
}

type Thresholds struct {
	CPU    float64
	Memory float64
	Disk   float64
}

type Config struct {
	InstanceID string
	ModelPath  string
	Thresholds Thresholds
}

// sample is everything the background sampler measures; queries only read
// the latest one.
type sample struct {
	resources    Resources
	resourcesErr error
	model        segmenter.Model
	modelErr     error
	segmenterErr error
	at           time.Time
}

type Liveness struct {
	Status        string    `json:"status"`
	InstanceID    string    `json:"instance_id"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type Readiness struct {
	Ready     bool   `json:"ready"`
	Segmenter bool   `json:"segmenter_available"`
	Queue     bool   `json:"queue_connected"`
	Reason    string `json:"reason,omitempty"`
}

type Check struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Tasks struct {
	Active           int `json:"active_tasks"`
	MaxConcurrent    int `json:"max_concurrent"`
	Prefetch         int `json:"prefetch_count"`
	InflightMessages int `json:"inflight_messages"`
}

type Report struct {
	Status        Status           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	InstanceID    string           `json:"instance_id"`
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Live          bool             `json:"live"`
	Ready         bool             `json:"ready"`
	Checks        map[string]Check `json:"checks"`
	Model         segmenter.Model  `json:"model"`
	Resources     Resources        `json:"resources"`
	SampledAt     time.Time        `json:"sampled_at"`
	Tasks         Tasks            `json:"processing"`
	Durations     metrics.Snapshot `json:"durations"`
}

type Reporter struct {
	cfg     Config
	probe   Probe
	seg     Segmenter
	queue   Queue
	pool    Pool
	metrics Metrics

	started      time.Time
	last         atomic.Pointer[sample]
	shuttingDown atomic.Bool
}

func NewReporter(cfg Config, probe Probe, seg Segmenter, queue Queue, pool Pool, m Metrics) *Reporter {
	return &Reporter{
		cfg:     cfg,
		probe:   probe,
		seg:     seg,
		queue:   queue,
		pool:    pool,
		metrics: m,
		started: time.Now(),
	}
}

// Run samples once immediately and then every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	r.Sample(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sample(ctx)
		}
	}
}

func (r *Reporter) Sample(ctx context.Context) {
	s := &sample{at: time.Now()}

	s.resources, s.resourcesErr = r.probe.Resources(ctx)
	if s.resourcesErr != nil {
		slog.Warn("resource sample", slog.String("error", s.resourcesErr.Error()))
	}
	s.model, s.modelErr = segmenter.CheckModel(r.cfg.ModelPath)
	if r.seg != nil {
		s.segmenterErr = r.seg.Available()
	}

	r.last.Store(s)
}

// SetShuttingDown makes readiness fail from now on.
func (r *Reporter) SetShuttingDown() {
	r.shuttingDown.Store(true)
}

func (r *Reporter) Live() Liveness {
	return Liveness{
		Status:        "alive",
		InstanceID:    r.cfg.InstanceID,
		UptimeSeconds: time.Since(r.started).Seconds(),
		Timestamp:     time.Now().UTC(),
	}
}

func (r *Reporter) Ready() Readiness {
	s := r.last.Load()
	rd := Readiness{
		Queue:     r.queue != nil && r.queue.Connected(),
		Segmenter: s != nil && s.modelErr == nil && s.segmenterErr == nil,
	}

	switch {
	case r.shuttingDown.Load():
		rd.Reason = "shutting down"
	case s == nil:
		rd.Reason = "warming up"
	case s.modelErr != nil:
		rd.Reason = "model artifact missing"
	case s.segmenterErr != nil:
		rd.Reason = "segmenter unavailable"
	case !rd.Queue:
		rd.Reason = "queue disconnected"
	default:
		rd.Ready = true
	}
	return rd
}

func (r *Reporter) Deep() Report {
	now := time.Now()
	rd := r.Ready()
	rep := Report{
		InstanceID:    r.cfg.InstanceID,
		Timestamp:     now.UTC(),
		UptimeSeconds: now.Sub(r.started).Seconds(),
		Live:          true,
		Ready:         rd.Ready,
		Checks:        make(map[string]Check, 4),
	}

	if r.pool != nil {
		rep.Tasks.Active = r.pool.ActiveCount()
		rep.Tasks.MaxConcurrent = r.pool.MaxConcurrent()
	}
	if r.queue != nil {
		rep.Tasks.Prefetch = r.queue.Prefetch()
		rep.Tasks.InflightMessages = r.queue.Inflight()
	}
	if r.metrics != nil {
		rep.Durations = r.metrics.Snapshot()
	}
	rep.Checks["queue"] = Check{OK: rd.Queue}
	if !rd.Queue {
		rep.Checks["queue"] = Check{Error: "disconnected"}
	}

	s := r.last.Load()
	if s == nil {
		rep.Status = StatusDegraded
		rep.Reason = "warming up"
		return rep
	}

	rep.Model = s.model
	rep.Resources = s.resources
	rep.SampledAt = s.at.UTC()
	rep.Checks["model"] = check(s.modelErr)
	rep.Checks["segmenter"] = check(s.segmenterErr)
	rep.Checks["resources"] = check(s.resourcesErr)

	var degraded []string
	th := r.cfg.Thresholds
	if s.resourcesErr == nil {
		if th.Memory > 0 && s.resources.MemoryPercent >= th.Memory {
			degraded = append(degraded, fmt.Sprintf("high memory usage (%.1f%%)", s.resources.MemoryPercent))
		}
		if th.CPU > 0 && s.resources.CPUPercent >= th.CPU {
			degraded = append(degraded, fmt.Sprintf("high CPU usage (%.1f%%)", s.resources.CPUPercent))
		}
		if th.Disk > 0 && s.resources.DiskPercent >= th.Disk {
			degraded = append(degraded, fmt.Sprintf("low disk space (%.1f%% used)", s.resources.DiskPercent))
		}
	}
	if !rd.Queue {
		degraded = append(degraded, "queue disconnected")
	}

	switch {
	case s.modelErr != nil:
		rep.Status = StatusUnhealthy
		rep.Reason = "model artifact missing"
	case s.segmenterErr != nil:
		rep.Status = StatusUnhealthy
		rep.Reason = "segmenter unavailable"
	case len(degraded) > 0:
		rep.Status = StatusDegraded
		rep.Reason = strings.Join(degraded, "; ")
	default:
		rep.Status = StatusHealthy
	}
	if r.shuttingDown.Load() && rep.Status == StatusHealthy {
		rep.Status = StatusDegraded
		rep.Reason = "shutting down"
	}
	return rep
}

func check(err error) Check {
	if err != nil {
		return Check{Error: err.Error()}
	}
	return Check{OK: true}
}
