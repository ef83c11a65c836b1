package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type Executor interface {
	Execute(ctx context.Context, task domain.SegmentationTask) domain.TaskOutcome
	// Report delivers the terminal outcome. The pool calls it exactly once
	// per accepted task, including tasks it abandoned on timeout.
	Report(ctx context.Context, task domain.SegmentationTask, outcome domain.TaskOutcome)
}

type Observer interface {
	Observe(outcome domain.TaskOutcome)
}

type Config struct {
	MaxConcurrent int
	TaskTimeout   time.Duration
}

type Stats struct {
	MaxConcurrent int64 `json:"max_concurrent"`
	Active        int64 `json:"active"`
	Submitted     int64 `json:"submitted"`
	Finished      int64 `json:"finished"`
	Abandoned     int64 `json:"abandoned"`
	Stray         int64 `json:"stray"`
}

const (
	runRunning int32 = iota
	runFinished
	runAbandoned
)

// Pool runs tasks on a fixed budget of slots. A slot is always returned
// when the task's timeout fires, whether or not the executor noticed.
type Pool struct {
	exec     Executor
	observer Observer
	timeout  time.Duration
	max      int64

	sem    *semaphore.Weighted
	active atomic.Int64

	submitted atomic.Int64
	finished  atomic.Int64
	abandoned atomic.Int64
	stray     atomic.Int64

	mu        sync.Mutex
	draining  bool
	drainCtx  context.Context
	stopDrain context.CancelFunc
	wg        sync.WaitGroup
}

func New(exec Executor, cfg Config) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 300 * time.Second
	}

	drainCtx, stop := context.WithCancel(context.Background())
	return &Pool{
		exec:      exec,
		timeout:   cfg.TaskTimeout,
		max:       int64(cfg.MaxConcurrent),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		drainCtx:  drainCtx,
		stopDrain: stop,
	}
}

func (p *Pool) WithObserver(o Observer) *Pool {
	p.observer = o
	return p
}

// Submit blocks until a slot is free, then runs the task in the
// background and hands its outcome to done. It fails with
// domain.ErrPoolDraining once Drain has started, and with ctx's error when
// ctx ends first; in both cases the task was never started.
func (p *Pool) Submit(ctx context.Context, task domain.SegmentationTask, done func(domain.TaskOutcome)) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return domain.ErrPoolDraining
	}
	p.wg.Add(1)
	p.mu.Unlock()

	acquireCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.drainCtx, cancel)
	err := p.sem.Acquire(acquireCtx, 1)
	stop()
	cancel()

	if err != nil {
		p.wg.Done()
		if p.drainCtx.Err() != nil {
			return domain.ErrPoolDraining
		}
		return err
	}
	if p.drainCtx.Err() != nil {
		p.sem.Release(1)
		p.wg.Done()
		return domain.ErrPoolDraining
	}

	p.active.Add(1)
	p.submitted.Add(1)
	go p.run(context.WithoutCancel(ctx), task, done)
	return nil
}

func (p *Pool) run(parent context.Context, task domain.SegmentationTask, done func(domain.TaskOutcome)) {
	defer p.wg.Done()

	log := slog.With(slog.String("task_id", task.TaskID))
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	var state atomic.Int32
	result := make(chan domain.TaskOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("executor panic", slog.Any("panic", r))
				result <- domain.Failed(task.TaskID, fmt.Errorf("%w: panic: %v", domain.ErrSegmentation, r), time.Since(start))
			}
			if !state.CompareAndSwap(runRunning, runFinished) {
				p.stray.Add(-1)
				log.Warn("late result of abandoned task discarded",
					slog.Duration("elapsed", time.Since(start)),
				)
			}
		}()
		result <- p.exec.Execute(ctx, task)
	}()

	var outcome domain.TaskOutcome
	select {
	case outcome = <-result:
	case <-ctx.Done():
		if state.CompareAndSwap(runRunning, runAbandoned) {
			p.stray.Add(1)
			p.abandoned.Add(1)
			outcome = domain.Failed(task.TaskID, domain.ErrTimeout, time.Since(start))
			log.Warn("task abandoned at deadline", slog.Duration("timeout", p.timeout))
		} else {
			outcome = <-result
		}
	}

	p.sem.Release(1)
	p.active.Add(-1)
	p.finished.Add(1)

	if p.observer != nil {
		p.observer.Observe(outcome)
	}

	p.exec.Report(parent, task, outcome)
	if done != nil {
		done(outcome)
	}
}

// ActiveCount reports how many slots are currently held.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

func (p *Pool) MaxConcurrent() int {
	return int(p.max)
}

func (p *Pool) Draining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}

func (p *Pool) Stats() Stats {
	return Stats{
		MaxConcurrent: p.max,
		Active:        p.active.Load(),
		Submitted:     p.submitted.Load(),
		Finished:      p.finished.Load(),
		Abandoned:     p.abandoned.Load(),
		Stray:         p.stray.Load(),
	}
}

// Drain stops accepting submissions and waits for accepted tasks, including
// their report and done callbacks, until ctx ends.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.draining {
		p.draining = true
		p.stopDrain()
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		slog.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d tasks still active: %w", p.ActiveCount(), ctx.Err())
	}
}
