package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Consumer interface {
	Stop(ctx context.Context) error
	Close() error
}

type Pool interface {
	Drain(ctx context.Context) error
	ActiveCount() int
}

// Steps, in the order Shutdown performs them.
const (
	StepFlag             = "flag"
	StepConsumerStopped  = "consumer_stopped"
	StepDrained          = "drained"
	StepConnectionClosed = "connection_closed"
	StepFinished         = "finished"
)

// Coordinator runs the graceful stop sequence exactly once: raise the
// shared flag, stop receiving, drain the pool within the deadline, and only
// then close the queue connection.
type Coordinator struct {
	flag         *atomic.Bool
	consumer     Consumer
	pool         Pool
	drainTimeout time.Duration

	onFlag    []func()
	afterStop []func()
	record    func(step string)

	once sync.Once
	err  error
}

func New(flag *atomic.Bool, consumer Consumer, pool Pool, drainTimeout time.Duration) *Coordinator {
	if flag == nil {
		flag = &atomic.Bool{}
	}
	return &Coordinator{
		flag:         flag,
		consumer:     consumer,
		pool:         pool,
		drainTimeout: drainTimeout,
		record:       func(string) {},
	}
}

// OnFlag registers hooks run right after the flag is raised.
func (c *Coordinator) OnFlag(fns ...func()) *Coordinator {
	c.onFlag = append(c.onFlag, fns...)
	return c
}

// AfterClose registers hooks run once the queue connection is closed.
func (c *Coordinator) AfterClose(fns ...func()) *Coordinator {
	c.afterStop = append(c.afterStop, fns...)
	return c
}

func (c *Coordinator) WithRecorder(record func(step string)) *Coordinator {
	c.record = record
	return c
}

func (c *Coordinator) Flag() *atomic.Bool {
	return c.flag
}

func (c *Coordinator) ShuttingDown() bool {
	return c.flag.Load()
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() { c.err = c.run(ctx) })
	return c.err
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.flag.Store(true)
	c.record(StepFlag)
	for _, fn := range c.onFlag {
		fn()
	}
	slog.Info("shutdown started",
		slog.Int("active_tasks", c.pool.ActiveCount()),
		slog.Duration("drain_timeout", c.drainTimeout),
	)

	drainCtx, cancel := context.WithTimeout(ctx, c.drainTimeout)
	defer cancel()

	if err := c.consumer.Stop(drainCtx); err != nil {
		slog.Warn("stop consumer", slog.String("error", err.Error()))
	}
	c.record(StepConsumerStopped)

	drainErr := c.pool.Drain(drainCtx)
	if drainErr != nil {
		slog.Warn("drain deadline reached, closing with tasks in flight",
			slog.Int("active_tasks", c.pool.ActiveCount()),
			slog.String("error", drainErr.Error()),
		)
	}
	c.record(StepDrained)

	closeErr := c.consumer.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close queue connection: %w", closeErr)
	}
	c.record(StepConnectionClosed)

	for _, fn := range c.afterStop {
		fn()
	}
	c.record(StepFinished)

	slog.Info("shutdown finished", slog.Duration("took", time.Since(start)))
	return errors.Join(drainErr, closeErr)
}
