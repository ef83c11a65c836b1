package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	natsq "github.com/spheroseg/segpipeline/core/libs/nats"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type Pool interface {
	Submit(ctx context.Context, task domain.SegmentationTask, done func(domain.TaskOutcome)) error
}

// Flag is the shared shutting-down switch.
type Flag interface {
	Load() bool
}

type Config struct {
	URL      string
	User     string
	Password string
	Name     string

	Stream  string
	Subject string
	Durable string

	Prefetch      int
	AckWait       time.Duration
	ReconnectWait time.Duration
	FetchWait     time.Duration
}

// Consumer pulls tasks from a durable JetStream consumer and settles each
// message once: Term for malformed bodies, Nak while shutting down or when
// the pool refuses the task, Ack after the outcome was reported.
type Consumer struct {
	cfg  Config
	pool Pool
	flag Flag
	gate func() bool

	conn atomic.Pointer[nats.Conn]
	sub  atomic.Pointer[nats.Subscription]

	inflight atomic.Int64
	freed    chan struct{}

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, pool Pool, flag Flag) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	return &Consumer{
		cfg:   cfg,
		pool:  pool,
		flag:  flag,
		freed: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// WithGate pauses fetching while gate reports false.
func (c *Consumer) WithGate(gate func() bool) *Consumer {
	c.gate = gate
	return c
}

// Run keeps a session alive until Stop or ctx ends. Connection and setup
// failures are retried every ReconnectWait.
func (c *Consumer) Run(ctx context.Context) error {
	c.started.Store(true)
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			slog.Info("queue consumer stopped")
			return nil
		}

		slog.Error("queue session",
			slog.String("kind", string(domain.KindDependencyUnavailable)),
			slog.Duration("retry_in", c.cfg.ReconnectWait),
			slog.String("error", errorString(err)),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

func (c *Consumer) session(ctx context.Context) error {
	nc, err := natsq.NewConnect(c.cfg.URL, natsq.Config{
		Name:          c.cfg.Name,
		User:          c.cfg.User,
		Password:      c.cfg.Password,
		MaxReconnects: -1,
		ReconnectWait: c.cfg.ReconnectWait,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	sub, err := c.subscribe(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	if old := c.conn.Swap(nc); old != nil {
		old.Close()
	}
	c.sub.Store(sub)

	slog.Info("queue consumer running",
		slog.String("stream", c.cfg.Stream),
		slog.String("subject", c.cfg.Subject),
		slog.String("durable", c.cfg.Durable),
		slog.Int("prefetch", c.cfg.Prefetch),
	)

	err = c.receive(ctx, sub)
	if ctx.Err() != nil {
		// Close releases the connection once the pool has drained.
		return nil
	}
	return err
}

func (c *Consumer) subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	js, err := natsq.NewJetStream(nc, natsq.TaskStream(c.cfg.Stream, c.cfg.Subject))
	if err != nil {
		return nil, err
	}

	_, err = js.AddConsumer(c.cfg.Stream, &nats.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		FilterSubject: c.cfg.Subject,
		MaxAckPending: c.cfg.Prefetch,
		DeliverPolicy: nats.DeliverAllPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := js.PullSubscribe(c.cfg.Subject, c.cfg.Durable, nats.Bind(c.cfg.Stream, c.cfg.Durable))
	if err != nil {
		return nil, fmt.Errorf("JetStream PullSubscribe: %w", err)
	}
	return sub, nil
}

func (c *Consumer) receive(ctx context.Context, sub *nats.Subscription) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		free := c.cfg.Prefetch - int(c.inflight.Load())
		if free <= 0 || (c.gate != nil && !c.gate()) {
			select {
			case <-ctx.Done():
				return nil
			case <-c.freed:
			case <-time.After(c.cfg.FetchWait):
			}
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchWait)
		msgs, err := sub.Fetch(free, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
				continue
			case errors.Is(err, nats.ErrConnectionClosed),
				errors.Is(err, nats.ErrConsumerDeleted),
				errors.Is(err, nats.ErrConsumerNotFound),
				errors.Is(err, nats.ErrBadSubscription):
				return fmt.Errorf("NATS Fetch: %w", err)
			}
			slog.Warn("NATS Fetch", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg *nats.Msg) {
	c.inflight.Add(1)

	if c.flag != nil && c.flag.Load() {
		c.settle(msg, "nak", msg.Nak)
		slog.Debug("shutting down, message requeued")
		return
	}

	task, err := domain.DecodeTask(msg.Data)
	if err != nil {
		slog.Warn("rejecting malformed message",
			slog.String("kind", string(domain.KindValidation)),
			slog.String("error", err.Error()),
		)
		c.settle(msg, "term", msg.Term)
		return
	}

	log := slog.With(slog.String("task_id", task.TaskID))
	stopKeepalive := c.keepalive(msg, log)

	err = c.pool.Submit(ctx, task, func(outcome domain.TaskOutcome) {
		stopKeepalive()
		c.settle(msg, "ack", msg.Ack)
		log.Info("message acknowledged",
			slog.String("status", string(outcome.Status)),
			slog.String("kind", string(outcome.Kind)),
		)
	})
	if err != nil {
		stopKeepalive()
		c.settle(msg, "nak", msg.Nak)
		log.Info("task not started, message requeued", slog.String("reason", err.Error()))
	}
}

// keepalive tells the broker a message is still being worked on, so a
// task that outlives AckWait is not redelivered.
func (c *Consumer) keepalive(msg *nats.Msg, log *slog.Logger) func() {
	interval := c.cfg.AckWait / 3
	if interval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					log.Warn("NATS InProgress", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() { once.Do(func() { close(quit) }) }
}

func (c *Consumer) settle(msg *nats.Msg, action string, fn func(...nats.AckOpt) error) {
	if err := fn(); err != nil {
		slog.Warn("NATS "+action, slog.String("error", err.Error()))
	}
	c.inflight.Add(-1)
	select {
	case c.freed <- struct{}{}:
	default:
	}
}

// Stop ends the receive loop and waits for it, or for ctx. Messages already
// handed to the pool keep running and are settled when they finish.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop consumer: %w", ctx.Err())
	}
}

// Close flushes pending acknowledgements and closes the connection.
func (c *Consumer) Close() error {
	nc := c.conn.Swap(nil)
	c.sub.Store(nil)
	if nc == nil {
		return nil
	}

	var err error
	if nc.IsConnected() {
		err = nc.FlushTimeout(5 * time.Second)
	}
	nc.Close()
	slog.Info("queue connection closed")
	return err
}

// Connected reports whether the broker connection is currently up.
func (c *Consumer) Connected() bool {
	nc := c.conn.Load()
	return nc != nil && nc.IsConnected()
}

func (c *Consumer) Inflight() int {
	return int(c.inflight.Load())
}

func (c *Consumer) Prefetch() int {
	return c.cfg.Prefetch
}

func errorString(err error) string {
	if err == nil {
		return "session ended"
	}
	return err.Error()
}
