package natsq

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Name          string
	User          string
	Password      string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewConnect dials the broker. The client keeps reconnecting on its own
// after the first successful connection; a failed first dial is returned to
// the caller, which owns the retry policy.
func NewConnect(url string, cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
				return
			}
			slog.Info("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return nc, nil
}

// NewJetStream returns a JetStream context and makes sure the stream exists.
func NewJetStream(nc *nats.Conn, cfg *nats.StreamConfig) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(cfg)
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("JetStream AddStream: %w", err)
	}

	return js, nil
}

// TaskStream is the durable stream holding segmentation tasks: file backed,
// and each message is removed once a consumer acknowledges it.
func TaskStream(name, subject string) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		Replicas:  1,
	}
}
