package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

type queue struct {
	js      nats.JetStreamContext
	subject string
}

func New(js nats.JetStreamContext, subject string) *queue {
	return &queue{
		js:      js,
		subject: subject,
	}
}

// Enqueue publishes task as JSON. The task id doubles as the JetStream
// message id, so a retried publish inside the duplicate window is dropped
// by the broker.
func (q *queue) Enqueue(ctx context.Context, task domain.SegmentationTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.EnqueueRaw(ctx, task.TaskID, task)
}

// EnqueueRaw publishes body without validation.
func (q *queue) EnqueueRaw(ctx context.Context, msgID string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	msg := &nats.Msg{
		Subject: q.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Content-Type", "application/json")

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}

	ack, err := q.js.PublishMsg(msg, opts...)
	if err != nil {
		return fmt.Errorf("enqueue task %s: publish failed: %w", msgID, err)
	}

	slog.Debug(
		"task enqueued",
		slog.String("task_id", msgID),
		slog.String("subject", q.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)

	return nil
}
