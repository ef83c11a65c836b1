package queue

import (
	"context"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natsq "github.com/spheroseg/segpipeline/core/libs/nats"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

func newQueue(t *testing.T) (*queue, nats.JetStreamContext) {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)

	nc, err := natsq.NewConnect(s.ClientURL(), natsq.Config{Name: "queue-test"})
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := natsq.NewJetStream(nc, natsq.TaskStream("SEG_Q", "seg.q"))
	require.NoError(t, err)
	return New(js, "seg.q"), js
}

func task(id string) domain.SegmentationTask {
	return domain.SegmentationTask{TaskID: id, ImageID: "3", ImagePath: "c.png", CallbackURL: "http://cb/3"}
}

func TestEnqueue_DeduplicatesByTaskID(t *testing.T) {
	q, js := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("dup")))
	require.NoError(t, q.Enqueue(ctx, task("dup")))
	require.NoError(t, q.Enqueue(ctx, task("other")))

	info, err := js.StreamInfo("SEG_Q")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestEnqueue_Invalid(t *testing.T) {
	q, js := newQueue(t)

	bad := task("bad")
	bad.CallbackURL = "not a url"
	assert.ErrorIs(t, q.Enqueue(context.Background(), bad), domain.ErrInvalidTask)

	info, err := js.StreamInfo("SEG_Q")
	require.NoError(t, err)
	assert.Zero(t, info.State.Msgs)
}

func TestEnqueue_ContextDeadline(t *testing.T) {
	q, _ := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	assert.Error(t, q.Enqueue(ctx, task("late")))
}
