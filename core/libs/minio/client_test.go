package mio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Backoff(context.Background(), fastRetry(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Backoff(context.Background(), fastRetry(3), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "3 attempts")
	assert.Equal(t, 3, calls)
}

func TestBackoff_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")
	err := Backoff(ctx, RetryConfig{MaxRetries: 100, InitialInterval: time.Hour}, func() error {
		cancel()
		return boom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, boom)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a/b.png", Config{}.ObjectKey("/a/b.png"))
	assert.Equal(t, "images/a/b.png", Config{Prefix: "images"}.ObjectKey("a/b.png"))
	assert.Equal(t, "images/b.png", Config{Prefix: "images/"}.ObjectKey("/b.png"))
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Bucket: "b"})
	assert.ErrorContains(t, err, "endpoint")
	_, err = NewClient(context.Background(), Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket")
}
