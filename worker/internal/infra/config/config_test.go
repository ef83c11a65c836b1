package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.MaxConcurrentTasks)
	assert.Equal(t, 300*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 127, cfg.Extraction.Cutoff)
	assert.Equal(t, []int{50}, cfg.Extraction.RetryCutoffs)
	assert.Equal(t, 100.0, cfg.Extraction.MinArea)
	assert.Equal(t, "synthetic", cfg.Segmenter.Kind)
	assert.Equal(t, 90.0, cfg.Health.CPUThreshold)
	assert.Equal(t, "PUT", cfg.Callback.Method)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
instance_id: worker-a
nats:
  url: nats://queue:4222
  subject: seg.tasks
  prefetch_count: 8
  ack_wait: 2m
worker:
  max_concurrent_tasks: 2
  task_timeout: 90s
extraction:
  retry_cutoffs: [60, 30]
segmenter:
  kind: grpc
  addr: segmenter:50051
`)
	t.Setenv("SEG_WORKER_MAX_CONCURRENT_TASKS", "6")
	t.Setenv("SEG_HEALTH_DISK_THRESHOLD", "80")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-a", cfg.InstanceID)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	assert.Equal(t, "seg.tasks", cfg.NATS.Subject)
	assert.Equal(t, 8, cfg.NATS.PrefetchCount)
	assert.Equal(t, 2*time.Minute, cfg.NATS.AckWait)
	assert.Equal(t, 6, cfg.Worker.MaxConcurrentTasks)
	assert.Equal(t, 90*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, []uint8{60, 30}, cfg.Extraction.RetryCutoffBytes())
	assert.Equal(t, 80.0, cfg.Health.DiskThreshold)
	assert.Equal(t, "segmenter:50051", cfg.Segmenter.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"grpc without addr", "segmenter:\n  kind: grpc\n"},
		{"unknown segmenter", "segmenter:\n  kind: magic\n"},
		{"cutoff out of range", "extraction:\n  cutoff: 300\n"},
		{"zero slots", "worker:\n  max_concurrent_tasks: 0\n"},
		{"ack wait below timeout", "nats:\n  ack_wait: 10s\n"},
		{"scratch ttl below timeout", "worker:\n  scratch_ttl: 1m\n"},
		{"simplify tolerance too coarse", "extraction:\n  simplify_tolerance: 25\n"},
		{"minio without bucket", "minio:\n  enabled: true\n  endpoint: minio:9000\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ScratchSweepDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "worker:\n  scratch_ttl: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Worker.ScratchTTL)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "nats: [unclosed"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	assert.Equal(t, DefaultPath, Path(DefaultPath))
	t.Setenv(EnvPath, "/etc/seg/worker.yaml")
	assert.Equal(t, "/etc/seg/worker.yaml", Path(DefaultPath))
}
