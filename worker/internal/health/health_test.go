package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	instancestore "github.com/spheroseg/segpipeline/worker/internal/infra/store/instance"
	"github.com/spheroseg/segpipeline/worker/internal/metrics"
)

type fakeProbe struct {
	res Resources
	err error
}

func (p *fakeProbe) Resources(context.Context) (Resources, error) { return p.res, p.err }

type fakeSegmenter struct{ err error }

func (s *fakeSegmenter) Available() error { return s.err }

type fakeQueue struct{ connected atomic.Bool }

func (q *fakeQueue) Connected() bool { return q.connected.Load() }
func (q *fakeQueue) Prefetch() int   { return 4 }
func (q *fakeQueue) Inflight() int   { return 2 }

type fakePool struct{ active int }

func (p fakePool) ActiveCount() int   { return p.active }
func (p fakePool) MaxConcurrent() int { return 4 }

type env struct {
	probe    *fakeProbe
	seg      *fakeSegmenter
	queue    *fakeQueue
	reporter *Reporter
	model    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	model := filepath.Join(t.TempDir(), "resunet.pth")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	e := &env{
		probe: &fakeProbe{res: Resources{CPUPercent: 10, MemoryPercent: 40, DiskPercent: 50, DiskFree: 1 << 30}},
		seg:   &fakeSegmenter{},
		queue: &fakeQueue{},
		model: model,
	}
	e.queue.connected.Store(true)
	e.reporter = NewReporter(Config{
		InstanceID: "worker-1",
		ModelPath:  model,
		Thresholds: Thresholds{CPU: 90, Memory: 90, Disk: 90},
	}, e.probe, e.seg, e.queue, fakePool{active: 3}, metrics.NewRecorder())
	return e
}

func TestReporter_Classification(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *env)
		status Status
		ready  bool
		reason string
	}{
		{name: "healthy", mutate: func(*env) {}, status: StatusHealthy, ready: true},
		{
			name:   "memory pressure",
			mutate: func(e *env) { e.probe.res.MemoryPercent = 95 },
			status: StatusDegraded, ready: true, reason: "high memory usage",
		},
		{
			name:   "cpu at threshold",
			mutate: func(e *env) { e.probe.res.CPUPercent = 90 },
			status: StatusDegraded, ready: true, reason: "high CPU usage",
		},
		{
			name:   "disk pressure",
			mutate: func(e *env) { e.probe.res.DiskPercent = 97 },
			status: StatusDegraded, ready: true, reason: "low disk space",
		},
		{
			name:   "queue disconnected",
			mutate: func(e *env) { e.queue.connected.Store(false) },
			status: StatusDegraded, ready: false, reason: "queue disconnected",
		},
		{
			name:   "model missing",
			mutate: func(e *env) { require.NoError(t, os.Remove(e.model)) },
			status: StatusUnhealthy, ready: false, reason: "model artifact missing",
		},
		{
			name:   "segmenter down",
			mutate: func(e *env) { e.seg.err = errors.New("channel TRANSIENT_FAILURE") },
			status: StatusUnhealthy, ready: false, reason: "segmenter unavailable",
		},
		{
			name:   "probe failure does not degrade",
			mutate: func(e *env) { e.probe.err = errors.New("no /proc") },
			status: StatusHealthy, ready: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.mutate(e)
			e.reporter.Sample(context.Background())

			rep := e.reporter.Deep()
			assert.Equal(t, tt.status, rep.Status)
			assert.Equal(t, tt.ready, rep.Ready)
			assert.Equal(t, tt.ready, e.reporter.Ready().Ready)
			assert.Contains(t, rep.Reason, tt.reason)
			assert.Equal(t, 3, rep.Tasks.Active)
			assert.Equal(t, 4, rep.Tasks.MaxConcurrent)
		})
	}
}

func TestReporter_BeforeFirstSample(t *testing.T) {
	e := newEnv(t)
	rd := e.reporter.Ready()
	assert.False(t, rd.Ready)
	assert.Equal(t, "warming up", rd.Reason)
	assert.Equal(t, StatusDegraded, e.reporter.Deep().Status)
	assert.Equal(t, "alive", e.reporter.Live().Status)
}

func TestReporter_ShuttingDown(t *testing.T) {
	e := newEnv(t)
	e.reporter.Sample(context.Background())
	e.reporter.SetShuttingDown()

	assert.False(t, e.reporter.Ready().Ready)
	assert.Equal(t, "shutting down", e.reporter.Ready().Reason)
	assert.Equal(t, StatusDegraded, e.reporter.Deep().Status)
}

func TestReporter_ReadsAreNonBlocking(t *testing.T) {
	e := newEnv(t)
	e.reporter.Sample(context.Background())

	start := time.Now()
	for range 1000 {
		_ = e.reporter.Deep()
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRouter(t *testing.T) {
	e := newEnv(t)
	e.reporter.Sample(context.Background())
	srv := httptest.NewServer(NewRouter(e.reporter))
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := get("/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "worker-1", body["instance_id"])

	code, body = get("/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])

	code, body = get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(4), body["processing"].(map[string]any)["max_concurrent"])
	assert.Contains(t, body, "durations")

	e.queue.connected.Store(false)
	code, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "queue disconnected", body["reason"])

	code, body = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])

	resp, err := http.Post(srv.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGRPCHealth(t *testing.T) {
	e := newEnv(t)
	e.reporter.Sample(context.Background())

	lis := bufconn.Listen(1 << 16)
	s := grpc.NewServer()
	h := RegisterGRPC(s, e.reporter)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status())

	e.queue.connected.Store(false)
	h.update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	e.queue.connected.Store(true)
	h.update()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status())

	h.Shutdown()
	h.update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())
}

func TestHeartbeat(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	reg := instancestore.NewRedisInstanceStore(rdb, time.Minute)

	e := newEnv(t)
	e.reporter.Sample(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.reporter.Heartbeat(ctx, reg, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		snap, ok, err := reg.Instance(context.Background(), "worker-1")
		return err == nil && ok && snap.Status == "healthy" && snap.ActiveTasks == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	_, ok, err := reg.Instance(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithRecover(t *testing.T) {
	h := WithRecover(LogMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("probe exploded")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
