package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name probes ask about. The empty
// name reports the same status.
const ServiceName = "segpipeline.worker"

// GRPCHealth mirrors readiness into the standard grpc.health.v1 service.
type GRPCHealth struct {
	srv      *health.Server
	reporter *Reporter
}

func RegisterGRPC(s *grpc.Server, r *Reporter) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), reporter: r}
	h.update()
	healthpb.RegisterHealthServer(s, h.srv)
	return h
}

// Run refreshes the serving status every interval until ctx ends.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.update()
		}
	}
}

func (h *GRPCHealth) update() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.reporter.Ready().Ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}

// Shutdown marks every service NOT_SERVING permanently.
func (h *GRPCHealth) Shutdown() {
	h.srv.Shutdown()
}
