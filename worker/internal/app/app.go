package wapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const serverShutdownTimeout = 5 * time.Second

type app struct {
	di *dependencyInjector
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	return &app{di: di}
}

// Run serves until ctx ends or a component fails, then performs the
// graceful stop sequence before returning.
func (a *app) Run(ctx context.Context) error {
	di := a.di
	l := di.Logger()
	cfg := di.Config()
	defer di.Close()

	var lis net.Listener
	if cfg.Health.GRPCAddr != "" {
		var err error
		if lis, err = net.Listen("tcp", cfg.Health.GRPCAddr); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Health.GRPCAddr, err)
		}
	}

	// Components outlive the signal; the coordinator decides when each stops.
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	reporter := di.Reporter(ctx)
	g.Go(func() error {
		reporter.Run(gctx, cfg.Health.SampleInterval)
		return nil
	})

	srv := di.HTTPServer(ctx)
	g.Go(func() error {
		l.Info("health endpoints listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health http server: %w", err)
		}
		return nil
	})

	if gs := di.GRPCServer(ctx); gs != nil {
		g.Go(func() error {
			l.Info("gRPC health listening", slog.String("addr", cfg.Health.GRPCAddr))
			if err := gs.Serve(lis); err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			di.GRPCHealth(ctx).Run(gctx, cfg.Health.SampleInterval)
			return nil
		})
	}

	if reg := di.InstanceRegistry(ctx); reg != nil {
		g.Go(func() error {
			reporter.Heartbeat(gctx, reg, cfg.Health.HeartbeatInterval)
			return nil
		})
	}

	di.Executor(ctx).StartSweeper(gctx, cfg.Worker.ScratchTTL/2, cfg.Worker.ScratchTTL)

	c := di.Consumer(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	l.Info("worker running",
		slog.Int("max_concurrent_tasks", cfg.Worker.MaxConcurrentTasks),
		slog.Int("prefetch_count", cfg.NATS.PrefetchCount),
		slog.String("subject", cfg.NATS.Subject),
	)

	select {
	case <-ctx.Done():
		l.Info("shutdown signal received, starting graceful shutdown")
	case <-gctx.Done():
		l.Error("component failed, shutting down")
	}

	coordinator := di.Coordinator(ctx).AfterClose(func() {
		if h := di.GRPCHealth(ctx); h != nil {
			h.Shutdown()
		}
		a.stopServers()
		stopRun()
	})
	shutdownErr := coordinator.Shutdown(context.Background())
	if shutdownErr != nil {
		l.Error("graceful shutdown incomplete", slog.String("error", shutdownErr.Error()))
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

func (a *app) stopServers() {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := a.di.HTTPServer(ctx).Shutdown(ctx); err != nil {
		slog.Warn("health http shutdown", slog.String("error", err.Error()))
	}

	gs := a.di.GRPCServer(ctx)
	if gs == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		slog.Warn("graceful gRPC stop timed out, forcing stop")
		gs.Stop()
	}
}
