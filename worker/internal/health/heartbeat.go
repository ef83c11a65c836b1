package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	instancestore "github.com/spheroseg/segpipeline/worker/internal/infra/store/instance"
)

type Registry interface {
	Publish(ctx context.Context, snap instancestore.Snapshot) error
	Remove(ctx context.Context, id string) error
}

// Heartbeat publishes the deep report to the fleet registry every interval
// and withdraws it when ctx ends.
func (r *Reporter) Heartbeat(ctx context.Context, reg Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.publish(ctx, reg)
	for {
		select {
		case <-ctx.Done():
			rmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := reg.Remove(rmCtx, r.cfg.InstanceID); err != nil {
				slog.Warn("heartbeat remove", slog.String("error", err.Error()))
			}
			cancel()
			return
		case <-ticker.C:
			r.publish(ctx, reg)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, reg Registry) {
	rep := r.Deep()
	raw, err := json.Marshal(rep)
	if err != nil {
		slog.Warn("heartbeat encode", slog.String("error", err.Error()))
		return
	}

	err = reg.Publish(ctx, instancestore.Snapshot{
		ID:          r.cfg.InstanceID,
		Status:      string(rep.Status),
		Ready:       rep.Ready,
		Reason:      rep.Reason,
		ActiveTasks: rep.Tasks.Active,
		MaxTasks:    rep.Tasks.MaxConcurrent,
		UpdatedAt:   rep.Timestamp,
		Report:      raw,
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("heartbeat publish", slog.String("error", err.Error()))
	}
}
