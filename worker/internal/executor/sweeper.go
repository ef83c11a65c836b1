package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartSweeper periodically removes scratch directories left behind by a
// crashed or killed process.
func (e *Executor) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := e.Sweep(now, ttl)
				if err != nil {
					slog.Warn("scratch sweep", slog.String("error", err.Error()))
				}
				if n > 0 {
					slog.Info("scratch sweep", slog.Int("removed_dirs", n))
				}
			}
		}
	}()
}

// Sweep removes task scratch directories last modified more than ttl
// before now.
func (e *Executor) Sweep(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(e.cfg.ScratchDir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < ttl {
			continue
		}
		if err := os.RemoveAll(filepath.Join(e.cfg.ScratchDir, entry.Name())); err != nil {
			slog.Warn("remove stale scratch dir",
				slog.String("dir", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}
