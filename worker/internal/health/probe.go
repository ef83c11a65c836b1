package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

type Resources struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryAvailable uint64  `json:"memory_available_bytes"`
	DiskPercent     float64 `json:"disk_percent"`
	DiskFree        uint64  `json:"disk_free_bytes"`
}

type Probe interface {
	Resources(ctx context.Context) (Resources, error)
}

type systemProbe struct {
	diskPath string
}

// NewSystemProbe measures host CPU and memory, and disk usage of the
// filesystem holding diskPath.
func NewSystemProbe(diskPath string) Probe {
	return &systemProbe{diskPath: diskPath}
}

func (p *systemProbe) Resources(ctx context.Context) (Resources, error) {
	var r Resources

	// interval 0 compares against the previous call, so it never sleeps
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return r, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		r.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return r, fmt.Errorf("memory: %w", err)
	}
	r.MemoryPercent = vm.UsedPercent
	r.MemoryAvailable = vm.Available

	du, err := disk.UsageWithContext(ctx, p.diskPath)
	if err != nil {
		return r, fmt.Errorf("disk %s: %w", p.diskPath, err)
	}
	r.DiskPercent = du.UsedPercent
	r.DiskFree = du.Free

	return r, nil
}
