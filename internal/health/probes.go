package health

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vesselkit/vessel/internal/kvstore"
)

// CPUProbe fails when average utilization across cores exceeds maxPercent.
func CPUProbe(maxPercent float64) Probe {
	return func(ctx context.Context) (bool, string) {
		percents, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return false, fmt.Sprintf("cpu sample failed: %v", err)
		}
		if len(percents) == 0 {
			return false, "cpu sample returned no data"
		}
		used := percents[0]
		return used <= maxPercent, fmt.Sprintf("cpu %.1f%% (limit %.1f%%)", used, maxPercent)
	}
}

// MemoryProbe fails when virtual memory usage exceeds maxPercent.
func MemoryProbe(maxPercent float64) Probe {
	return func(ctx context.Context) (bool, string) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return false, fmt.Sprintf("memory sample failed: %v", err)
		}
		return vm.UsedPercent <= maxPercent, fmt.Sprintf("memory %.1f%% (limit %.1f%%)", vm.UsedPercent, maxPercent)
	}
}

// DiskProbe fails when usage of the filesystem at path exceeds maxPercent.
func DiskProbe(path string, maxPercent float64) Probe {
	return func(ctx context.Context) (bool, string) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return false, fmt.Sprintf("disk sample failed: %v", err)
		}
		return usage.UsedPercent <= maxPercent, fmt.Sprintf("disk %s %.1f%% (limit %.1f%%)", path, usage.UsedPercent, maxPercent)
	}
}

// RedisProbe pings the key-value backend.
func RedisProbe(r *kvstore.Redis) Probe {
	return func(ctx context.Context) (bool, string) {
		if err := r.Ping(ctx); err != nil {
			return false, fmt.Sprintf("redis ping failed: %v", err)
		}
		return true, "redis reachable"
	}
}

// DatabaseProbe pings the SQL backend.
func DatabaseProbe(db *sqlx.DB) Probe {
	return func(ctx context.Context) (bool, string) {
		if err := db.PingContext(ctx); err != nil {
			return false, fmt.Sprintf("database ping failed: %v", err)
		}
		return true, "database reachable"
	}
}
