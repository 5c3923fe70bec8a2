package sysinfo

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Probe reads host CPU, memory and disk usage. Individual failures leave the
// field at zero and are reported together.
type Probe struct {
	diskPath string
	obs      ports.Observability
}

func NewProbe(diskPath string, obs ports.Observability) *Probe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Probe{diskPath: diskPath, obs: obs}
}

func (p *Probe) Collect(ctx context.Context) (domain.SystemMetrics, error) {
	var (
		m    domain.SystemMetrics
		errs []error
	)

	// interval 0 compares against the previous call, so it never blocks
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = append(errs, err)
	} else if len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		m.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, p.diskPath); err != nil {
		errs = append(errs, err)
	} else {
		m.DiskPercent = du.UsedPercent
	}
	if up, err := host.UptimeWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		m.HostUptimeSeconds = up
	}

	if p.obs != nil {
		p.obs.SetGauge("farm_host_cpu_percent", m.CPUPercent)
		p.obs.SetGauge("farm_host_memory_percent", m.MemoryPercent)
	}
	return m, errors.Join(errs...)
}

var _ ports.SystemProbe = (*Probe)(nil)
