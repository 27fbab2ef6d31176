package monitoring

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot 一次系统资源采样
type Snapshot struct {
	CPUUsage      float64 `json:"cpu_usage"`
	CPULoad1m     float64 `json:"cpu_load_1m"`
	CPULoad5m     float64 `json:"cpu_load_5m"`
	CPULoad15m    float64 `json:"cpu_load_15m"`
	CPUCores      int     `json:"cpu_cores"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotal     uint64  `json:"disk_total"`
	DiskUsed      uint64  `json:"disk_used"`
	DiskPercent   float64 `json:"disk_percent"`
	HostUptime    uint64  `json:"host_uptime"`
	GoVersion     string  `json:"go_version"`
	NumGoroutines int     `json:"num_goroutines"`
}

// Monitor 按需采集系统状态
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Collect 采集当前系统状态，单项采集失败不阻断其余项
func (m *Monitor) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		CPUCores:      runtime.NumCPU(),
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
	}

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		snap.CPUUsage = percentages[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.CPULoad1m = avg.Load1
		snap.CPULoad5m = avg.Load5
		snap.CPULoad15m = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotal = vm.Total
		snap.MemoryUsed = vm.Used
		snap.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snap.DiskTotal = usage.Total
		snap.DiskUsed = usage.Used
		snap.DiskPercent = usage.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snap.HostUptime = uptime
	}

	return snap
}
