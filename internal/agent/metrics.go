package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Metrics is the collect_metrics result shape.
type Metrics struct {
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Platform    string  `json:"platform"`
	UptimeSecs  uint64  `json:"uptime_seconds"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCount    int     `json:"cpu_count"`
	MemTotal    uint64  `json:"mem_total"`
	MemUsed     uint64  `json:"mem_used"`
	MemPercent  float64 `json:"mem_percent"`
	DiskTotal   uint64  `json:"disk_total"`
	DiskUsed    uint64  `json:"disk_used"`
	DiskPercent float64 `json:"disk_percent"`
	NetSent     uint64  `json:"net_bytes_sent"`
	NetRecv     uint64  `json:"net_bytes_recv"`
	CollectedAt string  `json:"collected_at"`
}

func handleCollectMetrics(ctx context.Context, _ json.RawMessage) (any, error) {
	m := Metrics{CollectedAt: time.Now().UTC().Format(time.RFC3339)}

	if info, err := host.InfoWithContext(ctx); err == nil {
		m.Hostname = info.Hostname
		m.OS = info.OS
		m.Platform = info.Platform
		m.UptimeSecs = info.Uptime
	}

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		m.CPUCount = count
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemTotal = vm.Total
		m.MemUsed = vm.Used
		m.MemPercent = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		m.DiskTotal = usage.Total
		m.DiskUsed = usage.Used
		m.DiskPercent = usage.UsedPercent
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		m.NetSent = counters[0].BytesSent
		m.NetRecv = counters[0].BytesRecv
	}

	return m, nil
}
