package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"infra-monitor/pkg/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Sample is one reading of the local host.
type Sample struct {
	CPUUsage    float64
	MemoryUsage float64
	DiskUsage   float64
	NetworkIn   float64 // KB/s since the previous sample
	NetworkOut  float64 // KB/s since the previous sample
	Load1       float64
	Load5       float64
	Load15      float64
	SwapUsage   float64
	TakenAt     time.Time
}

// Metric converts the sample into an ingest payload for systemID.
func (s Sample) Metric(systemID int64) (models.NewMetric, error) {
	data, err := json.Marshal(map[string]float64{
		"load1":     s.Load1,
		"load5":     s.Load5,
		"load15":    s.Load15,
		"swapUsage": round2(s.SwapUsage),
	})
	if err != nil {
		return models.NewMetric{}, fmt.Errorf("failed to encode sample data: %w", err)
	}
	return models.NewMetric{
		SystemID:    systemID,
		CPUUsage:    percent(s.CPUUsage),
		MemoryUsage: percent(s.MemoryUsage),
		DiskUsage:   percent(s.DiskUsage),
		NetworkIn:   round2(s.NetworkIn),
		NetworkOut:  round2(s.NetworkOut),
		Data:        data,
	}, nil
}

// HostInfo describes the machine for registration.
type HostInfo struct {
	Hostname  string
	Platform  string
	IPAddress string
}

// Source produces host samples.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
	Host(ctx context.Context) HostInfo
}

type counters struct {
	recv, sent uint64
	at         time.Time
}

// Collector reads the local host through gopsutil.
type Collector struct {
	diskPath  string
	cpuWindow time.Duration

	mu   sync.Mutex
	prev *counters
}

func NewCollector(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{diskPath: diskPath, cpuWindow: time.Second}
}

func (c *Collector) Sample(ctx context.Context) (Sample, error) {
	s := Sample{TakenAt: time.Now().UTC()}

	cpuPercent, err := cpu.PercentWithContext(ctx, c.cpuWindow, false)
	if err != nil {
		return s, fmt.Errorf("failed to read cpu: %w", err)
	}
	if len(cpuPercent) > 0 {
		s.CPUUsage = cpuPercent[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read memory: %w", err)
	}
	s.MemoryUsage = vm.UsedPercent

	usage, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return s, fmt.Errorf("failed to read disk usage of %s: %w", c.diskPath, err)
	}
	s.DiskUsage = usage.UsedPercent

	// optional readings
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		s.SwapUsage = swap.UsedPercent
	}

	totals, err := net.IOCountersWithContext(ctx, false)
	if err == nil && len(totals) > 0 {
		cur := counters{recv: totals[0].BytesRecv, sent: totals[0].BytesSent, at: s.TakenAt}
		c.mu.Lock()
		if c.prev != nil {
			s.NetworkIn, s.NetworkOut = networkRate(*c.prev, cur)
		}
		c.prev = &cur
		c.mu.Unlock()
	}

	return s, nil
}

func (c *Collector) Host(ctx context.Context) HostInfo {
	info := HostInfo{IPAddress: mainIPAddress(ctx)}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Platform = strings.TrimSpace(fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion))
	}
	return info
}

// networkRate converts two counter readings into KB/s. A counter that went
// backwards (interface reset) yields zero for that direction.
func networkRate(prev, cur counters) (in, out float64) {
	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	if cur.recv >= prev.recv {
		in = float64(cur.recv-prev.recv) / 1024 / elapsed
	}
	if cur.sent >= prev.sent {
		out = float64(cur.sent-prev.sent) / 1024 / elapsed
	}
	return in, out
}

func mainIPAddress(ctx context.Context) string {
	interfaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Name == "lo" || len(iface.Addrs) == 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := addr.Addr
			if idx := strings.Index(ip, "/"); idx != -1 {
				ip = ip[:idx]
			}
			if strings.Contains(ip, ":") || strings.HasPrefix(ip, "127.") || ip == "" {
				continue
			}
			return ip
		}
	}
	return ""
}

func percent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return round2(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
