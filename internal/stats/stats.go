// Package stats derives dashboard statistics from a systems snapshot and
// the latest metric of each system.
package stats

import (
	"math"

	"infra-monitor/pkg/models"
)

type TypeCounts struct {
	Database int `json:"database"`
	Windows  int `json:"windows"`
	Linux    int `json:"linux"`
}

// Averages are taken over reporting systems only.
type Averages struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	DiskUsage   float64 `json:"diskUsage"`
	NetworkIn   float64 `json:"networkIn"`
	NetworkOut  float64 `json:"networkOut"`
}

type Stats struct {
	TotalSystems     int        `json:"totalSystems"`
	Online           int        `json:"online"`
	Warning          int        `json:"warning"`
	Offline          int        `json:"offline"`
	ByType           TypeCounts `json:"byType"`
	HealthScore      int        `json:"healthScore"`
	ReportingSystems int        `json:"reportingSystems"`
	Averages         Averages   `json:"averages"`
}

// Compute is pure: it never mutates its inputs and yields the same Stats
// for the same snapshots. Metrics for systems missing from the snapshot
// are ignored, so a metrics refresh that lands before the systems refresh
// cannot skew the result. When a system has several metrics the newest wins.
func Compute(systems []models.System, metrics []models.Metric) Stats {
	var s Stats
	s.TotalSystems = len(systems)

	known := make(map[int64]struct{}, len(systems))
	for _, sys := range systems {
		known[sys.ID] = struct{}{}

		switch sys.Status {
		case models.StatusOnline:
			s.Online++
		case models.StatusWarning:
			s.Warning++
		case models.StatusOffline:
			s.Offline++
		}

		switch sys.Type {
		case models.SystemTypeDatabase:
			s.ByType.Database++
		case models.SystemTypeWindows:
			s.ByType.Windows++
		case models.SystemTypeLinux:
			s.ByType.Linux++
		}
	}
	s.HealthScore = HealthScore(s.Online, s.TotalSystems)

	var sum Averages
	for systemID, m := range LatestBySystem(metrics) {
		if _, ok := known[systemID]; !ok {
			continue
		}
		s.ReportingSystems++
		sum.CPUUsage += m.CPUUsage
		sum.MemoryUsage += m.MemoryUsage
		sum.DiskUsage += m.DiskUsage
		sum.NetworkIn += m.NetworkIn
		sum.NetworkOut += m.NetworkOut
	}
	if n := float64(s.ReportingSystems); n > 0 {
		s.Averages = Averages{
			CPUUsage:    round2(sum.CPUUsage / n),
			MemoryUsage: round2(sum.MemoryUsage / n),
			DiskUsage:   round2(sum.DiskUsage / n),
			NetworkIn:   round2(sum.NetworkIn / n),
			NetworkOut:  round2(sum.NetworkOut / n),
		}
	}

	return s
}

// HealthScore is the rounded share of online systems, 0 for an empty fleet.
func HealthScore(online, total int) int {
	if total <= 0 {
		return 0
	}
	score := int(math.Round(100 * float64(online) / float64(total)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// LatestBySystem keeps the newest metric per system, breaking timestamp
// ties by id.
func LatestBySystem(metrics []models.Metric) map[int64]models.Metric {
	latest := make(map[int64]models.Metric, len(metrics))
	for _, m := range metrics {
		cur, ok := latest[m.SystemID]
		if !ok || m.Timestamp.After(cur.Timestamp) || (m.Timestamp.Equal(cur.Timestamp) && m.ID > cur.ID) {
			latest[m.SystemID] = m
		}
	}
	return latest
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
