package store

import (
	"context"
	"encoding/json"
	"fmt"

	"infra-monitor/pkg/models"
)

func strPtr(s string) *string { return &s }

// SeedDemoData registers the three reference systems with an initial
// metric and log each. It does nothing when any system already exists.
func (r *Repository) SeedDemoData(ctx context.Context) (bool, error) {
	existing, err := r.ListSystems(ctx, models.SystemFilter{})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	dbSystem, err := r.CreateSystem(ctx, models.NewSystem{
		Name: "Prod-DB-01", Type: models.SystemTypeDatabase, IPAddress: "192.168.1.10",
		Status: models.StatusOnline, Version: strPtr("PostgreSQL 15"),
	})
	if err != nil {
		return false, fmt.Errorf("seed database system: %w", err)
	}
	winSystem, err := r.CreateSystem(ctx, models.NewSystem{
		Name: "Win-IIS-Server", Type: models.SystemTypeWindows, IPAddress: "192.168.1.20",
		Status: models.StatusOnline, Version: strPtr("Windows Server 2022"),
	})
	if err != nil {
		return false, fmt.Errorf("seed windows system: %w", err)
	}
	linuxSystem, err := r.CreateSystem(ctx, models.NewSystem{
		Name: "App-Server-01", Type: models.SystemTypeLinux, IPAddress: "192.168.1.30",
		Status: models.StatusWarning, Version: strPtr("Ubuntu 22.04 LTS"),
	})
	if err != nil {
		return false, fmt.Errorf("seed linux system: %w", err)
	}

	metrics := []models.NewMetric{
		{
			SystemID: dbSystem.ID, CPUUsage: 35, MemoryUsage: 72, DiskUsage: 64, NetworkIn: 1250, NetworkOut: 980,
			Data: mustJSON(map[string]any{
				"activeConnections": 145,
				"blockedUsers":      2,
				"tablespaceUsage":   map[string]int{"users": 85, "system": 45, "temp": 12},
				"logSize":           "2.5 GB",
				"serviceStatus":     "up",
			}),
		},
		{
			SystemID: winSystem.ID, CPUUsage: 45, MemoryUsage: 60, DiskUsage: 30, NetworkIn: 620, NetworkOut: 410,
			Data: mustJSON(map[string]any{
				"iisStatus": "running",
				"openPorts": []int{80, 443, 3389},
			}),
		},
		{SystemID: linuxSystem.ID, CPUUsage: 78, MemoryUsage: 55, DiskUsage: 83, NetworkIn: 300, NetworkOut: 150},
	}
	for _, m := range metrics {
		if _, err := r.CreateMetric(ctx, m); err != nil {
			return false, fmt.Errorf("seed metric for system %d: %w", m.SystemID, err)
		}
	}

	logs := []models.NewLog{
		{SystemID: dbSystem.ID, Level: models.LevelInfo, Message: "Backup completed successfully", Source: strPtr("PostgreSQL")},
		{SystemID: linuxSystem.ID, Level: models.LevelWarning, Message: "Disk usage exceeds 80%", Source: strPtr("System")},
		{SystemID: winSystem.ID, Level: models.LevelError, Message: "IIS Worker Process failed", Source: strPtr("IIS")},
	}
	for _, l := range logs {
		if _, err := r.CreateLog(ctx, l); err != nil {
			return false, fmt.Errorf("seed log for system %d: %w", l.SystemID, err)
		}
	}

	return true, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
