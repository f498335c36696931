package models

import (
	"encoding/json"
	"time"
)

type SystemType string

const (
	SystemTypeDatabase SystemType = "database"
	SystemTypeLinux    SystemType = "linux"
	SystemTypeWindows  SystemType = "windows"
)

func (t SystemType) Valid() bool {
	switch t {
	case SystemTypeDatabase, SystemTypeLinux, SystemTypeWindows:
		return true
	}
	return false
}

type SystemStatus string

const (
	StatusOnline  SystemStatus = "online"
	StatusOffline SystemStatus = "offline"
	StatusWarning SystemStatus = "warning"
)

func (s SystemStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusWarning:
		return true
	}
	return false
}

type LogLevel string

const (
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// System is a monitored host: a database server, a Linux box or a Windows server.
type System struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Type      SystemType   `json:"type"`
	IPAddress string       `json:"ipAddress"`
	Status    SystemStatus `json:"status"`
	Version   *string      `json:"version"`
	LastSeen  time.Time    `json:"lastSeen"`
	CreatedAt time.Time    `json:"createdAt"`
}

type NewSystem struct {
	Name      string       `json:"name"`
	Type      SystemType   `json:"type"`
	IPAddress string       `json:"ipAddress"`
	Status    SystemStatus `json:"status,omitempty"`
	Version   *string      `json:"version,omitempty"`
}

// SystemPatch carries a partial update; nil fields are left unchanged.
type SystemPatch struct {
	Name      *string       `json:"name,omitempty"`
	Type      *SystemType   `json:"type,omitempty"`
	IPAddress *string       `json:"ipAddress,omitempty"`
	Status    *SystemStatus `json:"status,omitempty"`
	Version   *string       `json:"version,omitempty"`
}

func (p SystemPatch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.IPAddress == nil && p.Status == nil && p.Version == nil
}

type SystemFilter struct {
	Type   SystemType
	Status SystemStatus
}

type SystemCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Warning int `json:"warning"`
}

// StatusChange is a system status transition and the log entry that
// recorded it.
type StatusChange struct {
	SystemID int64
	From     SystemStatus
	To       SystemStatus
	Log      Log
}

// Metric is an immutable point-in-time resource snapshot of one system.
type Metric struct {
	ID          int64           `json:"id"`
	SystemID    int64           `json:"systemId"`
	CPUUsage    float64         `json:"cpuUsage"`
	MemoryUsage float64         `json:"memoryUsage"`
	DiskUsage   float64         `json:"diskUsage"`
	NetworkIn   float64         `json:"networkIn"`
	NetworkOut  float64         `json:"networkOut"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type NewMetric struct {
	SystemID    int64           `json:"systemId"`
	CPUUsage    float64         `json:"cpuUsage"`
	MemoryUsage float64         `json:"memoryUsage"`
	DiskUsage   float64         `json:"diskUsage"`
	NetworkIn   float64         `json:"networkIn"`
	NetworkOut  float64         `json:"networkOut"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type MetricFilter struct {
	SystemID int64
	Since    time.Time
	Limit    int
}

type Log struct {
	ID         int64     `json:"id"`
	SystemID   int64     `json:"systemId"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	Source     *string   `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
	IsResolved bool      `json:"isResolved"`
}

type NewLog struct {
	SystemID int64    `json:"systemId"`
	Level    LogLevel `json:"level"`
	Message  string   `json:"message"`
	Source   *string  `json:"source,omitempty"`
}

type LogFilter struct {
	SystemID int64
	Level    LogLevel
	Since    time.Time
	Limit    int
}
