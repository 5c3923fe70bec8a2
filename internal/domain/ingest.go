package domain

import "time"

// SystemMetrics is host health attached to ingestion heartbeats.
type SystemMetrics struct {
	CPUPercent        float64 `json:"cpuPercent"`
	MemoryPercent     float64 `json:"memoryPercent"`
	DiskPercent       float64 `json:"diskPercent"`
	HostUptimeSeconds uint64  `json:"hostUptimeSeconds"`
}

// IngestPayload is the body of one bulk ingestion request. Uptime is the edge
// process uptime in seconds.
type IngestPayload struct {
	FarmID    FarmID             `json:"farmId"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
	Status    StatusSnapshot     `json:"status"`
	Uptime    float64            `json:"uptime"`
	System    *SystemMetrics     `json:"system,omitempty"`
}

// DailySyncPayload carries the previous day's summaries.
type DailySyncPayload struct {
	FarmID    FarmID         `json:"farmId"`
	Date      string         `json:"date"`
	Summaries []DailySummary `json:"summaries"`
}
