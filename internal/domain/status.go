package domain

import "time"

// OperatingState is the controller's high level mode.
type OperatingState string

const (
	StateIdle          OperatingState = "IDLE"
	StateRunning       OperatingState = "RUNNING"
	StateManual        OperatingState = "MANUAL"
	StateEmergencyStop OperatingState = "EMERGENCY_STOP"
)

// StatusSnapshot is published on the status topic and embedded in ingestion payloads.
type StatusSnapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	OperatingState OperatingState `json:"operatingState"`
	CurrentProgram int            `json:"currentProgram"`
	EmergencyStop  bool           `json:"emergencyStop"`
	SupplyPump     bool           `json:"supplyPump"`
	DrainPump      bool           `json:"drainPump"`
	Mixer          bool           `json:"mixer"`
	DailyTotals    DailyTotals    `json:"dailyTotals"`
}

// DailyTotals accumulates since local midnight.
type DailyTotals struct {
	RunCount     int     `json:"runCount"`
	SupplyLiters float64 `json:"supplyLiters"`
	DrainLiters  float64 `json:"drainLiters"`
}

// SystemConfig carries farm-wide setpoints pushed from the cloud.
type SystemConfig struct {
	SetEC *float64 `json:"setEc,omitempty" yaml:"set_ec"`
	SetPH *float64 `json:"setPh,omitempty" yaml:"set_ph"`
}

// Program is an irrigation program definition.
type Program struct {
	Number          int      `json:"programNumber" yaml:"number"`
	Name            string   `json:"name,omitempty" yaml:"name"`
	SetEC           *float64 `json:"setEc,omitempty" yaml:"set_ec"`
	SetPH           *float64 `json:"setPh,omitempty" yaml:"set_ph"`
	DurationSeconds int      `json:"durationSeconds,omitempty" yaml:"duration_seconds"`
	Valves          []int    `json:"valves,omitempty" yaml:"valves"`
	Enabled         bool     `json:"enabled" yaml:"enabled"`
}

// ConfigUpdate is the config-update topic body. Either part may be absent.
type ConfigUpdate struct {
	SystemConfig *SystemConfig `json:"systemConfig,omitempty"`
	Program      *Program      `json:"program,omitempty"`
}
