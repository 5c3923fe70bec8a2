package domain

import "time"

// AlarmType names a threshold rule. At most one open record exists per type.
type AlarmType string

const (
	AlarmECHigh        AlarmType = "EC_HIGH"
	AlarmECLow         AlarmType = "EC_LOW"
	AlarmPHHigh        AlarmType = "PH_HIGH"
	AlarmPHLow         AlarmType = "PH_LOW"
	AlarmWaterTempHigh AlarmType = "WATER_TEMP_HIGH"
	AlarmWaterTempLow  AlarmType = "WATER_TEMP_LOW"
	AlarmTankLevelLow  AlarmType = "TANK_LEVEL_LOW"
)

// AlarmRecord is a threshold violation. ResolvedAt is nil while the alarm is open.
type AlarmRecord struct {
	ID         uint64     `json:"id"`
	Type       AlarmType  `json:"alarmType"`
	Value      float64    `json:"alarmValue"`
	Threshold  float64    `json:"thresholdValue"`
	Message    string     `json:"message"`
	OccurredAt time.Time  `json:"occurredAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Open reports whether the record has not been resolved yet.
func (r AlarmRecord) Open() bool { return r.ResolvedAt == nil }
