package domain

import "time"

// FarmID identifies an edge node. It is the routing key of every topic.
type FarmID string

// SensorSnapshot is the latest known reading per sensor field on an edge node.
// It is overwritten in place; history lives in the local store.
type SensorSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"sensors"`
}

// Value returns the reading for field and whether it is present.
func (s SensorSnapshot) Value(field string) (float64, bool) {
	if s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[field]
	return v, ok
}

// Clone returns a deep copy so callers can hand the snapshot to another goroutine.
func (s SensorSnapshot) Clone() SensorSnapshot {
	return SensorSnapshot{Timestamp: s.Timestamp, Values: CopyValues(s.Values)}
}

// Reading is a single field update produced by a collector.
type Reading struct {
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// CopyValues copies a sensor map; nil in, nil out.
func CopyValues(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Well-known sensor fields read by the alarm engine and the controller.
const (
	FieldEC         = "ec"
	FieldPH         = "ph"
	FieldWaterTemp  = "water_temp"
	FieldTankLevel  = "tank_level"
	FieldSupplyFlow = "supply_flow"
	FieldDrainFlow  = "drain_flow"
	ValveFlowPrefix = "valve_"
	ValveFlowSuffix = "_flow"
)
