package domain

import "time"

// IrrigationRun is one finished program run recorded by the edge controller.
type IrrigationRun struct {
	ProgramNumber int                `json:"programNumber"`
	StartedAt     time.Time          `json:"startedAt"`
	EndedAt       time.Time          `json:"endedAt"`
	SetEC         *float64           `json:"setEc,omitempty"`
	SetPH         *float64           `json:"setPh,omitempty"`
	AvgEC         *float64           `json:"avgEc,omitempty"`
	AvgPH         *float64           `json:"avgPh,omitempty"`
	SupplyLiters  float64            `json:"supplyLiters"`
	DrainLiters   float64            `json:"drainLiters"`
	ValveLiters   map[string]float64 `json:"valveLiters,omitempty"`
}

// ValveFlow is the volume delivered through one valve.
type ValveFlow struct {
	Valve  string  `json:"valve"`
	Liters float64 `json:"liters"`
}

// DailySummary aggregates the runs of one program on one day. The cloud keys
// it by (farm, SummaryDate, ProgramNumber).
type DailySummary struct {
	SummaryDate       string      `json:"summaryDate"`
	ProgramNumber     int         `json:"programNumber"`
	RunCount          int         `json:"runCount"`
	SetEC             *float64    `json:"setEc"`
	SetPH             *float64    `json:"setPh"`
	AvgEC             *float64    `json:"avgEc"`
	AvgPH             *float64    `json:"avgPh"`
	TotalSupplyLiters float64     `json:"totalSupplyLiters"`
	TotalDrainLiters  float64     `json:"totalDrainLiters"`
	ValveFlows        []ValveFlow `json:"valveFlows"`
}

// DateLayout is the summary date format.
const DateLayout = "2006-01-02"
