package ports

import (
	"context"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

// Controller executes commands against the irrigation hardware.
type Controller interface {
	Execute(ctx context.Context, cmd domain.Command) error
	ApplyConfig(ctx context.Context, update domain.ConfigUpdate) error
	// Observe feeds the latest snapshot so running programs can account flows.
	Observe(snap domain.SensorSnapshot)
	Status() domain.StatusSnapshot
	// Setpoints returns the active targets keyed by sensor field.
	Setpoints() map[string]float64
}
