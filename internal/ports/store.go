package ports

import (
	"context"
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

// LocalStore is the edge node's durable history.
type LocalStore interface {
	AppendSensorLog(ctx context.Context, snap domain.SensorSnapshot) error
	RecordRun(ctx context.Context, run domain.IrrigationRun) error
	// DailySummaries aggregates the runs that started on day (local date).
	DailySummaries(ctx context.Context, day time.Time) ([]domain.DailySummary, error)
	Cleanup(ctx context.Context, now time.Time, pol RetentionPolicy) (CleanupStats, error)
}

type CleanupStats struct {
	SensorLogs int
	Runs       int
}

// CloudStore is the central persistence used by the cloud bridge.
type CloudStore interface {
	LookupFarm(ctx context.Context, id domain.FarmID) (domain.Farm, bool, error)
	SaveTelemetry(ctx context.Context, id domain.FarmID, at time.Time, sensors map[string]float64) error
	SaveStatus(ctx context.Context, id domain.FarmID, st domain.StatusSnapshot) error
	SaveAlarm(ctx context.Context, id domain.FarmID, rec domain.AlarmRecord) error
	ResolveAlarm(ctx context.Context, id domain.FarmID, typ domain.AlarmType, at time.Time) error
	RecordCommand(ctx context.Context, id domain.FarmID, cmd domain.Command) error
	AckCommand(ctx context.Context, id domain.FarmID, ack domain.CommandAck) error
	TouchLastSeen(ctx context.Context, id domain.FarmID, at time.Time) error
	UpsertDailySummaries(ctx context.Context, id domain.FarmID, summaries []domain.DailySummary) error
	ListLiveness(ctx context.Context) ([]domain.FarmLiveness, error)
	SetOnline(ctx context.Context, id domain.FarmID, online bool) error
}
