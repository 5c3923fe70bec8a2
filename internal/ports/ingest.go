package ports

import (
	"context"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

// IngestSender is the edge side of the bulk ingestion channel.
type IngestSender interface {
	SendSnapshot(ctx context.Context, body []byte) error
	SendDailySummaries(ctx context.Context, body []byte) error
}

// FanOut relays cloud events to real-time consumers. event is a topic kind or
// one of the farm liveness events.
type FanOut interface {
	Broadcast(ctx context.Context, farm domain.FarmID, event string, payload []byte) error
}

// SystemProbe reports host health for the ingestion heartbeat.
type SystemProbe interface {
	Collect(ctx context.Context) (domain.SystemMetrics, error)
}
