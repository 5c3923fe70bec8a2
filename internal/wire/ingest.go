package wire

// Bulk ingestion channel, outside the broker.
const (
	HeaderFarmID     = "X-Farm-Id"
	HeaderFarmSecret = "X-Farm-Secret"

	PathSnapshot     = "/api/v1/ingest/snapshot"
	PathDailySummary = "/api/v1/ingest/daily-summary"
)

// IngestResponse acknowledges one ingestion request.
type IngestResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
