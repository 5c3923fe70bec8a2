package domain

import "time"

// Farm is the subset of the farm entity the cloud bridge reads and writes.
type Farm struct {
	ID         FarmID
	Name       string
	SecretHash string
	Online     bool
	LastSeenAt *time.Time
}

// FarmLiveness is what the offline monitor scans.
type FarmLiveness struct {
	ID         FarmID
	Online     bool
	LastSeenAt *time.Time
}

// FanOutEvent kinds emitted by the cloud besides the relayed topic kinds.
const (
	EventFarmOnline  = "farm-online"
	EventFarmOffline = "farm-offline"
)
