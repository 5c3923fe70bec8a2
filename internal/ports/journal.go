package ports

import (
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

// AlarmJournal persists alarm records on the edge so the open-alarm index can
// be rebuilt after a restart.
type AlarmJournal interface {
	// Open stores a new record and returns it with its assigned ID.
	Open(rec domain.AlarmRecord) (domain.AlarmRecord, error)
	Resolve(id uint64, at time.Time) error
	// OpenAlarms returns every record without a resolution.
	OpenAlarms() ([]domain.AlarmRecord, error)
	Stats() JournalStats
}

type JournalStats struct {
	LatestID  uint64
	OpenCount int
	SizeBytes int64
}
