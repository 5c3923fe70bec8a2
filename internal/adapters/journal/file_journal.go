package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const recordHeaderLen = 12

const (
	opOpen    = "open"
	opResolve = "resolve"
)

// entry is one journal line. Open entries carry the full record, resolve
// entries reference it by ID.
type entry struct {
	Op         string              `json:"op"`
	Record     *domain.AlarmRecord `json:"record,omitempty"`
	ResolvedAt *time.Time          `json:"resolvedAt,omitempty"`
}

// FileJournal is an append-only alarm log. Records are never rewritten; the
// open set is rebuilt by replaying the file.
type FileJournal struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	lastID    uint64
	open      map[uint64]domain.AlarmRecord
	sizeBytes int64
}

func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "alarms.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	j := &FileJournal{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		open:   make(map[uint64]domain.AlarmRecord),
	}
	if err := j.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return j, nil
}

// replay rebuilds the open set and truncates a partially written tail.
func (j *FileJournal) replay() error {
	rf, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var offset int64

	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal scan header: %w", err)
		}
		id := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal scan body: %w", err)
		}

		var e entry
		if err := json.Unmarshal(body, &e); err != nil {
			// a torn write can leave a complete header over garbage
			break
		}
		offset += recordHeaderLen + int64(length)
		j.apply(id, e)
	}

	if err := j.file.Truncate(offset); err != nil {
		return err
	}
	j.sizeBytes = offset
	_, err = j.file.Seek(0, io.SeekEnd)
	return err
}

func (j *FileJournal) apply(id uint64, e entry) {
	switch e.Op {
	case opOpen:
		if e.Record == nil {
			return
		}
		rec := *e.Record
		rec.ID = id
		j.open[id] = rec
		if id > j.lastID {
			j.lastID = id
		}
	case opResolve:
		delete(j.open, id)
	}
}

func (j *FileJournal) Open(rec domain.AlarmRecord) (domain.AlarmRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.lastID + 1
	rec.ID = id
	rec.ResolvedAt = nil
	if err := j.appendLocked(id, entry{Op: opOpen, Record: &rec}); err != nil {
		return domain.AlarmRecord{}, err
	}
	j.lastID = id
	j.open[id] = rec
	return rec, nil
}

func (j *FileJournal) Resolve(id uint64, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.open[id]; !ok {
		return fmt.Errorf("journal: alarm %d is not open", id)
	}
	if err := j.appendLocked(id, entry{Op: opResolve, ResolvedAt: &at}); err != nil {
		return err
	}
	delete(j.open, id)
	return nil
}

func (j *FileJournal) OpenAlarms() ([]domain.AlarmRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.AlarmRecord, 0, len(j.open))
	for _, rec := range j.open {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (j *FileJournal) Stats() ports.JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ports.JournalStats{
		LatestID:  j.lastID,
		OpenCount: len(j.open),
		SizeBytes: j.sizeBytes,
	}
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	flushErr := j.writer.Flush()
	closeErr := j.file.Close()
	j.file = nil
	return errors.Join(flushErr, closeErr)
}

// entry format: [8 bytes id][4 bytes len][len bytes json]
func (j *FileJournal) appendLocked(id uint64, e entry) error {
	if j.file == nil {
		return errors.New("journal: closed")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], id)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := j.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := j.writer.Write(b); err != nil {
		return err
	}
	// alarms are rare; sync every record
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	j.sizeBytes += int64(len(b) + len(hdr))
	return nil
}

var _ ports.AlarmJournal = (*FileJournal)(nil)
