package localstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Key layout:
//
//	sensor/<unix nanos, zero padded>          -> SensorSnapshot
//	run/<YYYY-MM-DD>/<unix nanos, zero padded> -> IrrigationRun
var (
	sensorPrefix = []byte("sensor/")
	runPrefix    = []byte("run/")
)

// BadgerStore keeps the edge node's sensor history and finished runs.
type BadgerStore struct {
	db  *badger.DB
	loc *time.Location
}

// Open opens (or creates) the store under dir. Dates are computed in loc.
func Open(dir string, loc *time.Location) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return New(db, loc), nil
}

// New wraps an open database. Dates are computed in loc.
func New(db *badger.DB, loc *time.Location) *BadgerStore {
	if loc == nil {
		loc = time.Local
	}
	return &BadgerStore{db: db, loc: loc}
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) AppendSensorLog(_ context.Context, snap domain.SensorSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sensorKey(snap.Timestamp), b)
	})
}

func (s *BadgerStore) RecordRun(_ context.Context, run domain.IrrigationRun) error {
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.runKey(run.StartedAt), b)
	})
}

// SensorLogs returns the snapshots logged in [from, to).
func (s *BadgerStore) SensorLogs(_ context.Context, from, to time.Time) ([]domain.SensorSnapshot, error) {
	var out []domain.SensorSnapshot
	end := sensorKey(to)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(sensorKey(from)); it.ValidForPrefix(sensorPrefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), end) >= 0 {
				break
			}
			var snap domain.SensorSnapshot
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) DailySummaries(_ context.Context, day time.Time) ([]domain.DailySummary, error) {
	date := day.In(s.loc).Format(domain.DateLayout)
	prefix := []byte(string(runPrefix) + date + "/")

	var runs []domain.IrrigationRun
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run domain.IrrigationRun
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &run) }); err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Summarize(date, runs), nil
}

func (s *BadgerStore) Cleanup(_ context.Context, now time.Time, pol ports.RetentionPolicy) (ports.CleanupStats, error) {
	var stats ports.CleanupStats

	if pol.SensorLogs > 0 {
		cutoff := sensorKey(now.Add(-pol.SensorLogs))
		n, err := s.deleteWhile(sensorPrefix, func(k []byte) bool { return bytes.Compare(k, cutoff) < 0 })
		if err != nil {
			return stats, fmt.Errorf("cleanup sensor logs: %w", err)
		}
		stats.SensorLogs = n
	}
	if pol.Runs > 0 {
		cutoff := []byte(string(runPrefix) + now.Add(-pol.Runs).In(s.loc).Format(domain.DateLayout))
		n, err := s.deleteWhile(runPrefix, func(k []byte) bool { return bytes.Compare(k, cutoff) < 0 })
		if err != nil {
			return stats, fmt.Errorf("cleanup runs: %w", err)
		}
		stats.Runs = n
	}
	return stats, nil
}

// deleteWhile removes keys under prefix, in key order, until match returns false.
func (s *BadgerStore) deleteWhile(prefix []byte, match func([]byte) bool) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if !match(k) {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func sensorKey(t time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", sensorPrefix, t.UnixNano()))
}

func (s *BadgerStore) runKey(started time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", runPrefix, started.In(s.loc).Format(domain.DateLayout), started.UnixNano()))
}

// Summarize groups runs by program. Setpoints come from the latest run,
// averages are the mean of the runs that measured them.
func Summarize(date string, runs []domain.IrrigationRun) []domain.DailySummary {
	type acc struct {
		sum          domain.DailySummary
		ecSum, phSum float64
		ecN, phN     int
		valves       map[string]float64
		latestStart  time.Time
	}
	byProgram := make(map[int]*acc)
	for _, run := range runs {
		a, ok := byProgram[run.ProgramNumber]
		if !ok {
			a = &acc{
				sum:    domain.DailySummary{SummaryDate: date, ProgramNumber: run.ProgramNumber},
				valves: make(map[string]float64),
			}
			byProgram[run.ProgramNumber] = a
		}
		a.sum.RunCount++
		a.sum.TotalSupplyLiters += run.SupplyLiters
		a.sum.TotalDrainLiters += run.DrainLiters
		if run.AvgEC != nil {
			a.ecSum += *run.AvgEC
			a.ecN++
		}
		if run.AvgPH != nil {
			a.phSum += *run.AvgPH
			a.phN++
		}
		if !run.StartedAt.Before(a.latestStart) {
			a.latestStart = run.StartedAt
			a.sum.SetEC = run.SetEC
			a.sum.SetPH = run.SetPH
		}
		for valve, liters := range run.ValveLiters {
			a.valves[valve] += liters
		}
	}

	out := make([]domain.DailySummary, 0, len(byProgram))
	for _, a := range byProgram {
		if a.ecN > 0 {
			v := a.ecSum / float64(a.ecN)
			a.sum.AvgEC = &v
		}
		if a.phN > 0 {
			v := a.phSum / float64(a.phN)
			a.sum.AvgPH = &v
		}
		a.sum.ValveFlows = make([]domain.ValveFlow, 0, len(a.valves))
		for valve, liters := range a.valves {
			a.sum.ValveFlows = append(a.sum.ValveFlows, domain.ValveFlow{Valve: valve, Liters: liters})
		}
		sort.Slice(a.sum.ValveFlows, func(i, j int) bool {
			return strings.Compare(a.sum.ValveFlows[i].Valve, a.sum.ValveFlows[j].Valve) < 0
		})
		out = append(out, a.sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProgramNumber < out[j].ProgramNumber })
	return out
}

var _ ports.LocalStore = (*BadgerStore)(nil)
