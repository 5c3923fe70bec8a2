package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Command log states.
const (
	CommandPending = "pending"
)

// Store is the cloud bridge's persistence on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Name() string { return "postgres" }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables the bridge reads and writes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) LookupFarm(ctx context.Context, id domain.FarmID) (domain.Farm, bool, error) {
	var (
		f    domain.Farm
		seen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, secret_hash, online, last_seen_at FROM farms WHERE id = $1", string(id)).
		Scan(&f.ID, &f.Name, &f.SecretHash, &f.Online, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Farm{}, false, nil
	}
	if err != nil {
		return domain.Farm{}, false, fmt.Errorf("lookup farm: %w", err)
	}
	if seen.Valid {
		t := seen.Time
		f.LastSeenAt = &t
	}
	return f, true, nil
}

// SaveTelemetry writes one row per field. Replayed snapshots hit the unique
// key and are skipped.
func (s *Store) SaveTelemetry(ctx context.Context, id domain.FarmID, at time.Time, sensors map[string]float64) error {
	if len(sensors) == 0 {
		return nil
	}
	fields := make([]string, 0, len(sensors))
	for f := range sensors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("INSERT INTO sensor_data (farm_id, ts, field, value) VALUES ")
	args := make([]any, 0, len(fields)*4)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d)", len(args)+1, len(args)+2, len(args)+3, len(args)+4))
		args = append(args, string(id), at, f, sensors[f])
	}
	b.WriteString(" ON CONFLICT (farm_id, ts, field) DO NOTHING")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("save telemetry: %w", err)
	}
	return nil
}

const upsertStatus = `INSERT INTO farm_status (farm_id, ts, operating_state, current_program, emergency_stop, supply_pump, drain_pump, mixer, daily_totals)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (farm_id) DO UPDATE SET ts = EXCLUDED.ts, operating_state = EXCLUDED.operating_state,
current_program = EXCLUDED.current_program, emergency_stop = EXCLUDED.emergency_stop,
supply_pump = EXCLUDED.supply_pump, drain_pump = EXCLUDED.drain_pump, mixer = EXCLUDED.mixer,
daily_totals = EXCLUDED.daily_totals`

func (s *Store) SaveStatus(ctx context.Context, id domain.FarmID, st domain.StatusSnapshot) error {
	totals, err := json.Marshal(st.DailyTotals)
	if err != nil {
		return fmt.Errorf("marshal daily totals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertStatus,
		string(id), st.Timestamp, string(st.OperatingState), st.CurrentProgram,
		st.EmergencyStop, st.SupplyPump, st.DrainPump, st.Mixer, totals)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// SaveAlarm is idempotent on (farm, type, occurred_at) so events flushed
// again after a reconnect do not duplicate.
func (s *Store) SaveAlarm(ctx context.Context, id domain.FarmID, rec domain.AlarmRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (farm_id, alarm_type, alarm_value, threshold_value, message, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (farm_id, alarm_type, occurred_at) DO NOTHING`,
		string(id), string(rec.Type), rec.Value, rec.Threshold, rec.Message, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("save alarm: %w", err)
	}
	return nil
}

func (s *Store) ResolveAlarm(ctx context.Context, id domain.FarmID, typ domain.AlarmType, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE alarms SET resolved_at = $3 WHERE farm_id = $1 AND alarm_type = $2 AND resolved_at IS NULL",
		string(id), string(typ), at)
	if err != nil {
		return fmt.Errorf("resolve alarm: %w", err)
	}
	return nil
}

func (s *Store) RecordCommand(ctx context.Context, id domain.FarmID, cmd domain.Command) error {
	params, err := json.Marshal(cmd.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO command_logs (log_id, farm_id, command_type, params, status) VALUES ($1,$2,$3,$4,$5)",
		cmd.LogID, string(id), string(cmd.Type), params, CommandPending)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

func (s *Store) AckCommand(ctx context.Context, id domain.FarmID, ack domain.CommandAck) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE command_logs SET status = $3, error = $4, acked_at = now() WHERE log_id = $1 AND farm_id = $2",
		ack.LogID, string(id), ack.Result, ack.Error)
	if err != nil {
		return fmt.Errorf("ack command: %w", err)
	}
	return nil
}

// TouchLastSeen only moves the marker forward.
func (s *Store) TouchLastSeen(ctx context.Context, id domain.FarmID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE farms SET last_seen_at = $2 WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at < $2)",
		string(id), at)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// UpsertDailySummaries writes all rows in one statement keyed by
// (farm_id, summary_date, program_number).
func (s *Store) UpsertDailySummaries(ctx context.Context, id domain.FarmID, summaries []domain.DailySummary) error {
	if len(summaries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO daily_summaries (farm_id, summary_date, program_number, run_count, set_ec, set_ph, avg_ec, avg_ph, total_supply_liters, total_drain_liters, valve_flows) VALUES ")
	const cols = 11
	args := make([]any, 0, len(summaries)*cols)
	for i, sum := range summaries {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 1; c <= cols; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			b.WriteString(fmt.Sprintf("$%d", len(args)+c))
		}
		b.WriteString(")")

		flows, err := json.Marshal(sum.ValveFlows)
		if err != nil {
			return fmt.Errorf("marshal valve flows: %w", err)
		}
		args = append(args,
			string(id), sum.SummaryDate, sum.ProgramNumber, sum.RunCount,
			sum.SetEC, sum.SetPH, sum.AvgEC, sum.AvgPH,
			sum.TotalSupplyLiters, sum.TotalDrainLiters, flows)
	}
	b.WriteString(` ON CONFLICT (farm_id, summary_date, program_number) DO UPDATE SET run_count = EXCLUDED.run_count, set_ec = EXCLUDED.set_ec, set_ph = EXCLUDED.set_ph, avg_ec = EXCLUDED.avg_ec, avg_ph = EXCLUDED.avg_ph, total_supply_liters = EXCLUDED.total_supply_liters, total_drain_liters = EXCLUDED.total_drain_liters, valve_flows = EXCLUDED.valve_flows`)

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("upsert daily summaries: %w", err)
	}
	return nil
}

func (s *Store) ListLiveness(ctx context.Context) ([]domain.FarmLiveness, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, online, last_seen_at FROM farms")
	if err != nil {
		return nil, fmt.Errorf("list liveness: %w", err)
	}
	defer rows.Close()

	var out []domain.FarmLiveness
	for rows.Next() {
		var (
			f    domain.FarmLiveness
			seen sql.NullTime
		)
		if err := rows.Scan(&f.ID, &f.Online, &seen); err != nil {
			return nil, fmt.Errorf("scan liveness: %w", err)
		}
		if seen.Valid {
			t := seen.Time
			f.LastSeenAt = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) SetOnline(ctx context.Context, id domain.FarmID, online bool) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE farms SET online = $2 WHERE id = $1", string(id), online); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// ProvisionFarm inserts or updates a farm and its secret hash.
func (s *Store) ProvisionFarm(ctx context.Context, f domain.Farm) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO farms (id, name, secret_hash) VALUES ($1,$2,$3) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, secret_hash = EXCLUDED.secret_hash",
		string(f.ID), f.Name, f.SecretHash)
	if err != nil {
		return fmt.Errorf("provision farm: %w", err)
	}
	return nil
}

var _ ports.CloudStore = (*Store)(nil)
