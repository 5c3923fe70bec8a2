package postgres

// Schema holds the tables owned by the bridge. Other services own the rest of
// the farm entity; only the columns read or written here are declared.
const Schema = `
CREATE TABLE IF NOT EXISTS farms (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	secret_hash  TEXT NOT NULL DEFAULT '',
	online       BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sensor_data (
	farm_id TEXT NOT NULL REFERENCES farms(id),
	ts      TIMESTAMPTZ NOT NULL,
	field   TEXT NOT NULL,
	value   DOUBLE PRECISION NOT NULL,
	UNIQUE (farm_id, ts, field)
);

CREATE TABLE IF NOT EXISTS farm_status (
	farm_id         TEXT PRIMARY KEY REFERENCES farms(id),
	ts              TIMESTAMPTZ NOT NULL,
	operating_state TEXT NOT NULL,
	current_program INTEGER NOT NULL DEFAULT 0,
	emergency_stop  BOOLEAN NOT NULL DEFAULT FALSE,
	supply_pump     BOOLEAN NOT NULL DEFAULT FALSE,
	drain_pump      BOOLEAN NOT NULL DEFAULT FALSE,
	mixer           BOOLEAN NOT NULL DEFAULT FALSE,
	daily_totals    JSONB
);

CREATE TABLE IF NOT EXISTS alarms (
	id              BIGSERIAL PRIMARY KEY,
	farm_id         TEXT NOT NULL REFERENCES farms(id),
	alarm_type      TEXT NOT NULL,
	alarm_value     DOUBLE PRECISION NOT NULL,
	threshold_value DOUBLE PRECISION NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	occurred_at     TIMESTAMPTZ NOT NULL,
	resolved_at     TIMESTAMPTZ,
	UNIQUE (farm_id, alarm_type, occurred_at)
);

CREATE TABLE IF NOT EXISTS command_logs (
	log_id       TEXT PRIMARY KEY,
	farm_id      TEXT NOT NULL REFERENCES farms(id),
	command_type TEXT NOT NULL,
	params       JSONB,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	acked_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS daily_summaries (
	farm_id             TEXT NOT NULL REFERENCES farms(id),
	summary_date        DATE NOT NULL,
	program_number      INTEGER NOT NULL,
	run_count           INTEGER NOT NULL,
	set_ec              DOUBLE PRECISION,
	set_ph              DOUBLE PRECISION,
	avg_ec              DOUBLE PRECISION,
	avg_ph              DOUBLE PRECISION,
	total_supply_liters DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_drain_liters  DOUBLE PRECISION NOT NULL DEFAULT 0,
	valve_flows         JSONB,
	PRIMARY KEY (farm_id, summary_date, program_number)
);
`
