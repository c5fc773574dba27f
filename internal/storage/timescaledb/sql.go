package timescaledb

import (
	"fmt"

	"github.com/lib/pq"
)

// tables holds the quoted names of the tables owned by the engine.
type tables struct {
	samples     string
	sessions    string
	samples1s   string
	rawSamples  string
	rawSessions string
}

func newTables(prefix string) tables {
	samples := prefix + "telemetry"
	sessions := prefix + "sessions"
	return tables{
		samples:     pq.QuoteIdentifier(samples),
		sessions:    pq.QuoteIdentifier(sessions),
		samples1s:   pq.QuoteIdentifier(samples + "_1s"),
		rawSamples:  samples,
		rawSessions: sessions,
	}
}

func (t tables) createSamplesSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    time                timestamp WITH TIME ZONE NOT NULL,
    session_id          text NOT NULL,
    game                text NULL,
    source              text NULL,
    throttle            float4 NULL,
    brake               float4 NULL,
    speed_kph           float4 NULL,
    gear                smallint NULL,
    rpm                 float4 NULL,
    gforce_lateral      float4 NULL,
    gforce_longitudinal float4 NULL,
    gforce_vertical     float4 NULL,
    gforce_total        float4 NULL
);`, t.samples)
}

func (t tables) createSessionsSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id         text PRIMARY KEY,
    game       text NOT NULL,
    source     text NOT NULL,
    started_at timestamp WITH TIME ZONE NOT NULL,
    ended_at   timestamp WITH TIME ZONE NULL,
    samples    bigint NOT NULL DEFAULT 0,
    peaks      jsonb NULL
);`, t.sessions)
}

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb;`

func (t tables) createHypertableSQL() string {
	return fmt.Sprintf(`SELECT create_hypertable(%s, 'time', if_not_exists => TRUE, chunk_time_interval => INTERVAL '1 hour');`,
		pq.QuoteLiteral(t.rawSamples))
}

func (t tables) createSessionIndexSQL() string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (session_id, time DESC);`,
		pq.QuoteIdentifier(t.rawSamples+"_session_idx"), t.samples)
}

func (t tables) create1sViewSQL() string {
	return fmt.Sprintf(`
CREATE MATERIALIZED VIEW IF NOT EXISTS %s
WITH (timescaledb.continuous) AS
SELECT
    time_bucket('1 second', time) AS bucket,
    session_id,
    avg(throttle) AS throttle,
    avg(brake) AS brake,
    avg(speed_kph) AS speed_kph,
    max(speed_kph) AS max_speed_kph,
    max(rpm) AS max_rpm,
    avg(gforce_lateral) AS gforce_lateral,
    avg(gforce_longitudinal) AS gforce_longitudinal,
    max(gforce_total) AS max_gforce_total
FROM %s
GROUP BY bucket, session_id
WITH NO DATA;`, t.samples1s, t.samples)
}

func (t tables) addAggregationPolicy1sSQL() string {
	return fmt.Sprintf(`SELECT add_continuous_aggregate_policy(%s,
    start_offset => INTERVAL '10 minutes',
    end_offset => INTERVAL '1 second',
    schedule_interval => INTERVAL '1 minute',
    if_not_exists => TRUE);`, pq.QuoteLiteral(t.rawSamples+"_1s"))
}

func (t tables) upsertSessionSQL() string {
	return fmt.Sprintf(`
INSERT INTO %s (id, game, source, started_at, ended_at, samples, peaks)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    ended_at = EXCLUDED.ended_at,
    samples = EXCLUDED.samples,
    peaks = EXCLUDED.peaks;`, t.sessions)
}
