package timescaledb

import (
	"strings"
	"testing"
)

func TestTablesQuoteIdentifiers(t *testing.T) {
	tbl := newTables(`sim"`)

	if tbl.samples != `"sim""telemetry"` {
		t.Errorf("samples = %s", tbl.samples)
	}
	if !strings.Contains(tbl.createHypertableSQL(), `'sim"telemetry'`) {
		t.Errorf("hypertable sql = %s", tbl.createHypertableSQL())
	}
	if !strings.Contains(tbl.createSessionsSQL(), `"sim""sessions"`) {
		t.Errorf("sessions sql = %s", tbl.createSessionsSQL())
	}
}

func TestDefaultTableNames(t *testing.T) {
	tbl := newTables("")
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"samples", tbl.createSamplesSQL(), `CREATE TABLE IF NOT EXISTS "telemetry"`},
		{"view", tbl.create1sViewSQL(), `"telemetry_1s"`},
		{"policy", tbl.addAggregationPolicy1sSQL(), `'telemetry_1s'`},
		{"upsert", tbl.upsertSessionSQL(), `INSERT INTO "sessions"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.sql, tt.want) {
				t.Errorf("%s does not contain %s", tt.sql, tt.want)
			}
		})
	}
}
