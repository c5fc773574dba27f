package database

import (
	"time"

	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/jackc/pgtype"
)

// SampleRow is one telemetry sample in the hypertable
type SampleRow struct {
	Time               time.Time `gorm:"column:time"`
	SessionID          string    `gorm:"column:session_id"`
	Game               string    `gorm:"column:game"`
	Source             string    `gorm:"column:source"`
	Throttle           float64   `gorm:"column:throttle"`
	Brake              float64   `gorm:"column:brake"`
	SpeedKPH           float64   `gorm:"column:speed_kph"`
	Gear               int32     `gorm:"column:gear"`
	RPM                float64   `gorm:"column:rpm"`
	GForceLateral      float64   `gorm:"column:gforce_lateral"`
	GForceLongitudinal float64   `gorm:"column:gforce_longitudinal"`
	GForceVertical     float64   `gorm:"column:gforce_vertical"`
	GForceTotal        float64   `gorm:"column:gforce_total"`
}

// NewSampleRow flattens a record into a row
func NewSampleRow(r types.Record) SampleRow {
	s := r.Snapshot
	return SampleRow{
		Time:               s.Timestamp,
		SessionID:          r.SessionID,
		Game:               s.Game,
		Source:             s.Source.String(),
		Throttle:           s.Throttle,
		Brake:              s.Brake,
		SpeedKPH:           s.SpeedKPH,
		Gear:               s.Gear,
		RPM:                s.RPM,
		GForceLateral:      r.GForce.Lateral,
		GForceLongitudinal: r.GForce.Longitudinal,
		GForceVertical:     r.GForce.Vertical,
		GForceTotal:        r.GForce.Total,
	}
}

// SessionRow is a completed session. Peaks are kept as a JSONB document so
// new peak channels don't need a migration.
type SessionRow struct {
	ID        string       `gorm:"column:id;primaryKey"`
	Game      string       `gorm:"column:game"`
	Source    string       `gorm:"column:source"`
	StartedAt time.Time    `gorm:"column:started_at"`
	EndedAt   time.Time    `gorm:"column:ended_at"`
	Samples   int64        `gorm:"column:samples"`
	Peaks     pgtype.JSONB `gorm:"column:peaks;type:jsonb"`
}

// SessionPeaks is the document stored in SessionRow.Peaks
type SessionPeaks struct {
	MaxSpeedKPH     float64 `json:"max_speed_kph"`
	MaxLateral      float64 `json:"max_lateral"`
	MaxLongitudinal float64 `json:"max_longitudinal"`
	MaxTotal        float64 `json:"max_total"`
}

// NewSessionRow converts a closed session into a row
func NewSessionRow(s types.Session) (SessionRow, error) {
	row := SessionRow{
		ID:        s.ID,
		Game:      s.Game,
		Source:    s.Source.String(),
		StartedAt: s.Start,
		EndedAt:   s.End,
		Samples:   s.Samples,
	}
	err := row.Peaks.Set(SessionPeaks{
		MaxSpeedKPH:     s.MaxSpeedKPH,
		MaxLateral:      s.MaxLateral,
		MaxLongitudinal: s.MaxLongitudinal,
		MaxTotal:        s.MaxTotal,
	})
	return row, err
}

// SessionFromRow is the inverse of NewSessionRow
func SessionFromRow(row SessionRow) (types.Session, error) {
	s := types.Session{
		ID:      row.ID,
		Game:    row.Game,
		Start:   row.StartedAt,
		End:     row.EndedAt,
		Samples: row.Samples,
	}
	if err := s.Source.UnmarshalText([]byte(row.Source)); err != nil {
		return s, err
	}

	var peaks SessionPeaks
	if row.Peaks.Status == pgtype.Present {
		if err := row.Peaks.AssignTo(&peaks); err != nil {
			return s, err
		}
	}
	s.MaxSpeedKPH = peaks.MaxSpeedKPH
	s.MaxLateral = peaks.MaxLateral
	s.MaxLongitudinal = peaks.MaxLongitudinal
	s.MaxTotal = peaks.MaxTotal
	return s, nil
}
