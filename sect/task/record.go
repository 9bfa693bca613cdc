package task

import (
	"context"
	"time"
)

// Cadence is a refresh cadence.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// RefreshError is one per-player failure kept in the record's recent
// error window.
type RefreshError struct {
	PlayerID int64     `json:"player_id"`
	Cadence  Cadence   `json:"cadence"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Record is the refresh bookkeeping: boundary markers that make
// crossings idempotent across restarts, run counters, and a bounded
// window of recent per-player errors.
type Record struct {
	LastDaily             *time.Time     `json:"last_daily"`
	LastWeekly            *time.Time     `json:"last_weekly"`
	DailyCount            int            `json:"daily_count"`
	WeeklyCount           int            `json:"weekly_count"`
	TotalPlayersRefreshed int            `json:"total_players_refreshed"`
	Errors                []RefreshError `json:"errors"`
}

// appendError keeps at most maxErrors entries, dropping the oldest.
func (r *Record) appendError(e RefreshError, maxErrors int) {
	r.Errors = append(r.Errors, e)
	if maxErrors > 0 && len(r.Errors) > maxErrors {
		r.Errors = r.Errors[len(r.Errors)-maxErrors:]
	}
}

func (r *Record) markerFor(c Cadence) *time.Time {
	if c == CadenceWeekly {
		return r.LastWeekly
	}
	return r.LastDaily
}

func (r *Record) setMarker(c Cadence, t time.Time) {
	if c == CadenceWeekly {
		r.LastWeekly = &t
		r.WeeklyCount++
		return
	}
	r.LastDaily = &t
	r.DailyCount++
}

// RecordStore persists the Record between runs.
type RecordStore interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, r *Record) error
}
