package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrRefreshInFlight is returned when a refresh for the same cadence is
// already running. Callers retry later; overlapping runs are never queued.
var ErrRefreshInFlight = errors.New("task: refresh already in flight")

// Engine resets one player's task assignments for a cadence.
type Engine interface {
	ResetTasks(ctx context.Context, playerID int64, cadence Cadence) error
}

// Roster enumerates every player currently in a sect.
type Roster interface {
	MemberIDs(ctx context.Context) ([]int64, error)
}

// Maintainer performs cadence-level upkeep after the roster pass, such
// as zeroing weekly counters.
type Maintainer interface {
	RunMaintenance(ctx context.Context, cadence Cadence, now time.Time) error
}

// Config holds the refresh cadence settings.
type Config struct {
	DailyTime    string // "06:00"
	WeeklyTime   string // "MON 06:00"
	Timezone     string // IANA zone name
	ErrorHistory int    // recent errors kept in the record
}

// Scheduler computes refresh boundaries and drives task resets across
// the roster. Boundary markers persist through the RecordStore so a
// crossing is acted on exactly once even across restarts.
type Scheduler struct {
	dailyHour, dailyMin   int
	weeklyDay             time.Weekday
	weeklyHour, weeklyMin int
	loc                   *time.Location
	maxErrors             int

	clock      Clock
	engine     Engine
	roster     Roster
	records    RecordStore
	maintainer Maintainer
	logger     *zap.Logger

	dailyBusy  atomic.Bool
	weeklyBusy atomic.Bool

	// Both cadences share one record row; every Load-mutate-Save runs
	// under recMu so an overlapping refresh cannot clobber the other
	// cadence's marker or counters.
	recMu sync.Mutex
}

// NewScheduler parses the cadence config and builds a Scheduler.
func NewScheduler(cfg Config, clock Clock, engine Engine, roster Roster, records RecordStore, logger *zap.Logger) (*Scheduler, error) {
	dh, dm, err := ParseTimeOfDay(cfg.DailyTime)
	if err != nil {
		return nil, err
	}
	wd, wh, wm, err := ParseWeekly(cfg.WeeklyTime)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("task: load timezone %q: %w", cfg.Timezone, err)
	}
	maxErrors := cfg.ErrorHistory
	if maxErrors <= 0 {
		maxErrors = 20
	}
	return &Scheduler{
		dailyHour:  dh,
		dailyMin:   dm,
		weeklyDay:  wd,
		weeklyHour: wh,
		weeklyMin:  wm,
		loc:        loc,
		maxErrors:  maxErrors,
		clock:      clock,
		engine:     engine,
		roster:     roster,
		records:    records,
		logger:     logger,
	}, nil
}

// SetMaintainer registers an optional upkeep hook run after each
// refresh pass. Must be called before the scheduler starts ticking.
func (s *Scheduler) SetMaintainer(m Maintainer) {
	s.maintainer = m
}

// NextDaily returns the next strict occurrence of the daily refresh
// time after now.
func (s *Scheduler) NextDaily(now time.Time) time.Time {
	now = now.In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.dailyHour, s.dailyMin, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextWeekly returns the next strict occurrence of the weekly refresh
// instant after now.
func (s *Scheduler) NextWeekly(now time.Time) time.Time {
	now = now.In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.weeklyHour, s.weeklyMin, 0, 0, s.loc)
	next = next.AddDate(0, 0, int(s.weeklyDay-now.Weekday()))
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// lastDaily returns the most recent daily boundary at or before now.
func (s *Scheduler) lastDaily(now time.Time) time.Time {
	return s.NextDaily(now).AddDate(0, 0, -1)
}

// lastWeekly returns the most recent weekly boundary at or before now.
func (s *Scheduler) lastWeekly(now time.Time) time.Time {
	return s.NextWeekly(now).AddDate(0, 0, -7)
}

// Tick checks both cadences against their persisted markers and runs
// any refresh whose boundary has been crossed. Called once per minute
// by the scheduler host, and once at startup to catch up on boundaries
// missed while the process was down.
func (s *Scheduler) Tick(ctx context.Context) error {
	rec, err := s.records.Load(ctx)
	if err != nil {
		return fmt.Errorf("task: load refresh record: %w", err)
	}
	now := s.clock.Now()

	if due(rec.markerFor(CadenceDaily), s.lastDaily(now)) {
		if _, err := s.Refresh(ctx, CadenceDaily); err != nil && !errors.Is(err, ErrRefreshInFlight) {
			return err
		}
	}
	if due(rec.markerFor(CadenceWeekly), s.lastWeekly(now)) {
		if _, err := s.Refresh(ctx, CadenceWeekly); err != nil && !errors.Is(err, ErrRefreshInFlight) {
			return err
		}
	}
	return nil
}

// due reports whether the marker predates the most recent boundary. A
// nil marker means the cadence has never run.
func due(marker *time.Time, boundary time.Time) bool {
	return marker == nil || marker.Before(boundary)
}

// Refresh resets the tasks of every sect member for the cadence and
// advances the persisted marker. A roster read failure aborts with zero
// progress; a per-player reset failure is recorded and skipped. Returns
// the number of players refreshed.
func (s *Scheduler) Refresh(ctx context.Context, cadence Cadence) (int, error) {
	busy := &s.dailyBusy
	if cadence == CadenceWeekly {
		busy = &s.weeklyBusy
	}
	if !busy.CompareAndSwap(false, true) {
		return 0, ErrRefreshInFlight
	}
	defer busy.Store(false)

	members, err := s.roster.MemberIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("task: enumerate members: %w", err)
	}

	now := s.clock.Now()
	refreshed := 0
	var failures []RefreshError
	for _, pid := range members {
		if err := s.engine.ResetTasks(ctx, pid, cadence); err != nil {
			failures = append(failures, RefreshError{
				PlayerID: pid,
				Cadence:  cadence,
				Message:  err.Error(),
				At:       now,
			})
			s.logger.Warn("task reset failed",
				zap.Int64("player_id", pid),
				zap.String("cadence", string(cadence)),
				zap.Error(err))
			continue
		}
		refreshed++
	}

	if s.maintainer != nil {
		if err := s.maintainer.RunMaintenance(ctx, cadence, now); err != nil {
			failures = append(failures, RefreshError{
				Cadence: cadence,
				Message: err.Error(),
				At:      now,
			})
			s.logger.Warn("cadence maintenance failed",
				zap.String("cadence", string(cadence)),
				zap.Error(err))
		}
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()
	rec, err := s.records.Load(ctx)
	if err != nil {
		return refreshed, fmt.Errorf("task: load refresh record: %w", err)
	}
	for _, fe := range failures {
		rec.appendError(fe, s.maxErrors)
	}
	rec.setMarker(cadence, now)
	rec.TotalPlayersRefreshed += refreshed
	if err := s.records.Save(ctx, rec); err != nil {
		return refreshed, fmt.Errorf("task: save refresh record: %w", err)
	}

	s.logger.Info("task refresh complete",
		zap.String("cadence", string(cadence)),
		zap.Int("refreshed", refreshed),
		zap.Int("failed", len(members)-refreshed))
	return refreshed, nil
}

// Status returns the current refresh record.
func (s *Scheduler) Status(ctx context.Context) (*Record, error) {
	return s.records.Load(ctx)
}
