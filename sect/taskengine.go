package sect

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xianrealm/sectd/model"
	"github.com/xianrealm/sectd/sect/task"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// refreshStateID keys the single bookkeeping row.
const refreshStateID = 1

// GormTaskEngine resets per-player task rows for a cadence.
type GormTaskEngine struct {
	db *gorm.DB
}

// NewGormTaskEngine creates a GormTaskEngine.
func NewGormTaskEngine(db *gorm.DB) *GormTaskEngine {
	return &GormTaskEngine{db: db}
}

// ResetTasks clears the player's task progress for the cadence so the
// next assignment starts fresh.
func (e *GormTaskEngine) ResetTasks(ctx context.Context, playerID int64, cadence task.Cadence) error {
	return e.db.WithContext(ctx).
		Where("player_id = ? AND cadence = ?", playerID, string(cadence)).
		Delete(&model.SectTaskProgress{}).Error
}

// GormRecordStore persists the refresh record as a single row.
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore creates a GormRecordStore.
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// Load reads the record, returning an empty one before the first save.
func (g *GormRecordStore) Load(ctx context.Context) (*task.Record, error) {
	var row model.RefreshState
	err := g.db.WithContext(ctx).First(&row, refreshStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &task.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &task.Record{
		LastDaily:             row.LastDailyRefresh,
		LastWeekly:            row.LastWeeklyRefresh,
		DailyCount:            row.DailyRefreshCount,
		WeeklyCount:           row.WeeklyRefreshCount,
		TotalPlayersRefreshed: row.TotalPlayersRefreshed,
	}
	if len(row.Errors) > 0 {
		if err := json.Unmarshal(row.Errors, &rec.Errors); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Save upserts the record row.
func (g *GormRecordStore) Save(ctx context.Context, rec *task.Record) error {
	errsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return err
	}
	row := model.RefreshState{
		ID:                    refreshStateID,
		LastDailyRefresh:      rec.LastDaily,
		LastWeeklyRefresh:     rec.LastWeekly,
		DailyRefreshCount:     rec.DailyCount,
		WeeklyRefreshCount:    rec.WeeklyCount,
		TotalPlayersRefreshed: rec.TotalPlayersRefreshed,
		Errors:                datatypes.JSON(errsJSON),
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// RegistryRoster exposes the registry's member index to the refresh
// scheduler.
type RegistryRoster struct {
	Registry *Registry
}

// MemberIDs returns every player currently in any sect.
func (r RegistryRoster) MemberIDs(context.Context) ([]int64, error) {
	return r.Registry.MemberIDs(), nil
}
