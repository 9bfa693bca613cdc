package model

import (
	"time"

	"gorm.io/datatypes"
)

// RefreshState is the persisted refresh bookkeeping, one row per scheduler
// instance. The last-refresh markers make boundary crossings idempotent
// across restarts.
type RefreshState struct {
	ID                    int64          `gorm:"primaryKey" json:"id"`
	LastDailyRefresh      *time.Time     `json:"last_daily_refresh"`
	LastWeeklyRefresh     *time.Time     `json:"last_weekly_refresh"`
	DailyRefreshCount     int            `gorm:"default:0" json:"daily_refresh_count"`
	WeeklyRefreshCount    int            `gorm:"default:0" json:"weekly_refresh_count"`
	TotalPlayersRefreshed int            `gorm:"default:0" json:"total_players_refreshed"`
	Errors                datatypes.JSON `json:"errors"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SectTaskProgress tracks a player's progress on one sect task for a cadence.
type SectTaskProgress struct {
	PlayerID  int64          `gorm:"primaryKey" json:"player_id"`
	TaskID    int            `gorm:"primaryKey" json:"task_id"`
	Cadence   string         `gorm:"primaryKey;size:8" json:"cadence"` // daily | weekly
	Progress  datatypes.JSON `json:"progress"`
	Status    int            `gorm:"default:0" json:"status"` // 0=active 1=completed 2=claimed
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
