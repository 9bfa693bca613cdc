package model

import "time"

// PlayerProfile is the per-player record, including the sect mirror fields.
//
// SectID/SectRank are a cache of the player's membership kept in sync with
// the sect registry so lookups do not have to load a whole sect. The
// reconciler treats the registry as the source of truth for these fields.
type PlayerProfile struct {
	PlayerID     int64     `gorm:"primaryKey" json:"player_id"`
	AccountID    int64     `gorm:"index:idx_profile_account;not null" json:"account_id"`
	Name         string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Realm        string    `gorm:"size:32" json:"realm"`
	SpiritStones int64     `gorm:"default:0" json:"spirit_stones"`
	SectID       *int64    `gorm:"index:idx_profile_sect" json:"sect_id"`
	SectRank     string    `gorm:"size:16" json:"sect_rank"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
