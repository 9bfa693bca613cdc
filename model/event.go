package model

import (
	"time"

	"gorm.io/datatypes"
)

// MembershipEvent is one appended membership or economy change. Both the
// registry mutation and the profile mirror write derive from the same event
// value before it lands here.
type MembershipEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       string         `gorm:"size:32;index:idx_event_type;not null" json:"type"`
	SectID     int64          `gorm:"index:idx_event_sect;not null" json:"sect_id"`
	SectName   string         `gorm:"size:32" json:"sect_name"`
	PlayerID   int64          `gorm:"index:idx_event_player" json:"player_id"`
	PlayerName string         `gorm:"size:32" json:"player_name"`
	Rank       string         `gorm:"size:16" json:"rank"`
	Payload    datatypes.JSON `json:"payload"`
	CreatedAt  time.Time      `gorm:"index:idx_event_created;autoCreateTime:milli" json:"created_at"`
}
