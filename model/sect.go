package model

import "time"

// Sect is the persisted sect record. The in-memory registry is authoritative
// at runtime; these rows are the load/flush representation.
type Sect struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	Level             int       `gorm:"default:1" json:"level"`
	Experience        int64     `gorm:"default:0" json:"experience"`
	Funds             int64     `gorm:"default:0" json:"funds"`
	ContributionTotal int64     `gorm:"default:0" json:"contribution_total"`
	MaxMembers        int       `gorm:"default:10" json:"max_members"`
	Recruiting        bool      `gorm:"default:true" json:"recruiting"`
	PvPEnabled        bool      `gorm:"default:false" json:"pvp_enabled"`
	Announcement      string    `gorm:"type:text" json:"announcement"`
	OwnerID           int64     `gorm:"not null" json:"owner_id"`
	OwnerName         string    `gorm:"size:32" json:"owner_name"`
	LastMaintenanceAt time.Time `json:"last_maintenance_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SectMember links a player to a sect with a rank and contribution counters.
type SectMember struct {
	SectID             int64     `gorm:"primaryKey;index:idx_member_sect" json:"sect_id"`
	PlayerID           int64     `gorm:"primaryKey;index:idx_member_player" json:"player_id"`
	PlayerName         string    `gorm:"size:32" json:"player_name"`
	Rank               string    `gorm:"size:16;not null" json:"rank"`
	Contribution       int64     `gorm:"default:0" json:"contribution"`
	WeeklyContribution int64     `gorm:"default:0" json:"weekly_contribution"`
	JoinedAt           time.Time `gorm:"autoCreateTime" json:"joined_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
	TasksCompleted     int       `gorm:"default:0" json:"tasks_completed"`
	DonationCount      int       `gorm:"default:0" json:"donation_count"`
}
