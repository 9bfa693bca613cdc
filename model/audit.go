package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records sect operations and their outcomes.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	ActorID    *int64         `gorm:"index:idx_audit_actor" json:"actor_id"`
	TargetID   *int64         `json:"target_id"`
	SectID     *int64         `gorm:"index:idx_audit_sect" json:"sect_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
