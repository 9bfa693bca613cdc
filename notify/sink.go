package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xianrealm/sectd/cache"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel membership notifications go out on.
const Channel = "sect.notify"

// Notification is one player-facing message about a sect change.
type Notification struct {
	PlayerID int64  `json:"player_id"`
	Kind     string `json:"kind"`
	SectID   int64  `json:"sect_id"`
	SectName string `json:"sect_name"`
	Message  string `json:"message"`
	SentAt   int64  `json:"sent_at"`
}

// Sink publishes notifications over pub/sub. Delivery is best effort:
// a publish failure is logged and never propagated to the caller, so a
// membership operation cannot fail because a notification did.
type Sink struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewSink creates a Sink.
func NewSink(ps cache.PubSub, logger *zap.Logger) *Sink {
	return &Sink{ps: ps, logger: logger}
}

// Notify publishes one notification.
func (s *Sink) Notify(ctx context.Context, playerID int64, kind string, sectID int64, sectName, message string) {
	n := Notification{
		PlayerID: playerID,
		Kind:     kind,
		SectID:   sectID,
		SectName: sectName,
		Message:  message,
		SentAt:   time.Now().UnixMilli(),
	}
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("marshal notification", zap.Error(err))
		return
	}
	if err := s.ps.Publish(ctx, Channel, string(data)); err != nil {
		s.logger.Warn("publish notification",
			zap.Int64("player_id", n.PlayerID),
			zap.String("kind", n.Kind),
			zap.Error(err))
	}
}

// NotifyAll publishes the same message to each listed player.
func (s *Sink) NotifyAll(ctx context.Context, playerIDs []int64, kind string, sectID int64, sectName, message string) {
	for _, pid := range playerIDs {
		s.Notify(ctx, pid, kind, sectID, sectName, message)
	}
}
