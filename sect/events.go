package sect

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xianrealm/sectd/cache"
	"github.com/xianrealm/sectd/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventsChannel is the pub/sub channel membership events go out on.
const EventsChannel = "sect.events"

// Event types appended by the service. Every membership or economy
// mutation is modeled as one of these; the registry change and the
// profile mirror write both derive from the same event value.
const (
	EventCreated        = "created"
	EventJoined         = "joined"
	EventLeft           = "left"
	EventKicked         = "kicked"
	EventPromoted       = "promoted"
	EventDemoted        = "demoted"
	EventDisbanded      = "disbanded"
	EventDonated        = "donated"
	EventFundsSpent     = "funds_spent"
	EventLevelUp        = "level_up"
	EventAnnouncement   = "announcement"
	EventRecruiting     = "recruiting"
	EventPvPToggled     = "pvp_toggled"
	EventInvited        = "invited"
	EventInviteAccepted = "invite_accepted"
)

// Event is one membership or economy change.
type Event struct {
	Type       string                 `json:"type"`
	SectID     int64                  `json:"sect_id"`
	SectName   string                 `json:"sect_name"`
	PlayerID   int64                  `json:"player_id"`
	PlayerName string                 `json:"player_name"`
	Rank       string                 `json:"rank"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// EventLog appends membership events to the database asynchronously in
// batches and publishes each one on the events channel.
type EventLog struct {
	db     *gorm.DB
	ps     cache.PubSub
	ch     chan *model.MembershipEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventLog creates an EventLog and starts its background writer.
func NewEventLog(db *gorm.DB, ps cache.PubSub, logger *zap.Logger) *EventLog {
	l := &EventLog{
		db:     db,
		ps:     ps,
		ch:     make(chan *model.MembershipEvent, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Append enqueues an event for persistence and publishes it.
func (l *EventLog) Append(ctx context.Context, e Event) {
	payload, _ := json.Marshal(e.Payload)
	record := &model.MembershipEvent{
		Type:       e.Type,
		SectID:     e.SectID,
		SectName:   e.SectName,
		PlayerID:   e.PlayerID,
		PlayerName: e.PlayerName,
		Rank:       e.Rank,
		Payload:    datatypes.JSON(payload),
	}
	select {
	case l.ch <- record:
	default:
		l.logger.Warn("event channel full, dropping event",
			zap.String("type", e.Type),
			zap.Int64("sect_id", e.SectID))
	}

	wire, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := l.ps.Publish(ctx, EventsChannel, string(wire)); err != nil {
		l.logger.Warn("publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

// Stop flushes pending events and shuts the writer down.
func (l *EventLog) Stop(_ context.Context) {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	l.wg.Wait()
}

func (l *EventLog) worker() {
	defer l.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.MembershipEvent, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.db.Create(&batch).Error; err != nil {
			l.logger.Error("event batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stopCh:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
