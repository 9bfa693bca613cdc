package sect

import (
	"context"

	"github.com/xianrealm/sectd/model"
)

// ProfileStore is the per-player profile mirror. The registry is the
// source of truth for membership; these writes keep the mirror in step.
// Get returns (nil, nil) when no profile exists.
type ProfileStore interface {
	Get(ctx context.Context, playerID int64) (*model.PlayerProfile, error)
	SetSect(ctx context.Context, playerID, sectID int64, rank string) error
	ClearSect(ctx context.Context, playerID int64) error
	AllWithSect(ctx context.Context) ([]model.PlayerProfile, error)
}

// CurrencyStore moves spirit stones. Debit must fail atomically when
// the balance is short.
type CurrencyStore interface {
	Balance(ctx context.Context, playerID int64) (int64, error)
	Debit(ctx context.Context, playerID int64, amount int64) error
	Credit(ctx context.Context, playerID int64, amount int64) error
}

// NotificationSink delivers player-facing messages. Best effort; a
// failed delivery never fails the operation that triggered it.
type NotificationSink interface {
	Notify(ctx context.Context, playerID int64, kind string, sectID int64, sectName, message string)
	NotifyAll(ctx context.Context, playerIDs []int64, kind string, sectID int64, sectName, message string)
}
