package profile

import (
	"context"
	"errors"

	"github.com/xianrealm/sectd/model"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no profile exists for the player.
	ErrNotFound = errors.New("profile: not found")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("profile: insufficient spirit stones")
)

// Store reads and writes player profiles, including the sect mirror
// fields and the spirit stone balance.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get loads one profile by player ID. A missing profile is (nil, nil);
// errors mean the lookup itself failed.
func (s *Store) Get(ctx context.Context, playerID int64) (*model.PlayerProfile, error) {
	var p model.PlayerProfile
	err := s.db.WithContext(ctx).First(&p, "player_id = ?", playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByName loads one profile by player name. A missing profile is
// (nil, nil).
func (s *Store) GetByName(ctx context.Context, name string) (*model.PlayerProfile, error) {
	var p model.PlayerProfile
	err := s.db.WithContext(ctx).First(&p, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new profile.
func (s *Store) Create(ctx context.Context, p *model.PlayerProfile) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// SetSect writes the sect mirror fields on a profile.
func (s *Store) SetSect(ctx context.Context, playerID, sectID int64, rank string) error {
	res := s.db.WithContext(ctx).Model(&model.PlayerProfile{}).
		Where("player_id = ?", playerID).
		Updates(map[string]interface{}{
			"sect_id":   sectID,
			"sect_rank": rank,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSect removes the sect mirror fields from a profile.
func (s *Store) ClearSect(ctx context.Context, playerID int64) error {
	res := s.db.WithContext(ctx).Model(&model.PlayerProfile{}).
		Where("player_id = ?", playerID).
		Updates(map[string]interface{}{
			"sect_id":   nil,
			"sect_rank": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AllWithSect returns every profile whose mirror claims a sect. Used by
// the reconciler's reverse scan.
func (s *Store) AllWithSect(ctx context.Context) ([]model.PlayerProfile, error) {
	var out []model.PlayerProfile
	err := s.db.WithContext(ctx).Where("sect_id IS NOT NULL").Find(&out).Error
	return out, err
}

// Balance returns the player's spirit stone balance.
func (s *Store) Balance(ctx context.Context, playerID int64) (int64, error) {
	p, err := s.Get(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, ErrNotFound
	}
	return p.SpiritStones, nil
}

// Debit subtracts amount from the player's balance. The subtraction is a
// single conditional UPDATE so a concurrent debit can never drive the
// balance negative.
func (s *Store) Debit(ctx context.Context, playerID int64, amount int64) error {
	if amount <= 0 {
		return errors.New("profile: debit amount must be positive")
	}
	res := s.db.WithContext(ctx).Model(&model.PlayerProfile{}).
		Where("player_id = ? AND spirit_stones >= ?", playerID, amount).
		Update("spirit_stones", gorm.Expr("spirit_stones - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from an insufficient balance.
		p, err := s.Get(ctx, playerID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the player's balance. Used to roll back a debit
// when the operation it paid for fails.
func (s *Store) Credit(ctx context.Context, playerID int64, amount int64) error {
	if amount <= 0 {
		return errors.New("profile: credit amount must be positive")
	}
	res := s.db.WithContext(ctx).Model(&model.PlayerProfile{}).
		Where("player_id = ?", playerID).
		Update("spirit_stones", gorm.Expr("spirit_stones + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
