package sect

import (
	"context"
	"fmt"

	"github.com/xianrealm/sectd/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the load/flush persistence behind the registry.
type Store interface {
	LoadAll(ctx context.Context) ([]*Sect, error)
	SaveSect(ctx context.Context, s *Sect) error
	SaveMember(ctx context.Context, sectID int64, m *Member) error
	DeleteMember(ctx context.Context, sectID, playerID int64) error
	DeleteSect(ctx context.Context, sectID int64) error
}

// GormStore persists sects and members through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// LoadAll reads every sect row plus its members and rebuilds the live
// structures.
func (g *GormStore) LoadAll(ctx context.Context) ([]*Sect, error) {
	var rows []model.Sect
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load sects: %w", err)
	}
	var memberRows []model.SectMember
	if err := g.db.WithContext(ctx).Find(&memberRows).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	bySect := make(map[int64][]*Member, len(rows))
	for i := range memberRows {
		row := &memberRows[i]
		rank, err := ParseRank(row.Rank)
		if err != nil {
			return nil, fmt.Errorf("member %d in sect %d: %w", row.PlayerID, row.SectID, err)
		}
		bySect[row.SectID] = append(bySect[row.SectID], &Member{
			PlayerID:           row.PlayerID,
			Name:               row.PlayerName,
			Rank:               rank,
			Contribution:       row.Contribution,
			WeeklyContribution: row.WeeklyContribution,
			JoinedAt:           row.JoinedAt,
			LastActiveAt:       row.LastActiveAt,
			TasksCompleted:     row.TasksCompleted,
			DonationCount:      row.DonationCount,
		})
	}

	out := make([]*Sect, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		s := &Sect{
			ID:                row.ID,
			Name:              row.Name,
			Description:       row.Description,
			Level:             row.Level,
			Experience:        row.Experience,
			Funds:             row.Funds,
			ContributionTotal: row.ContributionTotal,
			MaxMembers:        row.MaxMembers,
			Recruiting:        row.Recruiting,
			PvPEnabled:        row.PvPEnabled,
			Announcement:      row.Announcement,
			OwnerID:           row.OwnerID,
			OwnerName:         row.OwnerName,
			LastMaintenanceAt: row.LastMaintenanceAt,
			CreatedAt:         row.CreatedAt,
			Members:           make(map[int64]*Member),
		}
		for _, m := range bySect[row.ID] {
			s.Members[m.PlayerID] = m
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveSect upserts the sect row from a snapshot taken under its lock.
func (g *GormStore) SaveSect(ctx context.Context, s *Sect) error {
	v := s.Snapshot()
	row := model.Sect{
		ID:                v.ID,
		Name:              v.Name,
		Description:       v.Description,
		Level:             v.Level,
		Experience:        v.Experience,
		Funds:             v.Funds,
		ContributionTotal: v.ContributionTotal,
		MaxMembers:        v.MaxMembers,
		Recruiting:        v.Recruiting,
		PvPEnabled:        v.PvPEnabled,
		Announcement:      v.Announcement,
		OwnerID:           v.OwnerID,
		OwnerName:         v.OwnerName,
		LastMaintenanceAt: v.LastMaintenanceAt,
		CreatedAt:         v.CreatedAt,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// SaveMember upserts one member row.
func (g *GormStore) SaveMember(ctx context.Context, sectID int64, m *Member) error {
	row := model.SectMember{
		SectID:             sectID,
		PlayerID:           m.PlayerID,
		PlayerName:         m.Name,
		Rank:               m.Rank.String(),
		Contribution:       m.Contribution,
		WeeklyContribution: m.WeeklyContribution,
		JoinedAt:           m.JoinedAt,
		LastActiveAt:       m.LastActiveAt,
		TasksCompleted:     m.TasksCompleted,
		DonationCount:      m.DonationCount,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// DeleteMember removes one member row.
func (g *GormStore) DeleteMember(ctx context.Context, sectID, playerID int64) error {
	return g.db.WithContext(ctx).
		Where("sect_id = ? AND player_id = ?", sectID, playerID).
		Delete(&model.SectMember{}).Error
}

// DeleteSect removes the sect row and all of its member rows.
func (g *GormStore) DeleteSect(ctx context.Context, sectID int64) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sect_id = ?", sectID).Delete(&model.SectMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Sect{}, sectID).Error
	})
}
