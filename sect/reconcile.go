package sect

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DivergenceKind classifies a registry/mirror mismatch.
type DivergenceKind string

const (
	// MissingInProfile: the registry has the membership, the profile
	// mirror does not (or points at the wrong sect).
	MissingInProfile DivergenceKind = "missing_in_profile"
	// MissingInRegistry: the profile mirror claims a membership the
	// registry does not have.
	MissingInRegistry DivergenceKind = "missing_in_registry"
	// RankMismatch: membership agrees but the mirrored rank is stale.
	RankMismatch DivergenceKind = "rank_mismatch"
)

// Divergence is one detected mismatch, keyed by (sect, player).
type Divergence struct {
	Kind     DivergenceKind `json:"kind"`
	SectID   int64          `json:"sect_id"`
	PlayerID int64          `json:"player_id"`
	Rank     string         `json:"rank,omitempty"` // registry rank, used for repair
}

// Reconciler detects and repairs drift between the registry and the
// profile mirror. The registry is the source of truth for existence and
// rank; repairs only ever write the profile side.
type Reconciler struct {
	registry *Registry
	profiles ProfileStore
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(registry *Registry, profiles ProfileStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{registry: registry, profiles: profiles, logger: logger}
}

// Check scans both directions and returns every divergence found.
func (r *Reconciler) Check(ctx context.Context) ([]Divergence, error) {
	var out []Divergence

	// Forward pass: every registry membership must appear in the mirror
	// with the right sect and rank.
	for _, s := range r.registry.All() {
		v := s.Snapshot()
		for _, m := range v.Members {
			p, err := r.profiles.Get(ctx, m.PlayerID)
			if err != nil {
				return nil, err
			}
			switch {
			case p == nil || p.SectID == nil || *p.SectID != v.ID:
				out = append(out, Divergence{
					Kind: MissingInProfile, SectID: v.ID,
					PlayerID: m.PlayerID, Rank: m.Rank.String(),
				})
			case p.SectRank != m.Rank.String():
				out = append(out, Divergence{
					Kind: RankMismatch, SectID: v.ID,
					PlayerID: m.PlayerID, Rank: m.Rank.String(),
				})
			}
		}
	}

	// Reverse pass: every mirror claim must be backed by the registry.
	claims, err := r.profiles.AllWithSect(ctx)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range claims {
		p := claims[i]
		g.Go(func() error {
			s, ok := r.registry.SectOf(p.PlayerID)
			if ok && s.ID == *p.SectID {
				return nil
			}
			mu.Lock()
			out = append(out, Divergence{
				Kind: MissingInRegistry, SectID: *p.SectID, PlayerID: p.PlayerID,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SectID != out[j].SectID {
			return out[i].SectID < out[j].SectID
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out, nil
}

// Repair fixes one divergence by rewriting the profile side.
func (r *Reconciler) Repair(ctx context.Context, d Divergence) error {
	switch d.Kind {
	case MissingInProfile, RankMismatch:
		rank := d.Rank
		if rank == "" {
			s, ok := r.registry.ByID(d.SectID)
			if !ok {
				return notFoundf("sect %d", d.SectID)
			}
			s.mu.Lock()
			m, in := s.member(d.PlayerID)
			if in {
				rank = m.Rank.String()
			}
			s.mu.Unlock()
			if rank == "" {
				return notFoundf("player %d in sect %d", d.PlayerID, d.SectID)
			}
		}
		return r.profiles.SetSect(ctx, d.PlayerID, d.SectID, rank)
	case MissingInRegistry:
		return r.profiles.ClearSect(ctx, d.PlayerID)
	default:
		return validationf("unknown divergence kind %q", d.Kind)
	}
}

// RepairAll checks and repairs everything, returning the number of
// divergences repaired. Stale claims are cleared before memberships are
// rewritten so a player moved between sects converges on the registry.
func (r *Reconciler) RepairAll(ctx context.Context) (int, error) {
	divs, err := r.Check(ctx)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(divs, func(i, j int) bool {
		return divs[i].Kind == MissingInRegistry && divs[j].Kind != MissingInRegistry
	})

	repaired := 0
	var firstErr error
	for _, d := range divs {
		if err := r.Repair(ctx, d); err != nil {
			r.logger.Error("repair failed",
				zap.String("kind", string(d.Kind)),
				zap.Int64("sect_id", d.SectID),
				zap.Int64("player_id", d.PlayerID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		repaired++
	}
	return repaired, firstErr
}
