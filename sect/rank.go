package sect

import "fmt"

// Rank is a member's tier within a sect. Higher compares stronger.
type Rank int

const (
	RankOuter  Rank = 1
	RankInner  Rank = 2
	RankCore   Rank = 3
	RankElder  Rank = 4
	RankLeader Rank = 5
)

var rankNames = map[Rank]string{
	RankOuter:  "outer",
	RankInner:  "inner",
	RankCore:   "core",
	RankElder:  "elder",
	RankLeader: "leader",
}

var rankValues = map[string]Rank{
	"outer":  RankOuter,
	"inner":  RankInner,
	"core":   RankCore,
	"elder":  RankElder,
	"leader": RankLeader,
}

func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

// ParseRank maps a stored rank name back to its tier.
func ParseRank(s string) (Rank, error) {
	if r, ok := rankValues[s]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("unknown rank %q", s)
}

// capability is the per-rank permission row. Changing a rank's powers
// means editing this table, nothing else.
type capability struct {
	canInvite     bool
	canKick       bool
	canManageRank bool
}

var capabilities = map[Rank]capability{
	RankOuter:  {},
	RankInner:  {},
	RankCore:   {canInvite: true},
	RankElder:  {canInvite: true, canKick: true, canManageRank: true},
	RankLeader: {canInvite: true, canKick: true, canManageRank: true},
}

func (r Rank) CanInvite() bool     { return capabilities[r].canInvite }
func (r Rank) CanKick() bool       { return capabilities[r].canKick }
func (r Rank) CanManageRank() bool { return capabilities[r].canManageRank }

// Next returns the tier one step up. Promotion never reaches Leader.
func (r Rank) Next() (Rank, bool) {
	if r >= RankElder {
		return r, false
	}
	return r + 1, true
}

// Prev returns the tier one step down.
func (r Rank) Prev() (Rank, bool) {
	if r <= RankOuter {
		return r, false
	}
	return r - 1, true
}

// CanPromote reports whether actor may move target one tier up.
func CanPromote(actor, target Rank) bool {
	if !actor.CanManageRank() || actor <= target {
		return false
	}
	_, ok := target.Next()
	return ok
}

// CanDemote reports whether actor may move target one tier down.
func CanDemote(actor, target Rank) bool {
	if !actor.CanManageRank() || actor <= target {
		return false
	}
	_, ok := target.Prev()
	return ok
}
