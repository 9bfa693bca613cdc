package sect

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// DonationResult reports the totals after a donation.
type DonationResult struct {
	SectFunds          int64 `json:"sect_funds"`
	Contribution       int64 `json:"contribution"`
	WeeklyContribution int64 `json:"weekly_contribution"`
	ContributionTotal  int64 `json:"contribution_total"`
}

// Donate debits the player's spirit stones and credits the sect. The
// debit happens first; the ledger fields then change together under the
// sect lock with no I/O in between.
func (svc *Service) Donate(ctx context.Context, sectID, playerID int64, amount int64) (DonationResult, error) {
	if amount <= 0 {
		return DonationResult{}, validationf("donation amount must be positive, got %d", amount)
	}
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return DonationResult{}, notFoundf("sect %d", sectID)
	}
	s.mu.Lock()
	_, in := s.member(playerID)
	s.mu.Unlock()
	if !in {
		return DonationResult{}, notFoundf("player %d in sect %d", playerID, sectID)
	}

	if err := svc.currency.Debit(ctx, playerID, amount); err != nil {
		return DonationResult{}, collaboratorErr("debit donation", err)
	}

	s.mu.Lock()
	m, still := s.member(playerID)
	if !still {
		s.mu.Unlock()
		svc.refund(ctx, playerID, amount)
		return DonationResult{}, conflictf("player %d left sect %d during donation", playerID, sectID)
	}
	s.Funds += amount
	s.ContributionTotal += amount
	m.Contribution += amount
	m.WeeklyContribution += amount
	m.DonationCount++
	m.LastActiveAt = svc.now()
	result := DonationResult{
		SectFunds:          s.Funds,
		Contribution:       m.Contribution,
		WeeklyContribution: m.WeeklyContribution,
		ContributionTotal:  s.ContributionTotal,
	}
	snapshot := *m
	sectName := s.Name
	s.mu.Unlock()

	// The registry already holds the new totals; a failed write here is
	// picked up by the periodic flush.
	if err := svc.store.SaveSect(ctx, s); err != nil {
		svc.logger.Warn("persist sect after donation failed",
			zap.Int64("sect_id", sectID), zap.Error(err))
	}
	if err := svc.store.SaveMember(ctx, sectID, &snapshot); err != nil {
		svc.logger.Warn("persist member after donation failed",
			zap.Int64("player_id", playerID), zap.Error(err))
	}

	svc.events.Append(ctx, Event{
		Type: EventDonated, SectID: sectID, SectName: sectName,
		PlayerID: playerID, PlayerName: snapshot.Name, Rank: snapshot.Rank.String(),
		Payload: map[string]interface{}{"amount": amount},
	})
	return result, nil
}

// SpendFunds draws down the sect treasury. Elder or above; funds never
// go negative.
func (svc *Service) SpendFunds(ctx context.Context, actorID, sectID int64, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, validationf("spend amount must be positive, got %d", amount)
	}
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return 0, notFoundf("sect %d", sectID)
	}

	s.mu.Lock()
	actor, in := s.member(actorID)
	if !in {
		s.mu.Unlock()
		return 0, permissionf("player %d is not a member of sect %d", actorID, sectID)
	}
	if actor.Rank < RankElder {
		rank := actor.Rank
		s.mu.Unlock()
		return 0, permissionf("rank %s cannot spend sect funds", rank)
	}
	if s.Funds < amount {
		funds := s.Funds
		s.mu.Unlock()
		return 0, statef("sect funds %d short of %d", funds, amount)
	}
	s.Funds -= amount
	remaining := s.Funds
	sectName := s.Name
	actorName := actor.Name
	s.mu.Unlock()

	if err := svc.store.SaveSect(ctx, s); err != nil {
		svc.logger.Warn("persist sect after spend failed",
			zap.Int64("sect_id", sectID), zap.Error(err))
	}

	svc.events.Append(ctx, Event{
		Type: EventFundsSpent, SectID: sectID, SectName: sectName,
		PlayerID: actorID, PlayerName: actorName,
		Payload: map[string]interface{}{"amount": amount, "reason": reason},
	})
	return remaining, nil
}

// experienceToLevel is the threshold to clear the given level.
func experienceToLevel(level int) int64 {
	return int64(1000 * math.Pow(1.5, float64(level-1)))
}

// AddExperience grants sect experience and applies any level-ups. Each
// level gained raises the member cap by two. Returns levels gained.
func (svc *Service) AddExperience(ctx context.Context, sectID int64, amount int64) (int, error) {
	if amount <= 0 {
		return 0, validationf("experience amount must be positive, got %d", amount)
	}
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return 0, notFoundf("sect %d", sectID)
	}

	s.mu.Lock()
	s.Experience += amount
	levels := 0
	for s.Experience >= experienceToLevel(s.Level) {
		s.Experience -= experienceToLevel(s.Level)
		s.Level++
		s.MaxMembers += 2
		levels++
	}
	level := s.Level
	sectName := s.Name
	s.mu.Unlock()

	if err := svc.store.SaveSect(ctx, s); err != nil {
		svc.logger.Warn("persist sect after experience failed",
			zap.Int64("sect_id", sectID), zap.Error(err))
	}

	if levels > 0 {
		svc.events.Append(ctx, Event{
			Type: EventLevelUp, SectID: sectID, SectName: sectName,
			Payload: map[string]interface{}{"level": level, "gained": levels},
		})
		svc.notifier.NotifyAll(ctx, svc.memberIDsOf(sectID), EventLevelUp, sectID, sectName,
			fmt.Sprintf("%s reached level %d", sectName, level))
	}
	return levels, nil
}

func (svc *Service) memberIDsOf(sectID int64) []int64 {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return nil
	}
	v := s.Snapshot()
	out := make([]int64, 0, len(v.Members))
	for _, m := range v.Members {
		out = append(out, m.PlayerID)
	}
	return out
}
