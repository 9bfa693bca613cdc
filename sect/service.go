package sect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Options are the membership rules applied by the service.
type Options struct {
	MaxMembers int
	NameMinLen int
	NameMaxLen int
	CreateCost int64
	InviteTTL  time.Duration
}

func (o *Options) fillDefaults() {
	if o.MaxMembers <= 0 {
		o.MaxMembers = 10
	}
	if o.NameMinLen <= 0 {
		o.NameMinLen = 2
	}
	if o.NameMaxLen <= 0 {
		o.NameMaxLen = 32
	}
	if o.InviteTTL <= 0 {
		o.InviteTTL = time.Minute
	}
}

type inviteKey struct {
	sectID   int64
	playerID int64
}

type invite struct {
	inviterID int64
	expiresAt time.Time
}

// Service implements sect membership operations over the registry. The
// registry is authoritative; the store and the profile mirror follow it.
type Service struct {
	registry *Registry
	store    Store
	profiles ProfileStore
	currency CurrencyStore
	events   *EventLog
	notifier NotificationSink
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	inviteMu sync.Mutex
	invites  map[inviteKey]invite
}

// NewService creates a Service.
func NewService(registry *Registry, store Store, profiles ProfileStore, currency CurrencyStore, events *EventLog, notifier NotificationSink, opts Options, logger *zap.Logger) *Service {
	opts.fillDefaults()
	return &Service{
		registry: registry,
		store:    store,
		profiles: profiles,
		currency: currency,
		events:   events,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		invites:  make(map[inviteKey]invite),
	}
}

// LoadFromStore rebuilds the registry from persisted rows.
func (svc *Service) LoadFromStore(ctx context.Context) error {
	sects, err := svc.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	svc.registry.Load(sects)
	svc.logger.Info("registry loaded", zap.Int("sects", len(sects)))
	return nil
}

func (svc *Service) validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < svc.opts.NameMinLen {
		return validationf("sect name too short (min %d)", svc.opts.NameMinLen)
	}
	if n > svc.opts.NameMaxLen {
		return validationf("sect name too long (max %d)", svc.opts.NameMaxLen)
	}
	return nil
}

// CreateSect founds a new sect with the founder as its Leader. The
// creation cost is debited first; any later failure refunds it.
func (svc *Service) CreateSect(ctx context.Context, founderID int64, name, description string) (View, error) {
	name = strings.TrimSpace(name)
	if err := svc.validateName(name); err != nil {
		return View{}, err
	}
	if s, in := svc.registry.SectOf(founderID); in {
		return View{}, conflictf("player %d already belongs to sect %q", founderID, s.Name)
	}
	if _, taken := svc.registry.ByName(name); taken {
		return View{}, conflictf("sect name %q already taken", name)
	}

	p, err := svc.profiles.Get(ctx, founderID)
	if err != nil {
		return View{}, collaboratorErr("load founder profile", err)
	}
	if p == nil {
		return View{}, notFoundf("player %d", founderID)
	}

	if svc.opts.CreateCost > 0 {
		if err := svc.currency.Debit(ctx, founderID, svc.opts.CreateCost); err != nil {
			return View{}, collaboratorErr("debit creation cost", err)
		}
	}

	s, err := svc.registry.Create(name, description, founderID, p.Name, svc.opts.MaxMembers, svc.now())
	if err != nil {
		svc.refund(ctx, founderID, svc.opts.CreateCost)
		return View{}, err
	}

	if err := svc.persistNewSect(ctx, s, founderID); err != nil {
		_, _ = svc.registry.Remove(s.ID)
		svc.refund(ctx, founderID, svc.opts.CreateCost)
		return View{}, err
	}

	svc.events.Append(ctx, Event{
		Type: EventCreated, SectID: s.ID, SectName: s.Name,
		PlayerID: founderID, PlayerName: p.Name, Rank: RankLeader.String(),
		Payload: map[string]interface{}{"cost": svc.opts.CreateCost},
	})
	svc.notifier.Notify(ctx, founderID, EventCreated, s.ID, s.Name,
		fmt.Sprintf("You founded %s", s.Name))
	return s.Snapshot(), nil
}

func (svc *Service) persistNewSect(ctx context.Context, s *Sect, founderID int64) error {
	if err := svc.store.SaveSect(ctx, s); err != nil {
		return collaboratorErr("persist sect", err)
	}
	s.mu.Lock()
	owner := *s.Members[founderID]
	s.mu.Unlock()
	if err := svc.store.SaveMember(ctx, s.ID, &owner); err != nil {
		return collaboratorErr("persist founder membership", err)
	}
	if err := svc.profiles.SetSect(ctx, founderID, s.ID, RankLeader.String()); err != nil {
		return collaboratorErr("write founder mirror", err)
	}
	return nil
}

func (svc *Service) refund(ctx context.Context, playerID, amount int64) {
	if amount <= 0 {
		return
	}
	if err := svc.currency.Credit(ctx, playerID, amount); err != nil {
		svc.logger.Error("refund failed",
			zap.Int64("player_id", playerID),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
}

// JoinSect adds a player to a recruiting sect at Outer rank.
func (svc *Service) JoinSect(ctx context.Context, playerID, sectID int64) (View, error) {
	return svc.admit(ctx, playerID, sectID, false)
}

// admit runs the shared join path. Invited joins bypass the recruiting
// flag; capacity always holds.
func (svc *Service) admit(ctx context.Context, playerID, sectID int64, invited bool) (View, error) {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return View{}, notFoundf("sect %d", sectID)
	}
	p, err := svc.profiles.Get(ctx, playerID)
	if err != nil {
		return View{}, collaboratorErr("load profile", err)
	}
	if p == nil {
		return View{}, notFoundf("player %d", playerID)
	}

	now := svc.now()
	m := &Member{
		PlayerID:     playerID,
		Name:         p.Name,
		Rank:         RankOuter,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	err = svc.registry.Attach(sectID, m, func(s *Sect) error {
		if !invited && !s.Recruiting {
			return conflictf("sect %q is not recruiting", s.Name)
		}
		if len(s.Members) >= s.MaxMembers {
			return conflictf("sect %q is full", s.Name)
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	if err := svc.store.SaveMember(ctx, sectID, m); err != nil {
		_, _ = svc.registry.Detach(sectID, playerID, nil)
		return View{}, collaboratorErr("persist membership", err)
	}
	if err := svc.profiles.SetSect(ctx, playerID, sectID, RankOuter.String()); err != nil {
		_ = svc.store.DeleteMember(ctx, sectID, playerID)
		_, _ = svc.registry.Detach(sectID, playerID, nil)
		return View{}, collaboratorErr("write mirror", err)
	}

	evType := EventJoined
	if invited {
		evType = EventInviteAccepted
	}
	svc.events.Append(ctx, Event{
		Type: evType, SectID: s.ID, SectName: s.Name,
		PlayerID: playerID, PlayerName: p.Name, Rank: RankOuter.String(),
	})
	svc.notifier.Notify(ctx, s.OwnerID, evType, s.ID, s.Name,
		fmt.Sprintf("%s joined %s", p.Name, s.Name))
	return s.Snapshot(), nil
}

// InvitePlayer records a time-limited invitation for the target.
func (svc *Service) InvitePlayer(ctx context.Context, inviterID, sectID, targetID int64) error {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return notFoundf("sect %d", sectID)
	}

	s.mu.Lock()
	inviter, in := s.member(inviterID)
	full := len(s.Members) >= s.MaxMembers
	sectName := s.Name
	var inviterRank Rank
	var inviterName string
	if in {
		inviterRank = inviter.Rank
		inviterName = inviter.Name
	}
	s.mu.Unlock()

	if !in {
		return permissionf("player %d is not a member of sect %d", inviterID, sectID)
	}
	if !inviterRank.CanInvite() {
		return permissionf("rank %s cannot invite", inviterRank)
	}
	if full {
		return conflictf("sect %q is full", sectName)
	}

	if s2, joined := svc.registry.SectOf(targetID); joined {
		return conflictf("player %d already belongs to sect %q", targetID, s2.Name)
	}
	p, err := svc.profiles.Get(ctx, targetID)
	if err != nil {
		return collaboratorErr("load target profile", err)
	}
	if p == nil {
		return notFoundf("player %d", targetID)
	}

	svc.inviteMu.Lock()
	svc.invites[inviteKey{sectID, targetID}] = invite{
		inviterID: inviterID,
		expiresAt: svc.now().Add(svc.opts.InviteTTL),
	}
	svc.inviteMu.Unlock()

	svc.events.Append(ctx, Event{
		Type: EventInvited, SectID: sectID, SectName: sectName,
		PlayerID: targetID, PlayerName: p.Name,
		Payload: map[string]interface{}{"inviter_id": inviterID},
	})
	svc.notifier.Notify(ctx, targetID, EventInvited, sectID, sectName,
		fmt.Sprintf("%s invited you to %s", inviterName, sectName))
	return nil
}

// AcceptInvite consumes a pending invitation and joins the sect,
// bypassing the recruiting flag.
func (svc *Service) AcceptInvite(ctx context.Context, playerID, sectID int64) (View, error) {
	key := inviteKey{sectID, playerID}
	svc.inviteMu.Lock()
	inv, ok := svc.invites[key]
	if ok {
		delete(svc.invites, key)
	}
	svc.inviteMu.Unlock()

	if !ok {
		return View{}, notFoundf("no pending invite to sect %d", sectID)
	}
	if svc.now().After(inv.expiresAt) {
		return View{}, statef("invite to sect %d has expired", sectID)
	}
	return svc.admit(ctx, playerID, sectID, true)
}

// LeaveSect removes the player from their sect. The owner cannot leave;
// they disband instead.
func (svc *Service) LeaveSect(ctx context.Context, playerID int64) error {
	s, ok := svc.registry.SectOf(playerID)
	if !ok {
		return notFoundf("player %d is not in a sect", playerID)
	}
	if s.OwnerID == playerID {
		return statef("the sect leader cannot leave; disband the sect instead")
	}

	m, err := svc.registry.Detach(s.ID, playerID, nil)
	if err != nil {
		return err
	}
	if err := svc.store.DeleteMember(ctx, s.ID, playerID); err != nil {
		// Roll the removal back so memory and rows stay aligned.
		_ = svc.registry.Attach(s.ID, m, nil)
		return collaboratorErr("delete membership", err)
	}
	if err := svc.profiles.ClearSect(ctx, playerID); err != nil {
		// Row already gone; the reconciler repairs the stale mirror.
		svc.logger.Warn("clear mirror failed",
			zap.Int64("player_id", playerID), zap.Error(err))
	}

	svc.events.Append(ctx, Event{
		Type: EventLeft, SectID: s.ID, SectName: s.Name,
		PlayerID: playerID, PlayerName: m.Name, Rank: m.Rank.String(),
	})
	svc.notifier.Notify(ctx, s.OwnerID, EventLeft, s.ID, s.Name,
		fmt.Sprintf("%s left %s", m.Name, s.Name))
	return nil
}

// KickMember removes a lower-ranked member. The owner is untouchable.
func (svc *Service) KickMember(ctx context.Context, actorID, sectID, targetID int64) error {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return notFoundf("sect %d", sectID)
	}
	sectName := s.Name

	// Authority checks run inside Detach's critical section so a
	// concurrent rank change cannot make them stale before the removal.
	m, err := svc.registry.Detach(sectID, targetID, func(s *Sect) error {
		actor, actorIn := s.member(actorID)
		if !actorIn {
			return permissionf("player %d is not a member of sect %d", actorID, sectID)
		}
		if targetID == s.OwnerID {
			return statef("the sect leader cannot be kicked")
		}
		target, _ := s.member(targetID)
		if !actor.Rank.CanKick() {
			return permissionf("rank %s cannot kick", actor.Rank)
		}
		if actor.Rank <= target.Rank {
			return permissionf("rank %s cannot kick rank %s", actor.Rank, target.Rank)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := svc.store.DeleteMember(ctx, sectID, targetID); err != nil {
		_ = svc.registry.Attach(sectID, m, nil)
		return collaboratorErr("delete membership", err)
	}
	if err := svc.profiles.ClearSect(ctx, targetID); err != nil {
		svc.logger.Warn("clear mirror failed",
			zap.Int64("player_id", targetID), zap.Error(err))
	}

	svc.events.Append(ctx, Event{
		Type: EventKicked, SectID: sectID, SectName: sectName,
		PlayerID: targetID, PlayerName: m.Name, Rank: m.Rank.String(),
		Payload: map[string]interface{}{"actor_id": actorID},
	})
	svc.notifier.Notify(ctx, targetID, EventKicked, sectID, sectName,
		fmt.Sprintf("You were removed from %s", sectName))
	return nil
}

// Promote moves the target one tier up. Returns the rank before and
// after; nothing changes on a failed precondition.
func (svc *Service) Promote(ctx context.Context, actorID, sectID, targetID int64) (Rank, Rank, error) {
	return svc.changeRank(ctx, actorID, sectID, targetID, true)
}

// Demote moves the target one tier down.
func (svc *Service) Demote(ctx context.Context, actorID, sectID, targetID int64) (Rank, Rank, error) {
	return svc.changeRank(ctx, actorID, sectID, targetID, false)
}

func (svc *Service) changeRank(ctx context.Context, actorID, sectID, targetID int64, up bool) (Rank, Rank, error) {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return 0, 0, notFoundf("sect %d", sectID)
	}

	s.mu.Lock()
	actor, actorIn := s.member(actorID)
	target, targetIn := s.member(targetID)
	if !actorIn {
		s.mu.Unlock()
		return 0, 0, permissionf("player %d is not a member of sect %d", actorID, sectID)
	}
	if !targetIn {
		s.mu.Unlock()
		return 0, 0, notFoundf("player %d in sect %d", targetID, sectID)
	}

	before := target.Rank
	var after Rank
	var moved bool
	if up {
		if !CanPromote(actor.Rank, target.Rank) {
			s.mu.Unlock()
			if !actor.Rank.CanManageRank() || actor.Rank <= before {
				return 0, 0, permissionf("rank %s cannot promote rank %s", actor.Rank, before)
			}
			return 0, 0, statef("rank %s cannot be promoted further", before)
		}
		after, moved = before.Next()
	} else {
		if targetID == s.OwnerID {
			s.mu.Unlock()
			return 0, 0, statef("the sect leader cannot be demoted")
		}
		if !CanDemote(actor.Rank, target.Rank) {
			s.mu.Unlock()
			if !actor.Rank.CanManageRank() || actor.Rank <= before {
				return 0, 0, permissionf("rank %s cannot demote rank %s", actor.Rank, before)
			}
			return 0, 0, statef("rank %s cannot be demoted further", before)
		}
		after, moved = before.Prev()
	}
	if !moved {
		s.mu.Unlock()
		return 0, 0, statef("rank %s cannot change", before)
	}
	target.Rank = after
	snapshot := *target
	sectName := s.Name
	targetName := target.Name
	s.mu.Unlock()

	if err := svc.store.SaveMember(ctx, sectID, &snapshot); err != nil {
		s.mu.Lock()
		if t, still := s.member(targetID); still {
			t.Rank = before
		}
		s.mu.Unlock()
		return 0, 0, collaboratorErr("persist rank change", err)
	}
	if err := svc.profiles.SetSect(ctx, targetID, sectID, after.String()); err != nil {
		svc.logger.Warn("mirror rank update failed",
			zap.Int64("player_id", targetID), zap.Error(err))
	}

	evType := EventPromoted
	if !up {
		evType = EventDemoted
	}
	svc.events.Append(ctx, Event{
		Type: evType, SectID: sectID, SectName: sectName,
		PlayerID: targetID, PlayerName: targetName, Rank: after.String(),
		Payload: map[string]interface{}{"actor_id": actorID, "from": before.String()},
	})
	svc.notifier.Notify(ctx, targetID, evType, sectID, sectName,
		fmt.Sprintf("Your rank in %s is now %s", sectName, after))
	return before, after, nil
}

// DisbandSect removes the sect entirely. Mirror-clear failures are
// retried and surfaced, but the registry removal always completes so a
// sect is never left half-removed.
func (svc *Service) DisbandSect(ctx context.Context, actorID, sectID int64) error {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return notFoundf("sect %d", sectID)
	}
	if s.OwnerID != actorID {
		return permissionf("only the sect leader can disband")
	}
	sectName := s.Name

	memberIDs, err := svc.registry.Remove(sectID)
	if err != nil {
		return err
	}

	failed := 0
	for _, pid := range memberIDs {
		if err := svc.clearMirrorWithRetry(ctx, pid); err != nil {
			failed++
			svc.logger.Error("clear mirror failed during disband",
				zap.Int64("player_id", pid), zap.Error(err))
		}
	}
	if err := svc.store.DeleteSect(ctx, sectID); err != nil {
		svc.logger.Error("delete sect rows failed",
			zap.Int64("sect_id", sectID), zap.Error(err))
	}

	svc.events.Append(ctx, Event{
		Type: EventDisbanded, SectID: sectID, SectName: sectName,
		PlayerID: actorID,
		Payload:  map[string]interface{}{"members": len(memberIDs)},
	})
	svc.notifier.NotifyAll(ctx, memberIDs, EventDisbanded, sectID, sectName,
		fmt.Sprintf("%s was disbanded", sectName))

	if failed > 0 {
		return collaboratorErr("disband mirror cleanup",
			fmt.Errorf("%d of %d mirror entries not cleared", failed, len(memberIDs)))
	}
	return nil
}

func (svc *Service) clearMirrorWithRetry(ctx context.Context, playerID int64) error {
	err := svc.profiles.ClearSect(ctx, playerID)
	if err == nil {
		return nil
	}
	return svc.profiles.ClearSect(ctx, playerID)
}

// SetAnnouncement updates the sect announcement. Elder or above.
func (svc *Service) SetAnnouncement(ctx context.Context, actorID, sectID int64, text string) error {
	if utf8.RuneCountInString(text) > 512 {
		return validationf("announcement too long (max 512)")
	}
	return svc.updateMeta(ctx, actorID, sectID, EventAnnouncement, func(s *Sect) {
		s.Announcement = text
	}, map[string]interface{}{"text": text})
}

// SetRecruiting toggles whether the sect accepts open joins. Elder or
// above.
func (svc *Service) SetRecruiting(ctx context.Context, actorID, sectID int64, recruiting bool) error {
	return svc.updateMeta(ctx, actorID, sectID, EventRecruiting, func(s *Sect) {
		s.Recruiting = recruiting
	}, map[string]interface{}{"recruiting": recruiting})
}

// SetPvP toggles whether the sect participates in open sect warfare.
// Elder or above.
func (svc *Service) SetPvP(ctx context.Context, actorID, sectID int64, enabled bool) error {
	return svc.updateMeta(ctx, actorID, sectID, EventPvPToggled, func(s *Sect) {
		s.PvPEnabled = enabled
	}, map[string]interface{}{"pvp_enabled": enabled})
}

func (svc *Service) updateMeta(ctx context.Context, actorID, sectID int64, evType string, apply func(*Sect), payload map[string]interface{}) error {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return notFoundf("sect %d", sectID)
	}

	s.mu.Lock()
	actor, in := s.member(actorID)
	if !in {
		s.mu.Unlock()
		return permissionf("player %d is not a member of sect %d", actorID, sectID)
	}
	if actor.Rank < RankElder {
		rank := actor.Rank
		s.mu.Unlock()
		return permissionf("rank %s cannot manage the sect", rank)
	}
	apply(s)
	sectName := s.Name
	actorName := actor.Name
	s.mu.Unlock()

	if err := svc.store.SaveSect(ctx, s); err != nil {
		return collaboratorErr("persist sect", err)
	}
	svc.events.Append(ctx, Event{
		Type: evType, SectID: sectID, SectName: sectName,
		PlayerID: actorID, PlayerName: actorName,
		Payload: payload,
	})
	return nil
}

// Get returns a snapshot of one sect.
func (svc *Service) Get(sectID int64) (View, error) {
	s, ok := svc.registry.ByID(sectID)
	if !ok {
		return View{}, notFoundf("sect %d", sectID)
	}
	return s.Snapshot(), nil
}

// GetByName returns a snapshot of one sect by name.
func (svc *Service) GetByName(name string) (View, error) {
	s, ok := svc.registry.ByName(name)
	if !ok {
		return View{}, notFoundf("sect %q", name)
	}
	return s.Snapshot(), nil
}

// List returns snapshots of every sect.
func (svc *Service) List() []View {
	sects := svc.registry.All()
	out := make([]View, 0, len(sects))
	for _, s := range sects {
		out = append(out, s.Snapshot())
	}
	return out
}

// SectOf returns a snapshot of the player's sect, if any.
func (svc *Service) SectOf(playerID int64) (View, bool) {
	s, ok := svc.registry.SectOf(playerID)
	if !ok {
		return View{}, false
	}
	return s.Snapshot(), true
}

// FlushAll persists every live sect and member. Run on a timer and at
// shutdown.
func (svc *Service) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, s := range svc.registry.All() {
		if err := svc.store.SaveSect(ctx, s); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		v := s.Snapshot()
		for i := range v.Members {
			if err := svc.store.SaveMember(ctx, v.ID, &v.Members[i]); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PruneInvites drops expired invitations. Run on a timer.
func (svc *Service) PruneInvites() int {
	now := svc.now()
	svc.inviteMu.Lock()
	defer svc.inviteMu.Unlock()
	pruned := 0
	for k, inv := range svc.invites {
		if now.After(inv.expiresAt) {
			delete(svc.invites, k)
			pruned++
		}
	}
	return pruned
}
