package sect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xianrealm/sectd/model"
	"github.com/xianrealm/sectd/notify"
	"github.com/xianrealm/sectd/profile"
	"github.com/xianrealm/sectd/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type env struct {
	svc      *Service
	reg      *Registry
	db       *gorm.DB
	profiles *profile.Store
	events   *EventLog
}

func newTestEnv(t *testing.T, opts Options) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ps := testutil.SetupTestPubSub(t)
	reg := NewRegistry()
	profiles := profile.NewStore(db)
	events := NewEventLog(db, ps, zap.NewNop())
	t.Cleanup(func() { events.Stop(context.Background()) })
	sink := notify.NewSink(ps, zap.NewNop())
	svc := NewService(reg, NewGormStore(db), profiles, profiles, events, sink, opts, zap.NewNop())
	return &env{svc: svc, reg: reg, db: db, profiles: profiles, events: events}
}

func defaultOpts() Options {
	return Options{MaxMembers: 5, NameMinLen: 2, NameMaxLen: 32, CreateCost: 1000, InviteTTL: time.Minute}
}

func (e *env) seedPlayer(t *testing.T, id int64, name string, stones int64) {
	t.Helper()
	require.NoError(t, e.profiles.Create(context.Background(), &model.PlayerProfile{
		PlayerID:     id,
		AccountID:    id,
		Name:         name,
		SpiritStones: stones,
	}))
}

// founds a sect and returns its id, with players 1 (leader) seeded.
func (e *env) foundSect(t *testing.T, name string) int64 {
	t.Helper()
	e.seedPlayer(t, 1, "LiMu", 10000)
	v, err := e.svc.CreateSect(context.Background(), 1, name, "")
	require.NoError(t, err)
	return v.ID
}

func TestCreateSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	e.seedPlayer(t, 1, "LiMu", 1500)

	v, err := e.svc.CreateSect(ctx, 1, "Azure Cloud", "a humble beginning")
	require.NoError(t, err)
	assert.Equal(t, "Azure Cloud", v.Name)
	assert.Equal(t, int64(1), v.OwnerID)
	assert.Equal(t, 1, v.Level)
	require.Len(t, v.Members, 1)
	assert.Equal(t, RankLeader, v.Members[0].Rank)

	// Creation cost debited.
	bal, err := e.profiles.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	// Profile mirror written.
	p, err := e.profiles.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p.SectID)
	assert.Equal(t, v.ID, *p.SectID)
	assert.Equal(t, "leader", p.SectRank)

	// Rows persisted.
	var row model.Sect
	require.NoError(t, e.db.First(&row, v.ID).Error)
	assert.Equal(t, "Azure Cloud", row.Name)
}

func TestCreateSectNameValidation(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	e.seedPlayer(t, 1, "LiMu", 10000)

	_, err := e.svc.CreateSect(ctx, 1, "A", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.svc.CreateSect(ctx, 1, "   ", "")
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]rune, 33)
	for i := range long {
		long[i] = '云'
	}
	_, err = e.svc.CreateSect(ctx, 1, string(long), "")
	assert.ErrorIs(t, err, ErrValidation)

	// Nothing was debited by the failed attempts.
	bal, err := e.profiles.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal)
}

func TestCreateSectDuplicateName(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 5000)

	_, err := e.svc.CreateSect(ctx, 2, "azure cloud", "")
	assert.ErrorIs(t, err, ErrConflict)

	// The conflicting attempt must not cost anything.
	bal, err := e.profiles.Balance(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal)
}

func TestCreateSectFounderAlreadyInSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	e.foundSect(t, "Azure Cloud")

	_, err := e.svc.CreateSect(context.Background(), 1, "Crimson Peak", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateSectInsufficientFunds(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	e.seedPlayer(t, 1, "LiMu", 500)

	_, err := e.svc.CreateSect(ctx, 1, "Azure Cloud", "")
	assert.ErrorIs(t, err, ErrCollaborator)

	// No sect, no debit.
	_, ok := e.reg.ByName("Azure Cloud")
	assert.False(t, ok)
	bal, err := e.profiles.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
}

func TestCreateSectUnknownFounder(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	_, err := e.svc.CreateSect(context.Background(), 99, "Azure Cloud", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Lotus")
	e.seedPlayer(t, 2, "ZhaoYan", 0)

	v, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	assert.Len(t, v.Members, 2)

	p, err := e.profiles.Get(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, p.SectID)
	assert.Equal(t, sectID, *p.SectID)
	assert.Equal(t, "outer", p.SectRank)
}

func TestJoinSectNotFound(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(context.Background(), 2, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinSectNotRecruiting(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	require.NoError(t, e.svc.SetRecruiting(ctx, 1, sectID, false))
	e.seedPlayer(t, 2, "ZhaoYan", 0)

	_, err := e.svc.JoinSect(ctx, 2, sectID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestJoinSectFull(t *testing.T) {
	opts := defaultOpts()
	opts.MaxMembers = 2
	e := newTestEnv(t, opts)
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)

	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, err = e.svc.JoinSect(ctx, 3, sectID)
	assert.ErrorIs(t, err, ErrConflict)

	v, err := e.svc.Get(sectID)
	require.NoError(t, err)
	assert.Len(t, v.Members, 2)
}

func TestJoinSecondSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 5000)
	other, err := e.svc.CreateSect(ctx, 2, "Crimson Peak", "")
	require.NoError(t, err)
	_ = other

	_, err = e.svc.JoinSect(ctx, 2, sectID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLeaveSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	require.NoError(t, e.svc.LeaveSect(ctx, 2))

	_, ok := e.reg.SectOf(2)
	assert.False(t, ok)
	p, err := e.profiles.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, p.SectID)
}

func TestLeaveSectOwnerBlocked(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	e.foundSect(t, "Azure Cloud")

	err := e.svc.LeaveSect(context.Background(), 1)
	assert.ErrorIs(t, err, ErrState)
	_, ok := e.reg.SectOf(1)
	assert.True(t, ok)
}

func TestLeaveSectNotMember(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	err := e.svc.LeaveSect(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

// promoteTo raises target to the wanted rank via repeated promotions by
// the leader.
func (e *env) promoteTo(t *testing.T, sectID, targetID int64, want Rank) {
	t.Helper()
	for {
		v, err := e.svc.Get(sectID)
		require.NoError(t, err)
		var cur Rank
		for _, m := range v.Members {
			if m.PlayerID == targetID {
				cur = m.Rank
			}
		}
		require.NotZero(t, cur)
		if cur >= want {
			return
		}
		_, _, err = e.svc.Promote(context.Background(), v.OwnerID, sectID, targetID)
		require.NoError(t, err)
	}
}

func TestPromote(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	before, after, err := e.svc.Promote(ctx, 1, sectID, 2)
	require.NoError(t, err)
	assert.Equal(t, RankOuter, before)
	assert.Equal(t, RankInner, after)

	// Mirror rank follows.
	p, err := e.profiles.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "inner", p.SectRank)
}

func TestElderPromotesOuter(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, err = e.svc.JoinSect(ctx, 3, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)

	before, after, err := e.svc.Promote(ctx, 2, sectID, 3)
	require.NoError(t, err)
	assert.Equal(t, RankOuter, before)
	assert.Equal(t, RankInner, after)
}

func TestPromoteNeverReachesLeader(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)

	_, _, err = e.svc.Promote(ctx, 1, sectID, 2)
	assert.ErrorIs(t, err, ErrState)
}

func TestPromoteWithoutPermission(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, err = e.svc.JoinSect(ctx, 3, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankCore)

	// Core has no manage-rank capability.
	_, _, err = e.svc.Promote(ctx, 2, sectID, 3)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestPromoteDemoteRoundTrip(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	_, after, err := e.svc.Promote(ctx, 1, sectID, 2)
	require.NoError(t, err)
	assert.Equal(t, RankInner, after)

	before, after, err := e.svc.Demote(ctx, 1, sectID, 2)
	require.NoError(t, err)
	assert.Equal(t, RankInner, before)
	assert.Equal(t, RankOuter, after)
}

func TestDemoteOuterBlocked(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	_, _, err = e.svc.Demote(ctx, 1, sectID, 2)
	assert.ErrorIs(t, err, ErrState)
}

func TestDemoteOwnerBlocked(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)

	_, _, err = e.svc.Demote(ctx, 2, sectID, 1)
	assert.ErrorIs(t, err, ErrState)
}

func TestKickMember(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	require.NoError(t, e.svc.KickMember(ctx, 1, sectID, 2))

	_, ok := e.reg.SectOf(2)
	assert.False(t, ok)
	p, err := e.profiles.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, p.SectID)
}

func TestKickWithoutPermission(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, err = e.svc.JoinSect(ctx, 3, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankInner)

	// Inner cannot kick; the target stays.
	err = e.svc.KickMember(ctx, 2, sectID, 3)
	assert.ErrorIs(t, err, ErrPermission)
	_, ok := e.reg.SectOf(3)
	assert.True(t, ok)
}

func TestKickOwnerBlocked(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)

	err = e.svc.KickMember(ctx, 2, sectID, 1)
	assert.ErrorIs(t, err, ErrState)
}

func TestKickEqualRankBlocked(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, err = e.svc.JoinSect(ctx, 3, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)
	e.promoteTo(t, sectID, 3, RankElder)

	err = e.svc.KickMember(ctx, 2, sectID, 3)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestInviteFlow(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	require.NoError(t, e.svc.SetRecruiting(ctx, 1, sectID, false))
	e.seedPlayer(t, 2, "ZhaoYan", 0)

	require.NoError(t, e.svc.InvitePlayer(ctx, 1, sectID, 2))

	// Accept bypasses the recruiting flag.
	v, err := e.svc.AcceptInvite(ctx, 2, sectID)
	require.NoError(t, err)
	assert.Len(t, v.Members, 2)

	// The invite was consumed.
	_, err = e.svc.AcceptInvite(ctx, 2, sectID)
	assert.Error(t, err)
}

func TestInviteRequiresRank(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	e.seedPlayer(t, 3, "HanFeng", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	// Outer cannot invite.
	err = e.svc.InvitePlayer(ctx, 2, sectID, 3)
	assert.ErrorIs(t, err, ErrPermission)

	// Core can.
	e.promoteTo(t, sectID, 2, RankCore)
	assert.NoError(t, e.svc.InvitePlayer(ctx, 2, sectID, 3))
}

func TestInviteExpired(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	require.NoError(t, e.svc.InvitePlayer(ctx, 1, sectID, 2))

	// Jump past the TTL.
	base := time.Now()
	e.svc.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err := e.svc.AcceptInvite(ctx, 2, sectID)
	assert.ErrorIs(t, err, ErrState)
}

func TestAcceptWithoutInvite(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)

	_, err := e.svc.AcceptInvite(context.Background(), 2, sectID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPruneInvites(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	require.NoError(t, e.svc.InvitePlayer(ctx, 1, sectID, 2))

	base := time.Now()
	e.svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, e.svc.PruneInvites())
	assert.Equal(t, 0, e.svc.PruneInvites())
}

func TestDisbandSect(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	require.NoError(t, e.svc.DisbandSect(ctx, 1, sectID))

	_, ok := e.reg.ByID(sectID)
	assert.False(t, ok)
	for _, pid := range []int64{1, 2} {
		p, err := e.profiles.Get(ctx, pid)
		require.NoError(t, err)
		assert.Nil(t, p.SectID, "player %d mirror", pid)
	}
	var count int64
	require.NoError(t, e.db.Model(&model.SectMember{}).Where("sect_id = ?", sectID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDisbandRequiresOwner(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	e.promoteTo(t, sectID, 2, RankElder)

	err = e.svc.DisbandSect(ctx, 2, sectID)
	assert.ErrorIs(t, err, ErrPermission)
	_, ok := e.reg.ByID(sectID)
	assert.True(t, ok)
}

func TestSetAnnouncement(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	require.NoError(t, e.svc.SetAnnouncement(ctx, 1, sectID, "Recruiting sword cultivators"))
	v, err := e.svc.Get(sectID)
	require.NoError(t, err)
	assert.Equal(t, "Recruiting sword cultivators", v.Announcement)

	// Outer cannot manage the sect.
	err = e.svc.SetAnnouncement(ctx, 2, sectID, "nope")
	assert.ErrorIs(t, err, ErrPermission)
}

func TestSetPvP(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)

	require.NoError(t, e.svc.SetPvP(ctx, 1, sectID, true))
	v, err := e.svc.Get(sectID)
	require.NoError(t, err)
	assert.True(t, v.PvPEnabled)

	err = e.svc.SetPvP(ctx, 2, sectID, false)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestLoadFromStoreRoundTrip(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	_, _, err = e.svc.Promote(ctx, 1, sectID, 2)
	require.NoError(t, err)
	require.NoError(t, e.svc.SetPvP(ctx, 1, sectID, true))

	// A second service over the same database sees the same state.
	reg2 := NewRegistry()
	svc2 := NewService(reg2, NewGormStore(e.db), e.profiles, e.profiles, e.events, notify.NewSink(testutil.SetupTestPubSub(t), zap.NewNop()), defaultOpts(), zap.NewNop())
	require.NoError(t, svc2.LoadFromStore(ctx))

	v, err := svc2.Get(sectID)
	require.NoError(t, err)
	assert.Equal(t, "Azure Cloud", v.Name)
	assert.True(t, v.PvPEnabled)
	require.Len(t, v.Members, 2)
	ranks := map[int64]Rank{}
	for _, m := range v.Members {
		ranks[m.PlayerID] = m.Rank
	}
	assert.Equal(t, RankLeader, ranks[1])
	assert.Equal(t, RankInner, ranks[2])
}

func TestMembershipEventsRecorded(t *testing.T) {
	e := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	sectID := e.foundSect(t, "Azure Cloud")
	e.seedPlayer(t, 2, "ZhaoYan", 0)
	_, err := e.svc.JoinSect(ctx, 2, sectID)
	require.NoError(t, err)
	require.NoError(t, e.svc.KickMember(ctx, 1, sectID, 2))

	e.events.Stop(ctx)

	var rows []model.MembershipEvent
	require.NoError(t, e.db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, EventCreated, rows[0].Type)
	assert.Equal(t, EventJoined, rows[1].Type)
	assert.Equal(t, EventKicked, rows[2].Type)
	assert.Equal(t, int64(2), rows[2].PlayerID)
}
