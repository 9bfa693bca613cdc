package rest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xianrealm/sectd/api/rest"
	"github.com/xianrealm/sectd/audit"
	"github.com/xianrealm/sectd/cache"
	"github.com/xianrealm/sectd/config"
	mw "github.com/xianrealm/sectd/middleware"
	"github.com/xianrealm/sectd/model"
	"github.com/xianrealm/sectd/notify"
	"github.com/xianrealm/sectd/profile"
	"github.com/xianrealm/sectd/sect"
	"github.com/xianrealm/sectd/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sectEnv struct {
	r        *gin.Engine
	db       *gorm.DB
	profiles *profile.Store
	cache    cache.Cache
	sec      config.SecurityConfig
	svc      *sect.Service
}

func newSectEnv(t *testing.T) *sectEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	ps := testutil.SetupTestPubSub(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

	profiles := profile.NewStore(db)
	reg := sect.NewRegistry()
	events := sect.NewEventLog(db, ps, zap.NewNop())
	t.Cleanup(func() { events.Stop(context.Background()) })
	sink := notify.NewSink(ps, zap.NewNop())
	svc := sect.NewService(reg, sect.NewGormStore(db), profiles, profiles, events, sink, sect.Options{
		MaxMembers: 5,
		NameMinLen: 2,
		NameMaxLen: 32,
		CreateCost: 1000,
		InviteTTL:  time.Minute,
	}, zap.NewNop())
	auditSvc := audit.New(db, zap.NewNop())
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	h := rest.NewSectHandler(svc, auditSvc)
	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api", mw.Auth(sec, c))
	api.POST("/sects", h.Create)
	api.GET("/sects", h.List)
	api.GET("/sects/mine", h.Mine)
	api.GET("/sects/:id", h.Detail)
	api.POST("/sects/:id/join", h.Join)
	api.POST("/sects/leave", h.Leave)
	api.DELETE("/sects/:id", h.Disband)
	api.DELETE("/sects/:id/members/:pid", h.Kick)
	api.POST("/sects/:id/members/:pid/promote", h.Promote)
	api.POST("/sects/:id/members/:pid/demote", h.Demote)
	api.POST("/sects/:id/invites", h.Invite)
	api.POST("/sects/:id/invites/accept", h.AcceptInvite)
	api.POST("/sects/:id/donate", h.Donate)
	api.POST("/sects/:id/spend", h.Spend)
	api.PUT("/sects/:id/announcement", h.SetAnnouncement)
	api.PUT("/sects/:id/recruiting", h.SetRecruiting)
	api.PUT("/sects/:id/pvp", h.SetPvP)

	return &sectEnv{r: r, db: db, profiles: profiles, cache: c, sec: sec, svc: svc}
}

// seedPlayer creates a profile and returns an authenticated bearer header.
func (e *sectEnv) seedPlayer(t *testing.T, id int64, name string, stones int64) string {
	t.Helper()
	require.NoError(t, e.profiles.Create(context.Background(), &model.PlayerProfile{
		PlayerID:     id,
		AccountID:    id,
		Name:         name,
		SpiritStones: stones,
	}))
	return e.tokenFor(t, id)
}

func (e *sectEnv) tokenFor(t *testing.T, playerID int64) string {
	t.Helper()
	token, err := mw.GenerateToken(playerID, playerID, e.sec.JWTSecret, e.sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), "session:"+token, "1", e.sec.JWTTTLH))
	return "Bearer " + token
}

// foundSect creates player 1 as leader of a new sect over HTTP and
// returns the sect ID and the leader's auth header.
func (e *sectEnv) foundSect(t *testing.T, name string) (int64, string) {
	t.Helper()
	auth := e.seedPlayer(t, 1, "LiMu", 10000)
	w := postJSON(e.r, "/api/sects", map[string]string{"name": name}, "Authorization", auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v.ID, auth
}

func sectPath(sectID int64, rest string) string {
	return fmt.Sprintf("/api/sects/%d%s", sectID, rest)
}

func TestCreateSectEndpoint(t *testing.T) {
	e := newSectEnv(t)
	auth := e.seedPlayer(t, 1, "LiMu", 5000)

	w := postJSON(e.r, "/api/sects", map[string]string{
		"name":        "Azure Cloud",
		"description": "a humble beginning",
	}, "Authorization", auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "Azure Cloud", v.Name)
	assert.Equal(t, int64(1), v.OwnerID)
	assert.Len(t, v.Members, 1)
}

func TestCreateSectRequiresAuth(t *testing.T) {
	e := newSectEnv(t)
	w := postJSON(e.r, "/api/sects", map[string]string{"name": "Azure Cloud"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSectBadName(t *testing.T) {
	e := newSectEnv(t)
	auth := e.seedPlayer(t, 1, "LiMu", 5000)

	w := postJSON(e.r, "/api/sects", map[string]string{"name": "A"}, "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSectDuplicateName(t *testing.T) {
	e := newSectEnv(t)
	e.foundSect(t, "Azure Cloud")

	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 5000)
	w := postJSON(e.r, "/api/sects", map[string]string{"name": "azure cloud"}, "Authorization", auth2)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateSectInsufficientFunds(t *testing.T) {
	e := newSectEnv(t)
	auth := e.seedPlayer(t, 1, "LiMu", 500)

	w := postJSON(e.r, "/api/sects", map[string]string{"name": "Azure Cloud"}, "Authorization", auth)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListAndDetail(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := doJSON(e.r, http.MethodGet, "/api/sects", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sects []sect.View `json:"sects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sects, 1)

	w = doJSON(e.r, http.MethodGet, sectPath(sectID, ""), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "Azure Cloud", v.Name)

	w = doJSON(e.r, http.MethodGet, "/api/sects/999", nil, "Authorization", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMine(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := doJSON(e.r, http.MethodGet, "/api/sects/mine", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, sectID, v.ID)

	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)
	w = doJSON(e.r, http.MethodGet, "/api/sects/mine", nil, "Authorization", auth2)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinAndLeave(t *testing.T) {
	e := newSectEnv(t)
	sectID, _ := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Len(t, v.Members, 2)

	w = postJSON(e.r, "/api/sects/leave", nil, "Authorization", auth2)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not a member anymore.
	w = postJSON(e.r, "/api/sects/leave", nil, "Authorization", auth2)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOwnerCannotLeave(t *testing.T) {
	e := newSectEnv(t)
	_, auth := e.foundSect(t, "Azure Cloud")

	w := postJSON(e.r, "/api/sects/leave", nil, "Authorization", auth)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJoinNotRecruiting(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	recruiting := false
	w := doJSON(e.r, http.MethodPut, sectPath(sectID, "/recruiting"),
		map[string]interface{}{"recruiting": recruiting}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)
	w = postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInviteFlow(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	// Close the doors, then invite.
	recruiting := false
	w := doJSON(e.r, http.MethodPut, sectPath(sectID, "/recruiting"),
		map[string]interface{}{"recruiting": recruiting}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)

	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)
	w = postJSON(e.r, sectPath(sectID, "/invites"),
		map[string]int64{"player_id": 2}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Invitation bypasses the recruiting flag.
	w = postJSON(e.r, sectPath(sectID, "/invites/accept"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A second accept finds no pending invite.
	w = postJSON(e.r, sectPath(sectID, "/invites/accept"), nil, "Authorization", auth2)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInviteRequiresRank(t *testing.T) {
	e := newSectEnv(t)
	sectID, _ := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)
	e.seedPlayer(t, 3, "WuKong", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)

	// Outer disciples cannot invite.
	w = postJSON(e.r, sectPath(sectID, "/invites"),
		map[string]int64{"player_id": 3}, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestKick(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(e.r, http.MethodDelete, sectPath(sectID, "/members/2"), nil, "Authorization", auth)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Kicked members cannot kick back.
	w = doJSON(e.r, http.MethodDelete, sectPath(sectID, "/members/1"), nil, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestKickOwnerRejected(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := doJSON(e.r, http.MethodDelete, sectPath(sectID, "/members/1"), nil, "Authorization", auth)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPromoteDemote(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(e.r, sectPath(sectID, "/members/2/promote"), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "outer", resp["before"])
	assert.Equal(t, "inner", resp["after"])

	w = postJSON(e.r, sectPath(sectID, "/members/2/demote"), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "outer", resp["after"])

	// Already at the bottom.
	w = postJSON(e.r, sectPath(sectID, "/members/2/demote"), nil, "Authorization", auth)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPromoteRequiresElder(t *testing.T) {
	e := newSectEnv(t)
	sectID, _ := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)
	auth3 := e.seedPlayer(t, 3, "WuKong", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)
	w = postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth3)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(e.r, sectPath(sectID, "/members/3/promote"), nil, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDonateAndSpend(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := postJSON(e.r, sectPath(sectID, "/donate"),
		map[string]int64{"amount": 300}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res sect.DonationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(300), res.SectFunds)
	assert.Equal(t, int64(300), res.Contribution)

	w = postJSON(e.r, sectPath(sectID, "/spend"),
		map[string]interface{}{"amount": 100, "reason": "repairs"}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var spend map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &spend))
	assert.Equal(t, int64(200), spend["funds"])

	// Treasury shortfall.
	w = postJSON(e.r, sectPath(sectID, "/spend"),
		map[string]interface{}{"amount": 9999, "reason": "greed"}, "Authorization", auth)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDonateRejectsNonPositive(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := postJSON(e.r, sectPath(sectID, "/donate"),
		map[string]int64{"amount": -5}, "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpendRequiresElder(t *testing.T) {
	e := newSectEnv(t)
	sectID, _ := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 1000)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(e.r, sectPath(sectID, "/spend"),
		map[string]interface{}{"amount": 1, "reason": "nope"}, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAnnouncement(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	w := doJSON(e.r, http.MethodPut, sectPath(sectID, "/announcement"),
		map[string]string{"text": "Trial at dawn."}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(e.r, http.MethodGet, sectPath(sectID, ""), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "Trial at dawn.", v.Announcement)
}

func TestPvPToggle(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")

	enabled := true
	w := doJSON(e.r, http.MethodPut, sectPath(sectID, "/pvp"),
		map[string]interface{}{"pvp_enabled": enabled}, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(e.r, http.MethodGet, sectPath(sectID, ""), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code)
	var v sect.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.PvPEnabled)

	// Regular members cannot flip it.
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 1000)
	w = postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)
	disabled := false
	w = doJSON(e.r, http.MethodPut, sectPath(sectID, "/pvp"),
		map[string]interface{}{"pvp_enabled": disabled}, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDisband(t *testing.T) {
	e := newSectEnv(t)
	sectID, auth := e.foundSect(t, "Azure Cloud")
	auth2 := e.seedPlayer(t, 2, "ZhaoYan", 100)

	w := postJSON(e.r, sectPath(sectID, "/join"), nil, "Authorization", auth2)
	require.Equal(t, http.StatusOK, w.Code)

	// Members cannot disband.
	w = doJSON(e.r, http.MethodDelete, sectPath(sectID, ""), nil, "Authorization", auth2)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(e.r, http.MethodDelete, sectPath(sectID, ""), nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(e.r, http.MethodGet, sectPath(sectID, ""), nil, "Authorization", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Mirrors cleared for everyone.
	p, err := e.profiles.Get(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.SectID)
}

func TestInvalidSectIDParam(t *testing.T) {
	e := newSectEnv(t)
	auth := e.seedPlayer(t, 1, "LiMu", 100)

	w := doJSON(e.r, http.MethodGet, "/api/sects/abc", nil, "Authorization", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
