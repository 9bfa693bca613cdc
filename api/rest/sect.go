package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xianrealm/sectd/audit"
	mw "github.com/xianrealm/sectd/middleware"
	"github.com/xianrealm/sectd/sect"
)

// SectHandler handles sect REST endpoints.
type SectHandler struct {
	svc   *sect.Service
	audit *audit.Service
}

// NewSectHandler creates a new SectHandler.
func NewSectHandler(svc *sect.Service, auditSvc *audit.Service) *SectHandler {
	return &SectHandler{svc: svc, audit: auditSvc}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sect.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, sect.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sect.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, sect.ErrConflict), errors.Is(err, sect.ErrState):
		return http.StatusConflict
	case errors.Is(err, sect.ErrCollaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *SectHandler) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// logOp records one audit entry for a sect operation.
func (h *SectHandler) logOp(c *gin.Context, action string, sectID, targetID int64, detail interface{}, opErr error) {
	actorID := mw.GetPlayerID(c)
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		ActorID: &actorID,
		Action:  action,
		Detail:  detail,
		IP:      c.ClientIP(),
	}
	if sectID != 0 {
		entry.SectID = &sectID
	}
	if targetID != 0 {
		entry.TargetID = &targetID
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	h.audit.Log(entry)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

type createSectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"max=500"`
}

// Create handles POST /api/sects.
func (h *SectHandler) Create(c *gin.Context) {
	var req createSectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	playerID := mw.GetPlayerID(c)
	v, err := h.svc.CreateSect(c.Request.Context(), playerID, req.Name, req.Description)
	h.logOp(c, "sect.create", v.ID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// List handles GET /api/sects.
func (h *SectHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sects": h.svc.List()})
}

// Detail handles GET /api/sects/:id.
func (h *SectHandler) Detail(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.Get(sectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Mine handles GET /api/sects/mine.
func (h *SectHandler) Mine(c *gin.Context) {
	v, ok := h.svc.SectOf(mw.GetPlayerID(c))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in a sect"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// Join handles POST /api/sects/:id/join.
func (h *SectHandler) Join(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	playerID := mw.GetPlayerID(c)
	v, err := h.svc.JoinSect(c.Request.Context(), playerID, sectID)
	h.logOp(c, "sect.join", sectID, 0, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Leave handles POST /api/sects/leave.
func (h *SectHandler) Leave(c *gin.Context) {
	playerID := mw.GetPlayerID(c)
	err := h.svc.LeaveSect(c.Request.Context(), playerID)
	h.logOp(c, "sect.leave", 0, 0, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left"})
}

// Disband handles DELETE /api/sects/:id.
func (h *SectHandler) Disband(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	err := h.svc.DisbandSect(c.Request.Context(), mw.GetPlayerID(c), sectID)
	h.logOp(c, "sect.disband", sectID, 0, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "disbanded"})
}

// Kick handles DELETE /api/sects/:id/members/:pid.
func (h *SectHandler) Kick(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "pid")
	if !ok {
		return
	}
	err := h.svc.KickMember(c.Request.Context(), mw.GetPlayerID(c), sectID, targetID)
	h.logOp(c, "sect.kick", sectID, targetID, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "kicked"})
}

// Promote handles POST /api/sects/:id/members/:pid/promote.
func (h *SectHandler) Promote(c *gin.Context) {
	h.changeRank(c, "sect.promote", h.svc.Promote)
}

// Demote handles POST /api/sects/:id/members/:pid/demote.
func (h *SectHandler) Demote(c *gin.Context) {
	h.changeRank(c, "sect.demote", h.svc.Demote)
}

func (h *SectHandler) changeRank(c *gin.Context, action string, op func(ctx context.Context, actorID, sectID, targetID int64) (sect.Rank, sect.Rank, error)) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "pid")
	if !ok {
		return
	}
	before, after, err := op(c.Request.Context(), mw.GetPlayerID(c), sectID, targetID)
	h.logOp(c, action, sectID, targetID, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"before": before.String(),
		"after":  after.String(),
	})
}

type invitePlayerRequest struct {
	PlayerID int64 `json:"player_id" binding:"required"`
}

// Invite handles POST /api/sects/:id/invites.
func (h *SectHandler) Invite(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req invitePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.InvitePlayer(c.Request.Context(), mw.GetPlayerID(c), sectID, req.PlayerID)
	h.logOp(c, "sect.invite", sectID, req.PlayerID, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invited"})
}

// AcceptInvite handles POST /api/sects/:id/invites/accept.
func (h *SectHandler) AcceptInvite(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	playerID := mw.GetPlayerID(c)
	v, err := h.svc.AcceptInvite(c.Request.Context(), playerID, sectID)
	h.logOp(c, "sect.invite_accept", sectID, 0, nil, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type donateRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Donate handles POST /api/sects/:id/donate.
func (h *SectHandler) Donate(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req donateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Donate(c.Request.Context(), sectID, mw.GetPlayerID(c), req.Amount)
	h.logOp(c, "sect.donate", sectID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type spendRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"max=200"`
}

// Spend handles POST /api/sects/:id/spend.
func (h *SectHandler) Spend(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	remaining, err := h.svc.SpendFunds(c.Request.Context(), mw.GetPlayerID(c), sectID, req.Amount, req.Reason)
	h.logOp(c, "sect.spend", sectID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funds": remaining})
}

type announcementRequest struct {
	Text string `json:"text" binding:"max=512"`
}

// SetAnnouncement handles PUT /api/sects/:id/announcement.
func (h *SectHandler) SetAnnouncement(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.SetAnnouncement(c.Request.Context(), mw.GetPlayerID(c), sectID, req.Text)
	h.logOp(c, "sect.announcement", sectID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

type recruitingRequest struct {
	Recruiting *bool `json:"recruiting" binding:"required"`
}

// SetRecruiting handles PUT /api/sects/:id/recruiting.
func (h *SectHandler) SetRecruiting(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req recruitingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.SetRecruiting(c.Request.Context(), mw.GetPlayerID(c), sectID, *req.Recruiting)
	h.logOp(c, "sect.recruiting", sectID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

type pvpRequest struct {
	PvPEnabled *bool `json:"pvp_enabled" binding:"required"`
}

// SetPvP handles PUT /api/sects/:id/pvp.
func (h *SectHandler) SetPvP(c *gin.Context) {
	sectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req pvpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.svc.SetPvP(c.Request.Context(), mw.GetPlayerID(c), sectID, *req.PvPEnabled)
	h.logOp(c, "sect.pvp", sectID, 0, req, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}
