package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xianrealm/sectd/sect"
	"github.com/xianrealm/sectd/sect/task"
)

// AdminHandler handles operator endpoints behind the admin key.
type AdminHandler struct {
	reconciler *sect.Reconciler
	sched      *task.Scheduler
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(rec *sect.Reconciler, sched *task.Scheduler) *AdminHandler {
	return &AdminHandler{reconciler: rec, sched: sched}
}

// Reconcile handles GET /api/admin/reconcile.
// Reports divergences without repairing anything.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	divs, err := h.reconciler.Check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"divergences": divs,
		"count":       len(divs),
	})
}

// ReconcileRepair handles POST /api/admin/reconcile/repair.
func (h *AdminHandler) ReconcileRepair(c *gin.Context) {
	repaired, err := h.reconciler.RepairAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    err.Error(),
			"repaired": repaired,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

// Refresh handles POST /api/admin/refresh/:cadence.
// Forces a task refresh outside the scheduled boundary.
func (h *AdminHandler) Refresh(c *gin.Context) {
	cadence := task.Cadence(c.Param("cadence"))
	if cadence != task.CadenceDaily && cadence != task.CadenceWeekly {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cadence must be daily or weekly"})
		return
	}

	refreshed, err := h.sched.Refresh(c.Request.Context(), cadence)
	if errors.Is(err, task.ErrRefreshInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"refreshed": refreshed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cadence":   cadence,
		"refreshed": refreshed,
	})
}

// RefreshStatus handles GET /api/admin/refresh/status.
func (h *AdminHandler) RefreshStatus(c *gin.Context) {
	rec, err := h.sched.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
