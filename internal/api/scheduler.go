package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/musebar/legaljournal/internal/scheduler"
	"github.com/musebar/legaljournal/internal/settings"
	"go.uber.org/zap"
)

// SchedulerHandler controls the automatic closure scheduler and its settings.
type SchedulerHandler struct {
	sched    *scheduler.Scheduler
	settings *settings.Service
	// base outlives any request; the scheduler loop is started from it.
	base   context.Context
	logger *zap.Logger
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(base context.Context, sched *scheduler.Scheduler, st *settings.Service, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, settings: st, base: base, logger: logger}
}

// Register mounts the scheduler and settings routes on the given router group.
func (h *SchedulerHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/scheduler")
	{
		s.GET("", h.Status)
		s.POST("/start", h.Start)
		s.POST("/stop", h.Stop)
		s.POST("/check", h.Check)
	}
	rg.GET("/settings/closure", h.GetSettings)
	rg.PUT("/settings/closure", h.UpdateSettings)
}

// Status handles GET /scheduler.
func (h *SchedulerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

// Start handles POST /scheduler/start. Starting a running scheduler is a no-op.
func (h *SchedulerHandler) Start(c *gin.Context) {
	started := h.sched.Start(h.base)
	c.JSON(http.StatusOK, gin.H{"changed": started, "status": h.sched.Status()})
}

// Stop handles POST /scheduler/stop.
func (h *SchedulerHandler) Stop(c *gin.Context) {
	stopped := h.sched.Stop()
	c.JSON(http.StatusOK, gin.H{"changed": stopped, "status": h.sched.Status()})
}

// Check handles POST /scheduler/check and runs one tick synchronously.
func (h *SchedulerHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.TriggerManualCheck(c.Request.Context()))
}

// GetSettings handles GET /settings/closure.
func (h *SchedulerHandler) GetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "load closure settings", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// UpdateSettings handles PUT /settings/closure. Omitted fields keep their
// current value.
func (h *SchedulerHandler) UpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	cur, err := h.settings.Get(ctx)
	if err != nil {
		writeError(c, h.logger, "load closure settings", err)
		return
	}
	if err := c.ShouldBindJSON(&cur); err != nil {
		badRequest(c, err.Error())
		return
	}
	next, err := h.settings.Update(ctx, cur, c.GetHeader("X-Actor"))
	if err != nil {
		writeError(c, h.logger, "update closure settings", err)
		return
	}
	c.JSON(http.StatusOK, next)
}
