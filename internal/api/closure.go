package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/settings"
	"go.uber.org/zap"
)

// ClosureHandler exposes closure bulletins.
type ClosureHandler struct {
	svc      *closure.Service
	settings *settings.Service
	logger   *zap.Logger
}

// NewClosureHandler creates a new ClosureHandler. Dates without a time are
// interpreted in the time zone of the closure settings.
func NewClosureHandler(svc *closure.Service, st *settings.Service, logger *zap.Logger) *ClosureHandler {
	return &ClosureHandler{svc: svc, settings: st, logger: logger}
}

// Register mounts the closure routes on the given router group.
func (h *ClosureHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/closures", h.CreateClosure)
	rg.GET("/closures", h.ListBulletins)
}

type createClosureRequest struct {
	ClosureType closure.Type `json:"closure_type" binding:"required"`
	// Either Date (any instant or day inside the period) or both bounds.
	Date        string `json:"date"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	ClosedBy    string `json:"closed_by"`
}

// CreateClosure handles POST /closures.
func (h *ClosureHandler) CreateClosure(c *gin.Context) {
	var req createClosureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	cfg, err := h.settings.Get(ctx)
	if err != nil {
		writeError(c, h.logger, "load closure settings", err)
		return
	}
	loc, err := cfg.Location()
	if err != nil {
		writeError(c, h.logger, "load closure settings", err)
		return
	}

	start, err := parseTime(req.PeriodStart, loc)
	if err != nil {
		badRequest(c, "period_start: "+err.Error())
		return
	}
	end, err := parseTime(req.PeriodEnd, loc)
	if err != nil {
		badRequest(c, "period_end: "+err.Error())
		return
	}
	if req.Date != "" {
		day, err := parseTime(req.Date, loc)
		if err != nil {
			badRequest(c, "date: "+err.Error())
			return
		}
		if start, end, err = closure.PeriodFor(req.ClosureType, day, loc); err != nil {
			writeError(c, h.logger, "create closure", err)
			return
		}
	} else if start.IsZero() || end.IsZero() {
		badRequest(c, "either date or both period_start and period_end are required")
		return
	}

	b, err := h.svc.CreateClosure(ctx, req.ClosureType, start, end, req.ClosedBy)
	if err != nil {
		writeError(c, h.logger, "create closure", err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBulletins handles GET /closures?type=.
func (h *ClosureHandler) ListBulletins(c *gin.Context) {
	bulletins, err := h.svc.GetBulletins(c.Request.Context(), closure.Type(c.Query("type")))
	if err != nil {
		writeError(c, h.logger, "list closure bulletins", err)
		return
	}
	if bulletins == nil {
		bulletins = []*closure.Bulletin{}
	}
	c.Header("X-Total-Count", strconv.Itoa(len(bulletins)))
	c.JSON(http.StatusOK, gin.H{"bulletins": bulletins})
}
