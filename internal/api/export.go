package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/musebar/legaljournal/internal/export"
	"github.com/musebar/legaljournal/internal/settings"
	"go.uber.org/zap"
)

// ExportHandler exposes archive export generation, download and verification.
type ExportHandler struct {
	svc      *export.Service
	settings *settings.Service
	logger   *zap.Logger
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(svc *export.Service, st *settings.Service, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{svc: svc, settings: st, logger: logger}
}

// Register mounts the export routes on the given router group.
func (h *ExportHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/exports")
	{
		e.POST("", h.CreateExport)
		e.GET("", h.ListExports)
		e.GET("/:id", h.GetExport)
		e.GET("/:id/download", h.Download)
		e.POST("/:id/verify", h.VerifyExport)
	}
}

type createExportRequest struct {
	Type        export.Type   `json:"type"   binding:"required"`
	Format      export.Format `json:"format"`
	PeriodStart string        `json:"period_start"`
	PeriodEnd   string        `json:"period_end"`
	CreatedBy   string        `json:"created_by"`
}

// CreateExport handles POST /exports.
func (h *ExportHandler) CreateExport(c *gin.Context) {
	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Format == "" {
		req.Format = export.FormatJSON
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

	rec, err := h.svc.ExportData(ctx, export.Request{
		Type:        req.Type,
		Format:      req.Format,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedBy:   req.CreatedBy,
	})
	if errors.Is(err, export.ErrExportFailed) && rec != nil {
		h.logger.Warn("export failed", zap.String("id", rec.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "export": rec})
		return
	}
	if err != nil {
		writeError(c, h.logger, "create export", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListExports handles GET /exports?limit=.
func (h *ExportHandler) ListExports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	list, err := h.svc.ListExports(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, "list exports", err)
		return
	}
	if list == nil {
		list = []*export.Export{}
	}
	c.JSON(http.StatusOK, gin.H{"exports": list})
}

// GetExport handles GET /exports/:id.
func (h *ExportHandler) GetExport(c *gin.Context) {
	id, ok := exportID(c)
	if !ok {
		return
	}
	rec, err := h.svc.GetExportByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "get export", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Download handles GET /exports/:id/download and streams the archived file.
func (h *ExportHandler) Download(c *gin.Context) {
	id, ok := exportID(c)
	if !ok {
		return
	}
	rec, rc, err := h.svc.Open(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "open export", err)
		return
	}
	defer rc.Close()

	name := fmt.Sprintf("%s-%s.%s", rec.ExportType, rec.ID, rec.Format.Extension())
	c.DataFromReader(http.StatusOK, rec.FileSize, rec.Format.ContentType(), rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
		"X-Export-Sha256":     rec.FileHash,
		"X-Export-Signature":  rec.DigitalSignature,
	})
}

// VerifyExport handles POST /exports/:id/verify.
func (h *ExportHandler) VerifyExport(c *gin.Context) {
	id, ok := exportID(c)
	if !ok {
		return
	}
	res, err := h.svc.VerifyExport(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "verify export", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func exportID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid export id")
		return uuid.Nil, false
	}
	return id, true
}
