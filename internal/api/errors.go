package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/export"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/settings"
	"go.uber.org/zap"
)

// writeError maps domain errors onto HTTP statuses. Unclassified errors are
// logged and hidden behind a generic message.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, journal.ErrInvalidEntry),
		errors.Is(err, closure.ErrInvalidPeriod),
		errors.Is(err, export.ErrInvalidRequest),
		errors.Is(err, settings.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, journal.ErrNotFound),
		errors.Is(err, closure.ErrNotFound),
		errors.Is(err, export.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, closure.ErrDuplicateClosure):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, journal.ErrChainState):
		logger.Warn(op, zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is busy, retry the request"})
	default:
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
