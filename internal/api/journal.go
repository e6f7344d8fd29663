package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JournalHandler exposes the append and read endpoints of the legal journal.
type JournalHandler struct {
	svc      *journal.Service
	verifier *journal.Verifier
	logger   *zap.Logger
}

// NewJournalHandler creates a new JournalHandler.
func NewJournalHandler(svc *journal.Service, verifier *journal.Verifier, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{svc: svc, verifier: verifier, logger: logger}
}

// Register mounts the journal routes on the given router group.
func (h *JournalHandler) Register(rg *gin.RouterGroup) {
	j := rg.Group("/journal")
	{
		j.GET("", h.Overview)
		j.GET("/verify", h.Verify)
		j.GET("/entries", h.ListEntries)
		j.POST("/entries", h.AddEntry)
		j.GET("/entries/:seq", h.GetEntry)
	}
}

type addEntryRequest struct {
	TransactionType journal.TransactionType `json:"transaction_type" binding:"required"`
	OrderID         *string                 `json:"order_id"`
	Amount          decimal.Decimal         `json:"amount"`
	VATAmount       decimal.Decimal         `json:"vat_amount"`
	PaymentMethod   journal.PaymentMethod   `json:"payment_method" binding:"required"`
	Metadata        map[string]any          `json:"metadata"`
}

// AddEntry handles POST /journal/entries.
func (h *JournalHandler) AddEntry(c *gin.Context) {
	var req addEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	e, err := h.svc.AddEntry(c.Request.Context(), journal.EntryInput{
		Type:          req.TransactionType,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		VATAmount:     req.VATAmount,
		PaymentMethod: req.PaymentMethod,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeError(c, h.logger, "append journal entry", err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// Overview handles GET /journal and returns the chain length and tip hash.
func (h *JournalHandler) Overview(c *gin.Context) {
	o, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "journal overview", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListEntries handles GET /journal/entries?from=&to=&since=&until=&type=&limit=.
func (h *JournalHandler) ListEntries(c *gin.Context) {
	var (
		q   journal.Query
		err error
	)
	if q.From, err = queryInt64(c.Query("from")); err != nil {
		badRequest(c, "from: "+err.Error())
		return
	}
	if q.To, err = queryInt64(c.Query("to")); err != nil {
		badRequest(c, "to: "+err.Error())
		return
	}
	if q.Since, err = parseTime(c.Query("since"), time.UTC); err != nil {
		badRequest(c, "since: "+err.Error())
		return
	}
	if q.Until, err = parseTime(c.Query("until"), time.UTC); err != nil {
		badRequest(c, "until: "+err.Error())
		return
	}
	if t := c.Query("type"); t != "" {
		q.Type = journal.TransactionType(t)
		if !q.Type.Valid() {
			badRequest(c, "unknown transaction type "+strconv.Quote(t))
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries, err := h.svc.ListEntries(c.Request.Context(), q, limit)
	if err != nil {
		writeError(c, h.logger, "list journal entries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetEntry handles GET /journal/entries/:seq.
func (h *JournalHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		badRequest(c, "seq must be a positive integer")
		return
	}
	e, err := h.svc.GetEntry(c.Request.Context(), seq)
	if err != nil {
		writeError(c, h.logger, "get journal entry", err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Verify handles GET /journal/verify?from=&to=. A compromised chain is a
// successful response with is_valid=false, not an error.
func (h *JournalHandler) Verify(c *gin.Context) {
	from, err := queryInt64(c.Query("from"))
	if err != nil {
		badRequest(c, "from: "+err.Error())
		return
	}
	to, err := queryInt64(c.Query("to"))
	if err != nil {
		badRequest(c, "to: "+err.Error())
		return
	}
	report, err := h.verifier.Verify(c.Request.Context(), journal.Range{From: from, To: to})
	if err != nil {
		writeError(c, h.logger, "verify journal", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
