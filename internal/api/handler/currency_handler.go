package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/komunitin/komunitin-sub000/internal/api/service"
)

// CurrencyHandler handles HTTP requests for currency operations
type CurrencyHandler struct {
	currencyService service.CurrencyService
	logger          *slog.Logger
}

// NewCurrencyHandler creates a new currency handler
func NewCurrencyHandler(logger *slog.Logger, currencyService service.CurrencyService) *CurrencyHandler {
	return &CurrencyHandler{
		currencyService: currencyService,
		logger:          logger,
	}
}

// Create creates a currency administered by the requesting user
func (h *CurrencyHandler) Create(c *gin.Context) {
	var req CurrencyRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeCurrencies) {
		return
	}

	cur, err := h.currencyService.CreateCurrency(c.Request.Context(), middleware.GetActor(c), req.Data.Attributes.toInput())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	h.logger.Info("Currency created", "code", cur.Code, "correlation_id", middleware.GetCorrelationID(c))
	RespondCreated(c, mapCurrencyToResource(cur))
}

// Get returns the currency. Other currency servers read it to convert
// amounts and find its ledger keys.
func (h *CurrencyHandler) Get(c *gin.Context) {
	cur, err := h.currencyService.GetCurrency(c.Request.Context(), c.Param("code"))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapCurrencyToResource(cur))
}

func (h *CurrencyHandler) Update(c *gin.Context) {
	var req CurrencyRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeCurrencies) {
		return
	}

	cur, err := h.currencyService.UpdateCurrency(c.Request.Context(), middleware.GetActor(c), c.Param("code"), req.Data.Attributes.toUpdate())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapCurrencyToResource(cur))
}
