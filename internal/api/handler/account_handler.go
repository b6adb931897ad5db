package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/komunitin/komunitin-sub000/internal/api/service"
)

// AccountHandler handles HTTP requests for account operations
type AccountHandler struct {
	accountService service.AccountService
	logger         *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, accountService service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

// Create opens an account in the currency. Only the currency admin may.
func (h *AccountHandler) Create(c *gin.Context) {
	var req AccountRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeAccounts) {
		return
	}

	code := c.Param("code")
	acc, err := h.accountService.CreateAccount(c.Request.Context(), middleware.GetActor(c), code, req.toInput())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	h.logger.Info("Account created", "currency", code, "account", acc.Code, "correlation_id", middleware.GetCorrelationID(c))
	RespondCreated(c, mapAccountToResource(acc))
}

// GetByID returns an account. Tags are only shown to its owners and the
// currency admin.
func (h *AccountHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	acc, err := h.accountService.GetAccount(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapAccountToResource(acc))
}

// Update changes the code, limits or settings of an account
func (h *AccountHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AccountRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeAccounts) {
		return
	}

	acc, err := h.accountService.UpdateAccount(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id, req.toUpdate())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapAccountToResource(acc))
}

// Delete removes an account whose balance is zero
func (h *AccountHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.accountService.DeleteAccount(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondNoContent(c)
}
