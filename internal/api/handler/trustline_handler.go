package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/komunitin/komunitin-sub000/internal/api/service"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

// TrustlineHandler handles HTTP requests for trustlines to other currencies
type TrustlineHandler struct {
	trustlineService service.TrustlineService
	logger           *slog.Logger
}

// NewTrustlineHandler creates a new trustline handler
func NewTrustlineHandler(logger *slog.Logger, trustlineService service.TrustlineService) *TrustlineHandler {
	return &TrustlineHandler{
		trustlineService: trustlineService,
		logger:           logger,
	}
}

// Create trusts the currency in the trusted relationship, which must be
// external and carry its href.
func (h *TrustlineHandler) Create(c *gin.Context) {
	var req TrustlineRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeTrustlines) {
		return
	}
	trusted, ok := req.Data.Related("trusted")
	if !ok {
		RespondBadRequest(c, "Missing trusted currency")
		return
	}

	line, err := h.trustlineService.CreateTrustline(c.Request.Context(), middleware.GetActor(c), c.Param("code"), accounting.TrustlineInput{
		Trusted: trusted,
		Limit:   req.Data.Attributes.Limit,
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondCreated(c, mapTrustlineToResource(line))
}

func (h *TrustlineHandler) List(c *gin.Context) {
	lines, err := h.trustlineService.ListTrustlines(c.Request.Context(), c.Param("code"))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	data := make([]federation.Resource[TrustlineAttributes], 0, len(lines))
	for _, line := range lines {
		data = append(data, mapTrustlineToResource(line))
	}
	RespondOK(c, data)
}

func (h *TrustlineHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	line, err := h.trustlineService.GetTrustline(c.Request.Context(), c.Param("code"), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapTrustlineToResource(line))
}

// Update changes the trustline limit
func (h *TrustlineHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req TrustlineRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeTrustlines) {
		return
	}

	line, err := h.trustlineService.UpdateTrustline(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id, req.Data.Attributes.Limit)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapTrustlineToResource(line))
}
