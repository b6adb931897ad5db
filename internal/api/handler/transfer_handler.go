package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/komunitin/komunitin-sub000/internal/api/service"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

// TransferHandler handles HTTP requests for transfer operations, both from
// local users and from other currency servers.
type TransferHandler struct {
	transferService service.TransferService
	logger          *slog.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(logger *slog.Logger, transferService service.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
		logger:          logger,
	}
}

// Create creates a transfer. A committed state asks for immediate
// settlement, a new state saves a draft.
func (h *TransferHandler) Create(c *gin.Context) {
	var req TransferRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeTransfers) {
		return
	}
	in, err := transferInput(req.Data)
	if err != nil {
		RespondBadRequest(c, "Invalid transfer ID")
		return
	}

	t, err := h.transferService.CreateTransfer(c.Request.Context(), middleware.GetActor(c), c.Param("code"), in)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondCreated(c, mapTransferToResource(t))
}

// CreateBatch creates several transfers at once and returns the ones that
// could be created.
func (h *TransferHandler) CreateBatch(c *gin.Context) {
	var req TransferBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ins := make([]accounting.TransferInput, 0, len(req.Data))
	for _, res := range req.Data {
		if res.Type != "" && res.Type != typeTransfers {
			RespondBadRequest(c, "Expected resources of type "+typeTransfers)
			return
		}
		in, err := transferInput(res)
		if err != nil {
			RespondBadRequest(c, "Invalid transfer ID")
			return
		}
		ins = append(ins, in)
	}

	created, err := h.transferService.CreateTransfers(c.Request.Context(), middleware.GetActor(c), c.Param("code"), ins)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	data := make([]federation.Resource[federation.TransferAttributes], 0, len(created))
	for _, t := range created {
		data = append(data, mapTransferToResource(t))
	}
	c.Header("Content-Type", federation.MediaType)
	c.JSON(http.StatusCreated, &Response{Data: data, Meta: &MetaInfo{
		CorrelationID: middleware.GetCorrelationID(c),
		Requested:     len(ins),
		Created:       len(created),
	}})
}

// GetByID returns a transfer visible to the actor
func (h *TransferHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	t, err := h.transferService.GetTransfer(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapTransferToResource(t))
}

// Update edits a draft or requests a state change
func (h *TransferHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req TransferPatchRequest
	if !bindDocument(c, &req, func() string { return req.Data.Type }, typeTransfers) {
		return
	}

	t, err := h.transferService.UpdateTransfer(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id, transferUpdate(req.Data))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondOK(c, mapTransferToResource(t))
}

// Delete moves a transfer to the deleted state
func (h *TransferHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.transferService.DeleteTransfer(c.Request.Context(), middleware.GetActor(c), c.Param("code"), id); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondNoContent(c)
}
