package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/api/middleware"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

// Response is a JSON:API top level document.
type Response struct {
	Data   interface{}  `json:"data,omitempty"`
	Errors []*ErrorInfo `json:"errors,omitempty"`
	Meta   *MetaInfo    `json:"meta,omitempty"`
}

// ErrorInfo is a JSON:API error object
type ErrorInfo struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// MetaInfo carries request metadata
type MetaInfo struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Requested     int    `json:"requested,omitempty"`
	Created       int    `json:"created,omitempty"`
}

var kindStatus = map[shared.ErrorKind]int{
	shared.KindBadRequest:          http.StatusBadRequest,
	shared.KindForbidden:           http.StatusForbidden,
	shared.KindUnauthorized:        http.StatusUnauthorized,
	shared.KindNotFound:            http.StatusNotFound,
	shared.KindInvalidTransition:   http.StatusConflict,
	shared.KindInsufficientBalance: http.StatusUnprocessableEntity,
	shared.KindNoTrustPath:         http.StatusUnprocessableEntity,
	shared.KindTransactionExpired:  http.StatusGatewayTimeout,
	shared.KindSettlementError:     http.StatusBadGateway,
	shared.KindInternal:            http.StatusInternalServerError,
}

// StatusOf maps the kind of err to an HTTP status.
func StatusOf(err error) int {
	if status, ok := kindStatus[shared.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func meta(c *gin.Context) *MetaInfo {
	if id := middleware.GetCorrelationID(c); id != "" {
		return &MetaInfo{CorrelationID: id}
	}
	return nil
}

// RespondWithData sends a JSON:API document with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.Header("Content-Type", federation.MediaType)
	c.JSON(statusCode, &Response{Data: data, Meta: meta(c)})
}

// RespondWithError sends a JSON:API document with one error
func RespondWithError(c *gin.Context, statusCode int, code, title, detail string) {
	c.Header("Content-Type", federation.MediaType)
	c.JSON(statusCode, &Response{
		Errors: []*ErrorInfo{{
			Status: strconv.Itoa(statusCode),
			Code:   code,
			Title:  title,
			Detail: detail,
		}},
		Meta: meta(c),
	})
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data
func RespondCreated(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusCreated, data)
}

// RespondNoContent sends a 204 No Content response
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondBadRequest sends a 400 Bad Request response with an error
func RespondBadRequest(c *gin.Context, detail string) {
	RespondWithError(c, http.StatusBadRequest, string(shared.KindBadRequest), "Bad request", detail)
}

// RespondServiceError classifies err and sends the matching error response.
// Internal errors are logged and their details hidden.
func RespondServiceError(c *gin.Context, logger *slog.Logger, err error) {
	status := StatusOf(err)
	kind := shared.KindOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Failed to serve request", "error", err, "kind", kind, "path", c.Request.URL.Path,
			"correlation_id", middleware.GetCorrelationID(c))
	}
	if kind == shared.KindInternal {
		RespondWithError(c, status, string(kind), "Internal error", "An internal server error occurred")
		return
	}
	title := http.StatusText(status)
	var se *shared.Error
	if errors.As(err, &se) && se.Message != "" {
		title = se.Message
	}
	RespondWithError(c, status, string(kind), title, err.Error())
}
