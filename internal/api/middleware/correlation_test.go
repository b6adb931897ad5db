package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	provided := uuid.New().String()
	tests := []struct {
		name    string
		headers map[string]string
		want    string // empty means a generated UUID
	}{
		{name: "GeneratesIDIfNotProvided"},
		{name: "UsesProvidedID", headers: map[string]string{CorrelationIDHeader: provided}, want: provided},
		{name: "FallsBackToRequestID", headers: map[string]string{RequestIDHeader: "req-42"}, want: "req-42"},
		{
			name:    "CorrelationIDWinsOverRequestID",
			headers: map[string]string{CorrelationIDHeader: provided, RequestIDHeader: "req-42"},
			want:    provided,
		},
		{name: "ReplacesMalformedID", headers: map[string]string{CorrelationIDHeader: "bad id\nlevel=ERROR"}},
		{name: "ReplacesOversizedID", headers: map[string]string{CorrelationIDHeader: strings.Repeat("a", 129)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CorrelationID())
			var fromGin, fromRequest string
			router.GET("/test", func(c *gin.Context) {
				fromGin = GetCorrelationID(c)
				fromRequest = logger.CorrelationID(c.Request.Context())
				c.Status(http.StatusOK)
			})

			req, _ := http.NewRequest(http.MethodGet, "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			id := rr.Header().Get(CorrelationIDHeader)
			if tt.want != "" {
				assert.Equal(t, tt.want, id)
			} else {
				_, err := uuid.Parse(id)
				assert.NoError(t, err, "generated correlation ID should be a UUID")
			}
			assert.Equal(t, id, fromGin)
			assert.Equal(t, id, fromRequest)
		})
	}
}

func TestGetCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ReturnsIDFromContextIfExists", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		expectedID := uuid.New().String()
		c.Set(CorrelationIDKey, expectedID)

		assert.Equal(t, expectedID, GetCorrelationID(c))
	})

	t.Run("ReturnsEmptyStringIfIDInContextIsNotString", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(CorrelationIDKey, 12345)

		assert.Empty(t, GetCorrelationID(c))
	})
}
