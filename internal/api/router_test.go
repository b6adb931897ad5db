package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/api/service"
	"github.com/komunitin/komunitin-sub000/internal/config"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable fails the test if a route reaches the service layer.
type unreachable struct {
	service.AccountingService
}

func newTestServer(t *testing.T) (*Server, *federation.UserTokens) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	users := federation.NewUserTokens("test-secret", "test")
	cfg := &config.Config{
		Application: config.ApplicationConfig{Env: "test"},
		Server:      config.ServerConfig{Port: 0, ShutdownTimeout: time.Second},
	}
	return NewServer(logger, cfg, unreachable{}, Auth{Users: users, Servers: federation.NewExternalVerifier()}), users
}

func TestRouter(t *testing.T) {
	server, users := newTestServer(t)
	token, err := users.Create("user-1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantBody   string
	}{
		{name: "Health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{name: "Metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK, wantBody: "accounting_http_requests_total"},
		{name: "AnonymousWrite", method: http.MethodPost, path: "/TEST/transfers", wantStatus: http.StatusUnauthorized},
		{name: "AnonymousCurrencyCreation", method: http.MethodPost, path: "/currencies", wantStatus: http.StatusUnauthorized},
		{name: "InvalidToken", method: http.MethodGet, path: "/TEST/accounts/x", token: "not-a-jwt", wantStatus: http.StatusUnauthorized},
		{name: "PublicAccountRead", method: http.MethodGet, path: "/TEST/accounts/not-a-uuid", wantStatus: http.StatusBadRequest},
		{name: "AuthenticatedTransferRead", method: http.MethodGet, path: "/TEST/transfers/not-a-uuid", token: token, wantStatus: http.StatusBadRequest},
		{name: "UnknownRoute", method: http.MethodGet, path: "/TEST/unknown/1", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(`{}`))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
			if tt.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRouter_HealthChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := &config.Config{Application: config.ApplicationConfig{Env: "test"}}

	server := NewServer(logger, cfg, unreachable{}, Auth{},
		HealthCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
		HealthCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"unavailable"`)
	assert.Contains(t, rr.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, rr.Body.String(), `"redis":"connection refused"`)
}
