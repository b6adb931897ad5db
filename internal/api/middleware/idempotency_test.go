package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/data/cache"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Get(ctx context.Context, key string) (*cache.Response, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cache.Response), args.Error(1)
}

func (m *MockIdempotencyStore) Lock(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockIdempotencyStore) Save(ctx context.Context, key string, resp *cache.Response) error {
	return m.Called(ctx, key, resp).Error(0)
}

func TestIdempotency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	const key = "user:user-1:POST:/TEST/transfers:k1"
	created := &cache.Response{Status: http.StatusCreated, ContentType: "application/json; charset=utf-8", Body: []byte(`{"ok":true}`)}

	tests := []struct {
		name        string
		header      string
		handlerCode int
		setupMocks  func(m *MockIdempotencyStore)
		wantStatus  int
		wantCalls   int
		wantReplay  bool
	}{
		{
			name:        "NoKey",
			handlerCode: http.StatusCreated,
			setupMocks:  func(m *MockIdempotencyStore) {},
			wantStatus:  http.StatusCreated,
			wantCalls:   1,
		},
		{
			name:        "FirstRequestIsStored",
			header:      "k1",
			handlerCode: http.StatusCreated,
			setupMocks: func(m *MockIdempotencyStore) {
				m.On("Get", mock.Anything, key).Return(nil, nil)
				m.On("Lock", mock.Anything, key).Return(true, nil)
				m.On("Save", mock.Anything, key, created).Return(nil)
				m.On("Unlock", mock.Anything, key).Return(nil)
			},
			wantStatus: http.StatusCreated,
			wantCalls:  1,
		},
		{
			name:        "RepeatedRequestIsReplayed",
			header:      "k1",
			handlerCode: http.StatusCreated,
			setupMocks: func(m *MockIdempotencyStore) {
				m.On("Get", mock.Anything, key).Return(created, nil)
			},
			wantStatus: http.StatusCreated,
			wantReplay: true,
		},
		{
			name:        "ConcurrentRequestConflicts",
			header:      "k1",
			handlerCode: http.StatusCreated,
			setupMocks: func(m *MockIdempotencyStore) {
				m.On("Get", mock.Anything, key).Return(nil, nil)
				m.On("Lock", mock.Anything, key).Return(false, nil)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:        "ServerErrorsAreNotStored",
			header:      "k1",
			handlerCode: http.StatusBadGateway,
			setupMocks: func(m *MockIdempotencyStore) {
				m.On("Get", mock.Anything, key).Return(nil, nil)
				m.On("Lock", mock.Anything, key).Return(true, nil)
				m.On("Unlock", mock.Anything, key).Return(nil)
			},
			wantStatus: http.StatusBadGateway,
			wantCalls:  1,
		},
		{
			name:        "StoreUnavailable",
			header:      "k1",
			handlerCode: http.StatusCreated,
			setupMocks: func(m *MockIdempotencyStore) {
				m.On("Get", mock.Anything, key).Return(nil, errors.New("connection refused"))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockIdempotencyStore)
			tt.setupMocks(store)

			calls := 0
			router := gin.New()
			router.Use(func(c *gin.Context) {
				c.Set(ActorKey, shared.UserActor("user-1"))
			})
			router.Use(Idempotency(logger, store))
			router.POST("/TEST/transfers", func(c *gin.Context) {
				calls++
				c.JSON(tt.handlerCode, gin.H{"ok": true})
			})

			req, _ := http.NewRequest(http.MethodPost, "/TEST/transfers", nil)
			if tt.header != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantReplay {
				assert.Equal(t, "true", rr.Header().Get(IdempotentReplayHeader))
				assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
			}
			store.AssertExpectations(t)
		})
	}
}
