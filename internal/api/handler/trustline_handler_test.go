package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrustlineService struct {
	mock.Mock
}

func (m *MockTrustlineService) CreateTrustline(ctx context.Context, actor shared.Actor, code string, in accounting.TrustlineInput) (*trustline.Trustline, error) {
	args := m.Called(ctx, actor, code, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trustline.Trustline), args.Error(1)
}

func (m *MockTrustlineService) UpdateTrustline(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, limit int64) (*trustline.Trustline, error) {
	args := m.Called(ctx, actor, code, id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trustline.Trustline), args.Error(1)
}

func (m *MockTrustlineService) GetTrustline(ctx context.Context, code string, id uuid.UUID) (*trustline.Trustline, error) {
	args := m.Called(ctx, code, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trustline.Trustline), args.Error(1)
}

func (m *MockTrustlineService) ListTrustlines(ctx context.Context, code string) ([]*trustline.Trustline, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*trustline.Trustline), args.Error(1)
}

func testTrustline() *trustline.Trustline {
	now := time.Now()
	return &trustline.Trustline{ID: uuid.New(), TrustedID: uuid.NewString(), Limit: 1000, Balance: 20, CreatedAt: now, UpdatedAt: now}
}

func TestTrustlineHandler_Create(t *testing.T) {
	admin := shared.UserActor("admin")
	line := testTrustline()
	href := "https://remote.example.org/EXTR/currency"

	tests := []struct {
		name       string
		body       string
		setupMocks func(m *MockTrustlineService)
		wantStatus int
	}{
		{
			name: "Success",
			body: `{"data":{"type":"trustlines","attributes":{"limit":1000},"relationships":{"trusted":{"data":{"type":"currencies","id":"` +
				line.TrustedID + `","meta":{"external":true,"href":"` + href + `"}}}}}}`,
			setupMocks: func(m *MockTrustlineService) {
				m.On("CreateTrustline", mock.Anything, admin, "TEST", accounting.TrustlineInput{
					Trusted: federation.ExternalIdentifier(line.TrustedID, "currencies", href),
					Limit:   1000,
				}).Return(line, nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "MissingTrusted",
			body:       `{"data":{"type":"trustlines","attributes":{"limit":1000}}}`,
			setupMocks: func(m *MockTrustlineService) {},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockTrustlineService)
			tt.setupMocks(mockService)
			handler := NewTrustlineHandler(testLogger, mockService)

			router := setupTestRouter()
			router.POST("/:code/trustlines", withActor(admin), handler.Create)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/TEST/trustlines", bytes.NewBufferString(tt.body)))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusCreated {
				var res federation.Resource[TrustlineAttributes]
				decodeData(t, rr, &res)
				assert.Equal(t, int64(1000), res.Attributes.Limit)
				assert.Equal(t, int64(20), res.Attributes.Balance)
				trusted, ok := res.Related("trusted")
				require.True(t, ok)
				assert.Equal(t, line.TrustedID, trusted.ID)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestTrustlineHandler_ListAndUpdate(t *testing.T) {
	admin := shared.UserActor("admin")
	line := testTrustline()

	mockService := new(MockTrustlineService)
	mockService.On("ListTrustlines", mock.Anything, "TEST").Return([]*trustline.Trustline{line}, nil)
	mockService.On("UpdateTrustline", mock.Anything, admin, "TEST", line.ID, int64(2000)).Return(line, nil)
	handler := NewTrustlineHandler(testLogger, mockService)

	router := setupTestRouter()
	router.GET("/:code/trustlines", withActor(admin), handler.List)
	router.PATCH("/:code/trustlines/:id", withActor(admin), handler.Update)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/TEST/trustlines", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	var list []federation.Resource[TrustlineAttributes]
	decodeData(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, line.ID.String(), list[0].ID)

	rr = httptest.NewRecorder()
	body := `{"data":{"type":"trustlines","attributes":{"limit":2000}}}`
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/TEST/trustlines/"+line.ID.String(), bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusOK, rr.Code)

	mockService.AssertExpectations(t)
}
