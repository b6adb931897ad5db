package notifications

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

func TestFromEntry(t *testing.T) {
	entry := &journal.Entry{
		TransferID: uuid.New(),
		Currency:   "TEST",
		PayerID:    uuid.New(),
		PayeeID:    uuid.New(),
		UserID:     "user-1",
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		state  string
		want   EventName
		wantOK bool
	}{
		{state: "committed", want: TransferCommitted, wantOK: true},
		{state: "pending", want: TransferPending, wantOK: true},
		{state: "rejected", want: TransferRejected, wantOK: true},
		{state: "submitted"},
		{state: "new"},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			entry.State = tt.state
			e, ok := FromEntry(entry, "http://accounting")
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, e.Name)
			assert.Equal(t, "TEST", e.Code)
			assert.Equal(t, entry.TransferID.String(), e.Data["transfer"])
			assert.Equal(t, "user-1", e.User)
		})
	}
}

func TestClient_Send(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	event := &Event{
		Name:   TransferCommitted,
		Source: "http://accounting",
		Time:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Code:   "TEST",
		Data:   map[string]string{"transfer": "t-1"},
		User:   "user-1",
	}

	t.Run("Delivered", func(t *testing.T) {
		var got federation.Document[eventAttributes]
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/events", r.URL.Path)
			assert.Equal(t, federation.MediaType, r.Header.Get("Content-Type"))
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "notifier", user)
			assert.Equal(t, "secret", pass)
			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		client := NewClient(logger, Config{URL: server.URL + "/", Username: "notifier", Password: "secret"}, server.Client())
		require.NoError(t, client.Send(context.Background(), event))

		assert.Equal(t, "events", got.Data.Type)
		assert.Equal(t, TransferCommitted, got.Data.Attributes.Name)
		assert.Equal(t, "2024-03-01T10:00:00Z", got.Data.Attributes.Time)
		user, ok := got.Data.Related("user")
		require.True(t, ok)
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("Rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient(logger, Config{URL: server.URL}, server.Client())
		err := client.Send(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})
}
