package horizon

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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return NewClient(logger, server.URL, 5*time.Second)
}

func TestClient_LoadAccount(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/accounts/GABC", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"GABC","sequence":42,"balances":[{"asset":{"code":"TEST","issuer":"GISS"},"balance":"12.5","is_authorized":true}]}`)
		})

		entry, err := client.LoadAccount(context.Background(), "GABC")
		require.NoError(t, err)
		assert.Equal(t, int64(42), entry.Sequence)
		balance, ok := entry.BalanceOf(settlement.Asset{Code: "TEST", Issuer: "GISS"})
		assert.True(t, ok)
		assert.True(t, balance.Equal(decimal.RequireFromString("12.5")))
	})

	t.Run("NotFound", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"title":"Resource Missing","status":404}`)
		})

		_, err := client.LoadAccount(context.Background(), "GNONE")
		assert.ErrorIs(t, err, settlement.ErrAccountNotFound{Address: "GNONE"})
	})
}

func TestClient_SubmitTransaction(t *testing.T) {
	kp, err := settlement.RandomKeypair()
	require.NoError(t, err)
	tx := &settlement.Transaction{
		Source:   kp.Address(),
		Sequence: 7,
		Operations: []settlement.Operation{
			&settlement.Payment{Destination: "GDEST", Asset: settlement.Asset{Code: "TEST", Issuer: "GISS"}, Amount: decimal.NewFromInt(3)},
		},
		MaxTime: time.Unix(1700000000, 0),
	}
	env, err := settlement.NewEnvelope("test", tx)
	require.NoError(t, err)
	require.NoError(t, env.Sign(kp))

	t.Run("Success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			var got settlement.Envelope
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, int64(7), got.Tx.Sequence)
			require.Len(t, got.Tx.Operations, 1)
			payment, ok := got.Tx.Operations[0].(*settlement.Payment)
			require.True(t, ok)
			assert.Equal(t, "GDEST", payment.Destination)
			_, _ = io.WriteString(w, `{"hash":"abc","ledger":10}`)
		})

		res, err := client.SubmitTransaction(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, "abc", res.Hash)
		assert.Equal(t, int64(10), res.Ledger)
	})

	t.Run("TransactionFailed", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"title":"Transaction Failed","status":400,"extras":{"result_codes":{"transaction":"tx_failed","operations":["op_underfunded"]}}}`)
		})

		_, err := client.SubmitTransaction(context.Background(), env)
		var ne *settlement.NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, http.StatusBadRequest, ne.Status)
		assert.Equal(t, "tx_failed", ne.TransactionCode)
		assert.True(t, ne.HasOperationCode(settlement.OpUnderfunded))
	})

	t.Run("TooManyRequests", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.SubmitTransaction(context.Background(), env)
		var ne *settlement.NetworkError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, http.StatusTooManyRequests, ne.Status)
		assert.Equal(t, 2*time.Second, ne.RetryAfter)
	})
}

func TestClient_FindStrictReceivePaths(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paths/strict-receive", r.URL.Path)
		assert.Equal(t, "TEST:GISS", r.URL.Query().Get("source_assets"))
		assert.Equal(t, "OTHR", r.URL.Query().Get("destination_asset_code"))
		assert.Equal(t, "5", r.URL.Query().Get("destination_amount"))
		_, _ = io.WriteString(w, `{"_embedded":{"records":[{"source_asset":{"code":"TEST","issuer":"GISS"},"source_amount":"50","destination_asset":{"code":"OTHR","issuer":"GOTH"},"destination_amount":"5","path":[{"code":"HOUR","issuer":"GHR"}]}]}}`)
	})

	records, err := client.FindStrictReceivePaths(context.Background(),
		[]settlement.Asset{{Code: "TEST", Issuer: "GISS"}},
		settlement.Asset{Code: "OTHR", Issuer: "GOTH"},
		decimal.NewFromInt(5))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].SourceAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, []settlement.Asset{{Code: "HOUR", Issuer: "GHR"}}, records[0].Path)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryAfter(""))
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, time.Duration(0), retryAfter("soon"))
}
