package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transferRowColumns = []string{"id", "state", "amount", "meta", "hash", "payer_id", "payee_id", "external_payer_id",
	"external_payee_id", "auth_type", "auth_hash", "user_id", "created_at", "updated_at"}

func testTransfer() *transfer.Transfer {
	now := time.Now()
	return &transfer.Transfer{
		ID:        uuid.New(),
		State:     transfer.StateNew,
		Amount:    100,
		Meta:      "lunch",
		PayerID:   uuid.New(),
		PayeeID:   uuid.New(),
		UserID:    "user-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func transferRow(rows *pgxmock.Rows, t *transfer.Transfer, hash, authType, authHash *string) *pgxmock.Rows {
	return rows.AddRow(t.ID, t.State, t.Amount, t.Meta, hash, t.PayerID, t.PayeeID, (*string)(nil), (*string)(nil),
		authType, authHash, t.UserID, t.CreatedAt, t.UpdatedAt)
}

func TestTransferRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransferRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	tr := testTransfer()
	tr.Authorization = &transfer.Authorization{Type: transfer.AuthorizationTag, Hash: "taghash"}

	tagType, tagHash := transfer.AuthorizationTag, "taghash"
	insertArgs := []any{testTenant, tr.ID, tr.State, tr.Amount, tr.Meta, (*string)(nil), tr.PayerID, tr.PayeeID,
		(*string)(nil), (*string)(nil), &tagType, &tagHash, tr.UserID, tr.CreatedAt, tr.UpdatedAt}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO transfers")).
			WithArgs(insertArgs...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, tr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO transfers")).WithArgs(insertArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, tr)
		var dup transfer.ErrDuplicateTransfer
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, tr.ID, dup.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransferRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	expected := testTransfer()
	query := q("FROM transfers WHERE tenant_id = $1 AND id = $2")

	t.Run("success", func(t *testing.T) {
		hash, authType, authHash := "abc", transfer.AuthorizationTag, "taghash"
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).
			WillReturnRows(transferRow(pgxmock.NewRows(transferRowColumns), expected, &hash, &authType, &authHash))

		tr, err := repo.GetByID(ctx, expected.ID)
		require.NoError(t, err)
		assert.Equal(t, "abc", tr.Hash)
		assert.Equal(t, &transfer.Authorization{Type: "tag", Hash: "taghash"}, tr.Authorization)
		assert.Empty(t, tr.ExternalPayeeID)
		assert.Equal(t, expected.Amount, tr.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).WillReturnError(pgx.ErrNoRows)

		tr, err := repo.GetByID(ctx, expected.ID)
		assert.Nil(t, tr)
		assert.ErrorIs(t, err, transfer.ErrTransferNotFound{Ref: expected.ID.String()})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("some db error")
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).WillReturnError(dbErr)

		_, err := repo.GetByID(ctx, expected.ID)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to get transfer")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferRepository_UpdateState(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransferRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	tr := testTransfer()
	tr.State = transfer.StateSubmitted
	hash := (*string)(nil)
	update := q("SET state = $1, hash = $2")
	current := q("SELECT state FROM transfers WHERE tenant_id = $1 AND id = $2")

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(update).
			WithArgs(transfer.StateSubmitted, hash, tr.UpdatedAt, testTenant, tr.ID, transfer.StateNew).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.UpdateState(ctx, tr, transfer.StateNew))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("moved by another request", func(t *testing.T) {
		mock.ExpectExec(update).
			WithArgs(transfer.StateSubmitted, hash, tr.UpdatedAt, testTenant, tr.ID, transfer.StateNew).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(current).WithArgs(testTenant, tr.ID).
			WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("committed"))

		err := repo.UpdateState(ctx, tr, transfer.StateNew)
		assert.ErrorIs(t, err, transfer.ErrInvalidTransition{From: transfer.StateCommitted, To: transfer.StateSubmitted})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(update).
			WithArgs(transfer.StateSubmitted, hash, tr.UpdatedAt, testTenant, tr.ID, transfer.StateNew).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(current).WithArgs(testTenant, tr.ID).WillReturnError(pgx.ErrNoRows)

		assert.ErrorIs(t, repo.UpdateState(ctx, tr, transfer.StateNew), transfer.ErrTransferNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransferRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	tr := testTransfer()
	tr.Amount = 250

	mock.ExpectExec(q("UPDATE transfers")).
		WithArgs(tr.State, int64(250), tr.Meta, (*string)(nil), tr.PayerID, tr.PayeeID, (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil), tr.UpdatedAt, testTenant, tr.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Update(ctx, tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferRepository_ListPending(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransferRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	first, second := testTransfer(), testTransfer()
	first.State, second.State = transfer.StatePending, transfer.StatePending

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows(transferRowColumns)
		transferRow(rows, first, nil, nil, nil)
		transferRow(rows, second, nil, nil, nil)
		mock.ExpectQuery(q("ORDER BY updated_at ASC")).
			WithArgs(testTenant, transfer.StatePending, 100).
			WillReturnRows(rows)

		transfers, err := repo.ListPending(ctx, 100)
		require.NoError(t, err)
		require.Len(t, transfers, 2)
		assert.Equal(t, first.ID, transfers[0].ID)
		assert.Nil(t, transfers[0].Authorization)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		dbErr := errors.New("timeout")
		mock.ExpectQuery(q("ORDER BY updated_at ASC")).
			WithArgs(testTenant, transfer.StatePending, 100).
			WillReturnError(dbErr)

		_, err := repo.ListPending(ctx, 100)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
