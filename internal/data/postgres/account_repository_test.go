package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "TEST"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

// anyArgs matches a statement with n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var accountRowColumns = []string{"id", "code", "type", "status", "key_id", "credit_limit", "maximum_balance", "balance", "settings", "users", "created_at", "updated_at"}

func accountRow(acc *account.Account) *pgxmock.Rows {
	return pgxmock.NewRows(accountRowColumns).AddRow(
		acc.ID, acc.Code, acc.Type, acc.Status, acc.KeyID, acc.CreditLimit, acc.MaximumBalance,
		acc.Balance, []byte(`{"acceptPaymentsAutomatically":true}`), acc.Users, acc.CreatedAt, acc.UpdatedAt,
	)
}

func testAccount() *account.Account {
	now := time.Now()
	return &account.Account{
		ID:             uuid.New(),
		Code:           "TEST0001",
		Type:           account.TypeUser,
		Status:         account.StatusActive,
		KeyID:          "GACCOUNTKEY",
		CreditLimit:    1000,
		MaximumBalance: (*int64)(nil),
		Balance:        -100,
		Users:          []string{"user-1"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	acc := testAccount()
	insertArgs := []any{testTenant, acc.ID, acc.Code, acc.Type, acc.Status, acc.KeyID, acc.CreditLimit,
		acc.MaximumBalance, acc.Balance, pgxmock.AnyArg(), acc.CreatedAt, acc.UpdatedAt}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO accounts")).
			WithArgs(insertArgs...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(q("INSERT INTO account_users")).
			WithArgs(testTenant, acc.ID, acc.Users).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, acc))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate code", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO accounts")).
			WithArgs(insertArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, acc)
		assert.ErrorIs(t, err, account.ErrDuplicateCode{Code: acc.Code})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(q("INSERT INTO accounts")).
			WithArgs(insertArgs...).
			WillReturnError(expectedErr)

		err := repo.Create(ctx, acc)
		assert.Contains(t, err.Error(), "failed to create account")
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	expected := testAccount()
	query := q("FROM accounts a") + ".*" + q("a.id = $2")

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).WillReturnRows(accountRow(expected))

		acc, err := repo.GetByID(ctx, expected.ID)
		require.NoError(t, err)
		assert.Equal(t, expected.Code, acc.Code)
		assert.Equal(t, expected.Users, acc.Users)
		assert.Equal(t, int64(-100), acc.Balance)
		require.NotNil(t, acc.Settings.AcceptPaymentsAutomatically)
		assert.True(t, *acc.Settings.AcceptPaymentsAutomatically)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).WillReturnError(pgx.ErrNoRows)

		acc, err := repo.GetByID(ctx, expected.ID)
		assert.Nil(t, acc)
		assert.ErrorIs(t, err, account.ErrAccountNotFound{Ref: expected.ID.String()})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("some db error")
		mock.ExpectQuery(query).WithArgs(testTenant, expected.ID).WillReturnError(dbErr)

		acc, err := repo.GetByID(ctx, expected.ID)
		assert.Nil(t, acc)
		assert.Contains(t, err.Error(), "failed to get account")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Lookups(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	expected := testAccount()

	mock.ExpectQuery(q("a.code = $2")).WithArgs(testTenant, expected.Code).WillReturnRows(accountRow(expected))
	acc, err := repo.GetByCode(ctx, expected.Code)
	require.NoError(t, err)
	assert.Equal(t, expected.ID, acc.ID)

	mock.ExpectQuery(q("a.key_id = $2")).WithArgs(testTenant, expected.KeyID).WillReturnRows(accountRow(expected))
	acc, err = repo.GetByKey(ctx, expected.KeyID)
	require.NoError(t, err)
	assert.Equal(t, expected.ID, acc.ID)

	mock.ExpectQuery(q("JOIN account_tags t")).WithArgs(testTenant, "hash").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetByTagHash(ctx, "hash")
	assert.ErrorIs(t, err, account.ErrAccountNotFound{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	acc := testAccount()
	updateArgs := []any{acc.Code, acc.Status, acc.CreditLimit, acc.MaximumBalance, acc.Balance, pgxmock.AnyArg(),
		acc.UpdatedAt, testTenant, acc.ID}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(updateArgs...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.Update(ctx, acc))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(q("UPDATE accounts")).
			WithArgs(updateArgs...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, acc)
		assert.ErrorIs(t, err, account.ErrAccountNotFound{Ref: acc.ID.String()})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_UpdateBalance(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	id := uuid.New()

	mock.ExpectExec(q("SET balance = $1")).
		WithArgs(int64(250), testTenant, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.UpdateBalance(ctx, id, 250))

	dbErr := errors.New("connection reset")
	mock.ExpectExec(q("SET balance = $1")).WithArgs(int64(250), testTenant, id).WillReturnError(dbErr)
	err = repo.UpdateBalance(ctx, id, 250)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "failed to update account balance")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Tags(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	id := uuid.New()
	tags := []account.Tag{{ID: uuid.New(), Name: "card", Hash: "h1"}, {ID: uuid.New(), Name: "sticker", Hash: "h2"}}

	t.Run("replace", func(t *testing.T) {
		mock.ExpectExec(q("DELETE FROM account_tags")).WithArgs(testTenant, id).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		for _, tag := range tags {
			mock.ExpectExec(q("INSERT INTO account_tags")).WithArgs(testTenant, tag.ID, id, tag.Name, tag.Hash).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}

		assert.NoError(t, repo.ReplaceTags(ctx, id, tags))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hash used by another account", func(t *testing.T) {
		mock.ExpectExec(q("DELETE FROM account_tags")).WithArgs(testTenant, id).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(q("INSERT INTO account_tags")).WithArgs(testTenant, tags[0].ID, id, tags[0].Name, tags[0].Hash).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.ReplaceTags(ctx, id, tags[:1])
		assert.ErrorIs(t, err, account.ErrRepeatedTag)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id", "name", "hash"}).
			AddRow(tags[0].ID, tags[0].Name, tags[0].Hash).
			AddRow(tags[1].ID, tags[1].Name, tags[1].Hash)
		mock.ExpectQuery(q("FROM account_tags")).WithArgs(testTenant, id).WillReturnRows(rows)

		got, err := repo.ListTags(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, tags, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_MaxCodeNumber(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}

	mock.ExpectQuery(q("COALESCE(MAX(substring(code from $2)::bigint), -1)")).
		WithArgs(testTenant, 5, "^TEST[0-9]+$").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(41)))

	n, err := repo.MaxCodeNumber(ctx, "TEST")
	require.NoError(t, err)
	assert.Equal(t, 41, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_WithTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &AccountRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}

	mock.ExpectBegin()
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	txRepo, ok := repo.WithTx(tx).(*AccountRepository)
	require.True(t, ok)
	assert.Equal(t, tx, txRepo.querier)
	assert.Equal(t, testTenant, txRepo.tenant)
}
