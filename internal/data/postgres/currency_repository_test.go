package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrencyRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &CurrencyRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	cur, err := currency.NewCurrency(testTenant, "Test", "Tests", "T", 2, 4, currency.Rate{N: 1, D: 10}, "admin")
	require.NoError(t, err)
	cur.Keys = &currency.Keys{Issuer: "GISSUER", Credit: "GCREDIT", Admin: "GADMIN", ExternalIssuer: "GEXTI", ExternalTrader: "GEXTT"}
	cur.EncryptionKeyID = "enc-key"

	insertArgs := []any{testTenant, cur.ID, cur.Status, cur.Name, cur.NamePlural, cur.Symbol, 2, 4, int64(1), int64(10),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		"enc-key", "admin", cur.ExternalAccountID, cur.CreatedAt, cur.UpdatedAt}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO currencies")).
			WithArgs(insertArgs...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, cur))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO currencies")).WithArgs(insertArgs...).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, cur)
		assert.ErrorAs(t, err, &currency.ErrDuplicateCurrency{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other tenant", func(t *testing.T) {
		other := *cur
		other.Code = "OTHR"
		assert.Error(t, repo.Create(ctx, &other))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCurrencyRepository_Get(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &CurrencyRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	id, external := uuid.New(), uuid.New()
	now := time.Now()
	issuer, credit, admin, extIssuer, extTrader := "GISSUER", "GCREDIT", "GADMIN", "GEXTI", "GEXTT"
	columns := []string{"id", "tenant_id", "status", "name", "name_plural", "symbol", "decimals", "scale", "rate_n", "rate_d",
		"settings", "issuer_key_id", "credit_key_id", "admin_key_id", "external_issuer_key_id", "external_trader_key_id",
		"encryption_key_id", "admin_id", "external_account_id", "created_at", "updated_at"}
	query := q("FROM currencies WHERE tenant_id = $1")

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows(columns).AddRow(id, testTenant, currency.StatusActive, "Test", "Tests", "T", 2, 4, int64(1), int64(10),
			[]byte(`{"defaultInitialCreditLimit":1000,"enableExternalPayments":true}`),
			&issuer, &credit, &admin, &extIssuer, &extTrader, "enc-key", "admin", external, now, now)
		mock.ExpectQuery(query).WithArgs(testTenant).WillReturnRows(rows)

		cur, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, testTenant, cur.Code)
		assert.True(t, cur.IsActive())
		assert.Equal(t, currency.Rate{N: 1, D: 10}, cur.Rate)
		assert.Equal(t, int64(1000), cur.Settings.DefaultInitialCreditLimit)
		require.NotNil(t, cur.Keys)
		assert.Equal(t, "GCREDIT", cur.Keys.Credit)
		assert.Equal(t, "GEXTT", cur.Keys.ExternalTrader)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(testTenant).WillReturnError(pgx.ErrNoRows)

		_, err := repo.Get(ctx)
		assert.ErrorIs(t, err, currency.ErrCurrencyNotFound{Code: testTenant})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCurrencyRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &CurrencyRepository{querier: mock, logger: newTestLogger(), tenant: testTenant}
	cur := &currency.Currency{Code: testTenant, Status: currency.StatusActive, Rate: currency.Rate{N: 1, D: 1}, UpdatedAt: time.Now()}

	mock.ExpectExec(q("UPDATE currencies")).
		WithArgs(currency.StatusActive, "", "", "", 0, int64(1), int64(1), pgxmock.AnyArg(),
			(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), cur.UpdatedAt, testTenant).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Update(ctx, cur), currency.ErrCurrencyNotFound{})

	dbErr := errors.New("boom")
	mock.ExpectExec(q("UPDATE currencies")).WithArgs(anyArgs(15)...).WillReturnError(dbErr)
	assert.ErrorIs(t, repo.Update(ctx, cur), dbErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrencyDirectory(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := &CurrencyDirectory{querier: mock, logger: newTestLogger()}

	mock.ExpectQuery(q("SELECT tenant_id FROM currencies WHERE status = $1")).
		WithArgs(currency.StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id"}).AddRow("AAAA").AddRow("TEST"))
	codes, err := dir.ListCodes(ctx, currency.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA", "TEST"}, codes)

	mock.ExpectQuery(q("SELECT EXISTS")).WithArgs("NONE").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	ok, err := dir.Exists(ctx, "NONE")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
