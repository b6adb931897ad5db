package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

// CurrencyRepository implements currency.Repository. The tenant id of a
// currency is its own code.
type CurrencyRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
	tenant  string
}

func NewCurrencyRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) currency.Repository {
	return &CurrencyRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

func (r *CurrencyRepository) WithTx(tx pgx.Tx) currency.Repository {
	return &CurrencyRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

func keyColumns(k *currency.Keys) [5]*string {
	if k == nil {
		return [5]*string{}
	}
	return [5]*string{
		nullString(k.Issuer),
		nullString(k.Credit),
		nullString(k.Admin),
		nullString(k.ExternalIssuer),
		nullString(k.ExternalTrader),
	}
}

// Create stores the currency of the bound tenant.
func (r *CurrencyRepository) Create(ctx context.Context, c *currency.Currency) error {
	if c.Code != r.tenant {
		return fmt.Errorf("currency %s does not belong to tenant %s", c.Code, r.tenant)
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode currency settings: %w", err)
	}
	keys := keyColumns(c.Keys)

	query := `
		INSERT INTO currencies (tenant_id, id, status, name, name_plural, symbol, decimals, scale, rate_n, rate_d, settings,
			issuer_key_id, credit_key_id, admin_key_id, external_issuer_key_id, external_trader_key_id,
			encryption_key_id, admin_id, external_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = r.querier.Exec(ctx, query,
		c.Code,
		c.ID,
		c.Status,
		c.Name,
		c.NamePlural,
		c.Symbol,
		c.Decimals,
		c.Scale,
		c.Rate.N,
		c.Rate.D,
		settings,
		keys[0], keys[1], keys[2], keys[3], keys[4],
		c.EncryptionKeyID,
		c.AdminID,
		c.ExternalAccountID,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return currency.ErrDuplicateCurrency{Code: c.Code}
		}
		r.logger.Error("Failed to create currency", "code", c.Code, "error", err)
		return fmt.Errorf("failed to create currency: %w", err)
	}

	return nil
}

// Get loads the currency of the bound tenant
func (r *CurrencyRepository) Get(ctx context.Context) (*currency.Currency, error) {
	query := `
		SELECT id, tenant_id, status, name, name_plural, symbol, decimals, scale, rate_n, rate_d, settings,
			issuer_key_id, credit_key_id, admin_key_id, external_issuer_key_id, external_trader_key_id,
			encryption_key_id, admin_id, external_account_id, created_at, updated_at
		FROM currencies
		WHERE tenant_id = $1
	`

	var c currency.Currency
	var settings []byte
	var keys [5]*string
	err := r.querier.QueryRow(ctx, query, r.tenant).Scan(
		&c.ID,
		&c.Code,
		&c.Status,
		&c.Name,
		&c.NamePlural,
		&c.Symbol,
		&c.Decimals,
		&c.Scale,
		&c.Rate.N,
		&c.Rate.D,
		&settings,
		&keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&c.EncryptionKeyID,
		&c.AdminID,
		&c.ExternalAccountID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, currency.ErrCurrencyNotFound{Code: r.tenant}
		}
		r.logger.Error("Failed to get currency", "code", r.tenant, "error", err)
		return nil, fmt.Errorf("failed to get currency: %w", err)
	}

	if err := json.Unmarshal(settings, &c.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode currency settings: %w", err)
	}
	if keys[0] != nil {
		c.Keys = &currency.Keys{
			Issuer:         deref(keys[0]),
			Credit:         deref(keys[1]),
			Admin:          deref(keys[2]),
			ExternalIssuer: deref(keys[3]),
			ExternalTrader: deref(keys[4]),
		}
	}

	return &c, nil
}

// Update stores the mutable attributes of the currency. The code, scale and
// admin never change.
func (r *CurrencyRepository) Update(ctx context.Context, c *currency.Currency) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode currency settings: %w", err)
	}
	keys := keyColumns(c.Keys)

	query := `
		UPDATE currencies
		SET status = $1, name = $2, name_plural = $3, symbol = $4, decimals = $5, rate_n = $6, rate_d = $7, settings = $8,
			issuer_key_id = $9, credit_key_id = $10, admin_key_id = $11, external_issuer_key_id = $12,
			external_trader_key_id = $13, updated_at = $14
		WHERE tenant_id = $15
	`
	result, err := r.querier.Exec(ctx, query,
		c.Status,
		c.Name,
		c.NamePlural,
		c.Symbol,
		c.Decimals,
		c.Rate.N,
		c.Rate.D,
		settings,
		keys[0], keys[1], keys[2], keys[3], keys[4],
		c.UpdatedAt,
		r.tenant,
	)
	if err != nil {
		r.logger.Error("Failed to update currency", "code", r.tenant, "error", err)
		return fmt.Errorf("failed to update currency: %w", err)
	}

	if result.RowsAffected() == 0 {
		return currency.ErrCurrencyNotFound{Code: r.tenant}
	}

	return nil
}

// CurrencyDirectory implements currency.Directory over all tenants.
type CurrencyDirectory struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewCurrencyDirectory(logger *slog.Logger, db *persistence.PostgresDB) currency.Directory {
	return &CurrencyDirectory{
		querier: db.Pool(),
		logger:  logger,
	}
}

// ListCodes returns the codes of the currencies in the given status, sorted.
func (d *CurrencyDirectory) ListCodes(ctx context.Context, status currency.Status) ([]string, error) {
	rows, err := d.querier.Query(ctx, `SELECT tenant_id FROM currencies WHERE status = $1 ORDER BY tenant_id`, status)
	if err != nil {
		d.logger.Error("Failed to list currencies", "error", err)
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan currency code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over currencies: %w", err)
	}

	return codes, nil
}

func (d *CurrencyDirectory) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := d.querier.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM currencies WHERE tenant_id = $1)`, code).Scan(&exists)
	if err != nil {
		d.logger.Error("Failed to check currency", "code", code, "error", err)
		return false, fmt.Errorf("failed to check currency: %w", err)
	}
	return exists, nil
}
