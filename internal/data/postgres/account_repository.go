package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

const accountColumns = `a.id, a.code, a.type, a.status, a.key_id, a.credit_limit, a.maximum_balance, a.balance, a.settings,
		ARRAY(SELECT u.user_id FROM account_users u WHERE u.tenant_id = a.tenant_id AND u.account_id = a.id ORDER BY u.user_id),
		a.created_at, a.updated_at`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
	tenant  string
}

// NewAccountRepository creates an account repository bound to the currency
// with the given code.
func NewAccountRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) account.Repository {
	return &AccountRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

// WithTx returns a copy of the repository running its queries in tx.
func (r *AccountRepository) WithTx(tx pgx.Tx) account.Repository {
	return &AccountRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

// Create stores the account and its users. Run it inside a transaction.
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	settings, err := json.Marshal(acc.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode account settings: %w", err)
	}

	query := `
		INSERT INTO accounts (tenant_id, id, code, type, status, key_id, credit_limit, maximum_balance, balance, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.querier.Exec(ctx, query,
		r.tenant,
		acc.ID,
		acc.Code,
		acc.Type,
		acc.Status,
		acc.KeyID,
		acc.CreditLimit,
		acc.MaximumBalance,
		acc.Balance,
		settings,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return account.ErrDuplicateCode{Code: acc.Code}
		}
		r.logger.Error("Failed to create account", "code", acc.Code, "error", err)
		return fmt.Errorf("failed to create account: %w", err)
	}

	return r.insertUsers(ctx, acc.ID, acc.Users)
}

func (r *AccountRepository) insertUsers(ctx context.Context, id uuid.UUID, users []string) error {
	query := `
		INSERT INTO account_users (tenant_id, account_id, user_id)
		SELECT $1, $2, unnest($3::text[])
	`
	if _, err := r.querier.Exec(ctx, query, r.tenant, id, users); err != nil {
		r.logger.Error("Failed to store account users", "id", id.String(), "error", err)
		return fmt.Errorf("failed to store account users: %w", err)
	}
	return nil
}

// GetByID retrieves an active account by its id
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.tenant_id = $1 AND a.id = $2 AND a.status = 'active'`

	return r.getOne(ctx, id.String(), query, r.tenant, id)
}

// GetByCode retrieves an active account by its code
func (r *AccountRepository) GetByCode(ctx context.Context, code string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.tenant_id = $1 AND a.code = $2 AND a.status = 'active'`

	return r.getOne(ctx, code, query, r.tenant, code)
}

// GetByKey retrieves an active account by its ledger address
func (r *AccountRepository) GetByKey(ctx context.Context, key string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.tenant_id = $1 AND a.key_id = $2 AND a.status = 'active'`

	return r.getOne(ctx, key, query, r.tenant, key)
}

// GetByTagHash retrieves the active account owning the tag with the given hash
func (r *AccountRepository) GetByTagHash(ctx context.Context, hash string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		JOIN account_tags t ON t.tenant_id = a.tenant_id AND t.account_id = a.id
		WHERE a.tenant_id = $1 AND t.hash = $2 AND a.status = 'active'`

	return r.getOne(ctx, hash, query, r.tenant, hash)
}

func (r *AccountRepository) getOne(ctx context.Context, ref, query string, args ...any) (*account.Account, error) {
	acc, err := scanAccount(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound{Ref: ref}
		}
		r.logger.Error("Failed to get account", "ref", ref, "error", err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	var settings []byte
	err := row.Scan(
		&acc.ID,
		&acc.Code,
		&acc.Type,
		&acc.Status,
		&acc.KeyID,
		&acc.CreditLimit,
		&acc.MaximumBalance,
		&acc.Balance,
		&settings,
		&acc.Users,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &acc.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode account settings: %w", err)
		}
	}
	return &acc, nil
}

// Update stores the mutable attributes of the account. Users are not touched.
func (r *AccountRepository) Update(ctx context.Context, acc *account.Account) error {
	settings, err := json.Marshal(acc.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode account settings: %w", err)
	}

	query := `
		UPDATE accounts
		SET code = $1, status = $2, credit_limit = $3, maximum_balance = $4, balance = $5, settings = $6, updated_at = $7
		WHERE tenant_id = $8 AND id = $9
	`
	result, err := r.querier.Exec(ctx, query,
		acc.Code,
		acc.Status,
		acc.CreditLimit,
		acc.MaximumBalance,
		acc.Balance,
		settings,
		acc.UpdatedAt,
		r.tenant,
		acc.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return account.ErrDuplicateCode{Code: acc.Code}
		}
		r.logger.Error("Failed to update account", "id", acc.ID.String(), "error", err)
		return fmt.Errorf("failed to update account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrAccountNotFound{Ref: acc.ID.String()}
	}

	return nil
}

// UpdateBalance overwrites the cached balance with a value read from the ledger.
func (r *AccountRepository) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	query := `
		UPDATE accounts
		SET balance = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3
	`

	result, err := r.querier.Exec(ctx, query, balance, r.tenant, id)
	if err != nil {
		r.logger.Error("Failed to update account balance", "id", id.String(), "error", err)
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return account.ErrAccountNotFound{Ref: id.String()}
	}

	return nil
}

// ReplaceTags swaps the whole tag set of the account. Run it inside a transaction.
func (r *AccountRepository) ReplaceTags(ctx context.Context, id uuid.UUID, tags []account.Tag) error {
	_, err := r.querier.Exec(ctx, `DELETE FROM account_tags WHERE tenant_id = $1 AND account_id = $2`, r.tenant, id)
	if err != nil {
		r.logger.Error("Failed to delete account tags", "id", id.String(), "error", err)
		return fmt.Errorf("failed to delete account tags: %w", err)
	}

	query := `
		INSERT INTO account_tags (tenant_id, id, account_id, name, hash)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, tag := range tags {
		if _, err := r.querier.Exec(ctx, query, r.tenant, tag.ID, id, tag.Name, tag.Hash); err != nil {
			if isUniqueViolation(err) {
				return account.ErrRepeatedTag
			}
			r.logger.Error("Failed to store account tag", "id", id.String(), "tag", tag.Name, "error", err)
			return fmt.Errorf("failed to store account tag: %w", err)
		}
	}

	return nil
}

// ListTags returns the tags of the account ordered by name
func (r *AccountRepository) ListTags(ctx context.Context, id uuid.UUID) ([]account.Tag, error) {
	query := `
		SELECT id, name, hash
		FROM account_tags
		WHERE tenant_id = $1 AND account_id = $2
		ORDER BY name
	`

	rows, err := r.querier.Query(ctx, query, r.tenant, id)
	if err != nil {
		r.logger.Error("Failed to list account tags", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to list account tags: %w", err)
	}
	defer rows.Close()

	tags := []account.Tag{}
	for rows.Next() {
		var tag account.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Hash); err != nil {
			r.logger.Error("Failed to scan account tag", "error", err)
			return nil, fmt.Errorf("failed to scan account tag: %w", err)
		}
		tags = append(tags, tag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over account tags: %w", err)
	}

	return tags, nil
}

// MaxCodeNumber returns the largest numeric suffix among codes <prefix><digits>,
// deleted accounts included, or -1 when there is none.
func (r *AccountRepository) MaxCodeNumber(ctx context.Context, prefix string) (int, error) {
	query := `
		SELECT COALESCE(MAX(substring(code from $2)::bigint), -1)
		FROM accounts
		WHERE tenant_id = $1 AND code ~ $3
	`

	var n int64
	err := r.querier.QueryRow(ctx, query, r.tenant, len(prefix)+1, "^"+prefix+"[0-9]+$").Scan(&n)
	if err != nil {
		r.logger.Error("Failed to get max account code", "prefix", prefix, "error", err)
		return 0, fmt.Errorf("failed to get max account code: %w", err)
	}

	return int(n), nil
}
