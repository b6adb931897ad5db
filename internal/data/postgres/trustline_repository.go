package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

// TrustlineRepository implements trustline.Repository for PostgreSQL
type TrustlineRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
	tenant  string
}

func NewTrustlineRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) trustline.Repository {
	return &TrustlineRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

func (r *TrustlineRepository) WithTx(tx pgx.Tx) trustline.Repository {
	return &TrustlineRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

func (r *TrustlineRepository) Create(ctx context.Context, t *trustline.Trustline) error {
	query := `
		INSERT INTO trustlines (tenant_id, id, trusted_id, trust_limit, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.querier.Exec(ctx, query, r.tenant, t.ID, t.TrustedID, t.Limit, t.Balance, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return trustline.ErrDuplicateTrustline{TrustedID: t.TrustedID}
		}
		r.logger.Error("Failed to create trustline", "trusted", t.TrustedID, "error", err)
		return fmt.Errorf("failed to create trustline: %w", err)
	}
	return nil
}

func (r *TrustlineRepository) GetByID(ctx context.Context, id uuid.UUID) (*trustline.Trustline, error) {
	query := `
		SELECT id, trusted_id, trust_limit, balance, created_at, updated_at
		FROM trustlines
		WHERE tenant_id = $1 AND id = $2
	`
	return r.getOne(ctx, id.String(), query, r.tenant, id)
}

// GetByTrusted retrieves the trustline towards the currency with the given
// external resource id
func (r *TrustlineRepository) GetByTrusted(ctx context.Context, trustedID string) (*trustline.Trustline, error) {
	query := `
		SELECT id, trusted_id, trust_limit, balance, created_at, updated_at
		FROM trustlines
		WHERE tenant_id = $1 AND trusted_id = $2
	`
	return r.getOne(ctx, trustedID, query, r.tenant, trustedID)
}

func (r *TrustlineRepository) getOne(ctx context.Context, ref, query string, args ...any) (*trustline.Trustline, error) {
	var t trustline.Trustline
	err := r.querier.QueryRow(ctx, query, args...).Scan(&t.ID, &t.TrustedID, &t.Limit, &t.Balance, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trustline.ErrTrustlineNotFound{Ref: ref}
		}
		r.logger.Error("Failed to get trustline", "ref", ref, "error", err)
		return nil, fmt.Errorf("failed to get trustline: %w", err)
	}
	return &t, nil
}

func (r *TrustlineRepository) Update(ctx context.Context, t *trustline.Trustline) error {
	query := `
		UPDATE trustlines
		SET trust_limit = $1, balance = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5
	`
	result, err := r.querier.Exec(ctx, query, t.Limit, t.Balance, t.UpdatedAt, r.tenant, t.ID)
	if err != nil {
		r.logger.Error("Failed to update trustline", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to update trustline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return trustline.ErrTrustlineNotFound{Ref: t.ID.String()}
	}
	return nil
}

func (r *TrustlineRepository) List(ctx context.Context) ([]*trustline.Trustline, error) {
	query := `
		SELECT id, trusted_id, trust_limit, balance, created_at, updated_at
		FROM trustlines
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := r.querier.Query(ctx, query, r.tenant)
	if err != nil {
		r.logger.Error("Failed to list trustlines", "error", err)
		return nil, fmt.Errorf("failed to list trustlines: %w", err)
	}
	defer rows.Close()

	lines := []*trustline.Trustline{}
	for rows.Next() {
		var t trustline.Trustline
		if err := rows.Scan(&t.ID, &t.TrustedID, &t.Limit, &t.Balance, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trustline: %w", err)
		}
		lines = append(lines, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over trustlines: %w", err)
	}
	return lines, nil
}
