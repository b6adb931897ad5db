package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/secret"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

// SecretRepository stores the encrypted keys of one currency
type SecretRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
	tenant  string
}

func NewSecretRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) secret.Repository {
	return &SecretRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

func (r *SecretRepository) WithTx(tx pgx.Tx) secret.Repository {
	return &SecretRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

func (r *SecretRepository) Create(ctx context.Context, s *secret.Secret) error {
	query := `
		INSERT INTO secrets (tenant_id, id, encrypted, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.querier.Exec(ctx, query, r.tenant, s.ID, s.Encrypted, s.CreatedAt); err != nil {
		r.logger.Error("Failed to store secret", "id", s.ID, "error", err)
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

func (r *SecretRepository) Get(ctx context.Context, id string) (*secret.Secret, error) {
	query := `
		SELECT id, encrypted, created_at
		FROM secrets
		WHERE tenant_id = $1 AND id = $2
	`

	var s secret.Secret
	err := r.querier.QueryRow(ctx, query, r.tenant, id).Scan(&s.ID, &s.Encrypted, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, secret.ErrSecretNotFound{ID: id}
		}
		r.logger.Error("Failed to get secret", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	return &s, nil
}
