package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/external"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

// ExternalRepository caches resources of other currency servers
type ExternalRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
	tenant  string
}

func NewExternalRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) external.Repository {
	return &ExternalRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

func (r *ExternalRepository) WithTx(tx pgx.Tx) external.Repository {
	return &ExternalRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

func (r *ExternalRepository) Get(ctx context.Context, id string, typ external.Type) (*external.Resource, error) {
	query := `
		SELECT id, type, href, document, updated_at
		FROM external_resources
		WHERE tenant_id = $1 AND id = $2 AND type = $3
	`

	var res external.Resource
	var document []byte
	err := r.querier.QueryRow(ctx, query, r.tenant, id, typ).Scan(&res.ID, &res.Type, &res.Href, &document, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, external.ErrResourceNotFound{ID: id}
		}
		r.logger.Error("Failed to get external resource", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get external resource: %w", err)
	}
	res.Document = document

	return &res, nil
}

// Upsert stores the resource or refreshes the cached copy.
func (r *ExternalRepository) Upsert(ctx context.Context, res *external.Resource) error {
	query := `
		INSERT INTO external_resources (tenant_id, id, type, href, document, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET type = EXCLUDED.type, href = EXCLUDED.href, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`
	_, err := r.querier.Exec(ctx, query, r.tenant, res.ID, res.Type, res.Href, []byte(res.Document), res.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to store external resource", "id", res.ID, "error", err)
		return fmt.Errorf("failed to store external resource: %w", err)
	}
	return nil
}
