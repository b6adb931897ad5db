package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

const transferColumns = `id, state, amount, meta, hash, payer_id, payee_id, external_payer_id, external_payee_id,
		auth_type, auth_hash, user_id, created_at, updated_at`

// TransferRepository implements the transfer.Repository interface for PostgreSQL
type TransferRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
	tenant  string
}

func NewTransferRepository(logger *slog.Logger, db *persistence.PostgresDB, tenant string) transfer.Repository {
	return &TransferRepository{
		querier: db.Pool(),
		logger:  logger,
		tenant:  tenant,
	}
}

func (r *TransferRepository) WithTx(tx pgx.Tx) transfer.Repository {
	return &TransferRepository{
		querier: tx,
		logger:  r.logger,
		tenant:  r.tenant,
	}
}

// Create stores a new transfer. A client supplied id already in use yields
// ErrDuplicateTransfer.
func (r *TransferRepository) Create(ctx context.Context, t *transfer.Transfer) error {
	authType, authHash := authColumns(t.Authorization)
	query := `
		INSERT INTO transfers (tenant_id, id, state, amount, meta, hash, payer_id, payee_id, external_payer_id,
			external_payee_id, auth_type, auth_hash, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.querier.Exec(ctx, query,
		r.tenant,
		t.ID,
		t.State,
		t.Amount,
		t.Meta,
		nullString(t.Hash),
		t.PayerID,
		t.PayeeID,
		nullString(t.ExternalPayerID),
		nullString(t.ExternalPayeeID),
		authType,
		authHash,
		t.UserID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return transfer.ErrDuplicateTransfer{ID: t.ID}
		}
		r.logger.Error("Failed to create transfer", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	return nil
}

func authColumns(a *transfer.Authorization) (*string, *string) {
	if a == nil {
		return nil, nil
	}
	return nullString(a.Type), nullString(a.Hash)
}

// GetByID retrieves a transfer by its id, deleted ones included
func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + `
		FROM transfers
		WHERE tenant_id = $1 AND id = $2`

	return r.getOne(ctx, id.String(), query, r.tenant, id)
}

// GetByHash retrieves the transfer settled by the ledger transaction hash
func (r *TransferRepository) GetByHash(ctx context.Context, hash string) (*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + `
		FROM transfers
		WHERE tenant_id = $1 AND hash = $2`

	return r.getOne(ctx, hash, query, r.tenant, hash)
}

func (r *TransferRepository) getOne(ctx context.Context, ref, query string, args ...any) (*transfer.Transfer, error) {
	t, err := scanTransfer(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transfer.ErrTransferNotFound{Ref: ref}
		}
		r.logger.Error("Failed to get transfer", "ref", ref, "error", err)
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

func scanTransfer(row pgx.Row) (*transfer.Transfer, error) {
	var t transfer.Transfer
	var hash, externalPayer, externalPayee, authType, authHash *string
	err := row.Scan(
		&t.ID,
		&t.State,
		&t.Amount,
		&t.Meta,
		&hash,
		&t.PayerID,
		&t.PayeeID,
		&externalPayer,
		&externalPayee,
		&authType,
		&authHash,
		&t.UserID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Hash = deref(hash)
	t.ExternalPayerID = deref(externalPayer)
	t.ExternalPayeeID = deref(externalPayee)
	if authType != nil {
		t.Authorization = &transfer.Authorization{Type: *authType, Hash: deref(authHash)}
	}
	return &t, nil
}

// Update stores every attribute of the transfer but its id and creator.
func (r *TransferRepository) Update(ctx context.Context, t *transfer.Transfer) error {
	authType, authHash := authColumns(t.Authorization)
	query := `
		UPDATE transfers
		SET state = $1, amount = $2, meta = $3, hash = $4, payer_id = $5, payee_id = $6,
			external_payer_id = $7, external_payee_id = $8, auth_type = $9, auth_hash = $10, updated_at = $11
		WHERE tenant_id = $12 AND id = $13
	`

	result, err := r.querier.Exec(ctx, query,
		t.State,
		t.Amount,
		t.Meta,
		nullString(t.Hash),
		t.PayerID,
		t.PayeeID,
		nullString(t.ExternalPayerID),
		nullString(t.ExternalPayeeID),
		authType,
		authHash,
		t.UpdatedAt,
		r.tenant,
		t.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update transfer", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	if result.RowsAffected() == 0 {
		return transfer.ErrTransferNotFound{Ref: t.ID.String()}
	}

	return nil
}

// UpdateState stores the state and settlement hash of the transfer if the
// stored state is still from. A transfer moved meanwhile by another request
// yields ErrInvalidTransition from its current state.
func (r *TransferRepository) UpdateState(ctx context.Context, t *transfer.Transfer, from transfer.State) error {
	query := `
		UPDATE transfers
		SET state = $1, hash = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5 AND state = $6
	`

	result, err := r.querier.Exec(ctx, query, t.State, nullString(t.Hash), t.UpdatedAt, r.tenant, t.ID, from)
	if err != nil {
		r.logger.Error("Failed to update transfer state",
			"id", t.ID.String(),
			"state", string(t.State),
			"error", err,
		)
		return fmt.Errorf("failed to update transfer state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return r.stateConflict(ctx, t, from)
	}

	return nil
}

func (r *TransferRepository) stateConflict(ctx context.Context, t *transfer.Transfer, from transfer.State) error {
	var current string
	err := r.querier.QueryRow(ctx,
		`SELECT state FROM transfers WHERE tenant_id = $1 AND id = $2`,
		r.tenant, t.ID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return transfer.ErrTransferNotFound{Ref: t.ID.String()}
	}
	if err != nil {
		r.logger.Error("Failed to read transfer state", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to read transfer state: %w", err)
	}
	r.logger.Warn("Transfer state changed concurrently",
		"id", t.ID.String(),
		"expected", string(from),
		"current", current,
		"requested", string(t.State),
	)
	return transfer.ErrInvalidTransition{From: transfer.State(current), To: t.State}
}

// ListPending returns pending transfers, least recently updated first.
func (r *TransferRepository) ListPending(ctx context.Context, limit int) ([]*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + `
		FROM transfers
		WHERE tenant_id = $1 AND state = $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.querier.Query(ctx, query, r.tenant, transfer.StatePending, limit)
	if err != nil {
		r.logger.Error("Failed to list pending transfers", "error", err)
		return nil, fmt.Errorf("failed to list pending transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			r.logger.Error("Failed to scan transfer", "error", err)
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over pending transfers", "error", err)
		return nil, fmt.Errorf("error iterating over pending transfers: %w", err)
	}

	return transfers, nil
}
