package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// Repository defines transfer persistence operations for one currency
type Repository interface {
	Create(ctx context.Context, t *Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	GetByHash(ctx context.Context, hash string) (*Transfer, error)
	// Update stores the editable attributes of a transfer in state new.
	Update(ctx context.Context, t *Transfer) error
	// UpdateState stores the state and hash of t only while the stored
	// state is still from. Otherwise it returns ErrInvalidTransition.
	UpdateState(ctx context.Context, t *Transfer, from State) error
	// ListPending returns the oldest pending transfers by last update.
	ListPending(ctx context.Context, limit int) ([]*Transfer, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrTransferNotFound indicates missing transfer
type ErrTransferNotFound struct {
	Ref string
}

func (e ErrTransferNotFound) Error() string {
	return "transfer not found: " + e.Ref
}

func (e ErrTransferNotFound) Is(target error) bool {
	t, ok := target.(ErrTransferNotFound)
	return ok && (t.Ref == "" || t.Ref == e.Ref)
}

func (e ErrTransferNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}

// ErrDuplicateTransfer indicates a client supplied id already in use
type ErrDuplicateTransfer struct {
	ID uuid.UUID
}

func (e ErrDuplicateTransfer) Error() string {
	return "transfer already exists: " + e.ID.String()
}

func (e ErrDuplicateTransfer) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}

// ErrInvalidTransition indicates a move outside the state graph
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transfer state transition from %s to %s", e.From, e.To)
}

func (e ErrInvalidTransition) Is(target error) bool {
	t, ok := target.(ErrInvalidTransition)
	return ok && (t.From == "" || t.From == e.From) && (t.To == "" || t.To == e.To)
}

func (e ErrInvalidTransition) ErrorKind() shared.ErrorKind {
	return shared.KindInvalidTransition
}

// ErrSystemState indicates a client requested a state only the system sets
type ErrSystemState struct {
	State State
}

func (e ErrSystemState) Error() string {
	return fmt.Sprintf("state %q is only set by the system", e.State)
}

func (e ErrSystemState) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}
