package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// Repository defines account persistence operations for one currency.
// Lookups only return active accounts.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByCode(ctx context.Context, code string) (*Account, error)
	GetByKey(ctx context.Context, key string) (*Account, error)
	GetByTagHash(ctx context.Context, hash string) (*Account, error)
	Update(ctx context.Context, account *Account) error
	UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error
	ReplaceTags(ctx context.Context, id uuid.UUID, tags []Tag) error
	ListTags(ctx context.Context, id uuid.UUID) ([]Tag, error)

	// MaxCodeNumber returns the largest numeric suffix of codes <prefix><digits>,
	// or -1 when there is none.
	MaxCodeNumber(ctx context.Context, prefix string) (int, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrAccountNotFound indicates missing account. Ref is the id, code, key or
// tag hash used in the lookup.
type ErrAccountNotFound struct {
	Ref string
}

func (e ErrAccountNotFound) Error() string {
	return "account not found: " + e.Ref
}

func (e ErrAccountNotFound) Is(target error) bool {
	t, ok := target.(ErrAccountNotFound)
	return ok && (t.Ref == "" || t.Ref == e.Ref)
}

func (e ErrAccountNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}

// ErrDuplicateCode indicates account code uniqueness violation
type ErrDuplicateCode struct {
	Code string
}

func (e ErrDuplicateCode) Error() string {
	return "account code already in use: " + e.Code
}

func (e ErrDuplicateCode) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}

// ErrNonZeroBalance is returned when deleting an account that still holds
// or owes units.
type ErrNonZeroBalance struct {
	ID      uuid.UUID
	Balance int64
}

func (e ErrNonZeroBalance) Error() string {
	return fmt.Sprintf("account %s balance must be zero to be deleted, is %d", e.ID, e.Balance)
}

func (e ErrNonZeroBalance) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}
