package currency

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// Repository persists the currency of the tenant it is bound to.
type Repository interface {
	Create(ctx context.Context, c *Currency) error
	Get(ctx context.Context) (*Currency, error)
	Update(ctx context.Context, c *Currency) error
	WithTx(tx pgx.Tx) Repository
}

// Directory lists currencies across tenants.
type Directory interface {
	ListCodes(ctx context.Context, status Status) ([]string, error)
	Exists(ctx context.Context, code string) (bool, error)
}

// ErrCurrencyNotFound indicates a missing currency
type ErrCurrencyNotFound struct {
	Code string
}

func (e ErrCurrencyNotFound) Error() string {
	return "currency not found: " + e.Code
}

func (e ErrCurrencyNotFound) Is(target error) bool {
	t, ok := target.(ErrCurrencyNotFound)
	return ok && (t.Code == "" || t.Code == e.Code)
}

func (e ErrCurrencyNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}

// ErrDuplicateCurrency indicates a currency code already in use
type ErrDuplicateCurrency struct {
	Code string
}

func (e ErrDuplicateCurrency) Error() string {
	return "currency already exists: " + e.Code
}

func (e ErrDuplicateCurrency) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}
