package secret

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Secret is an encrypted value owned by a currency. Ledger keys use their
// address as ID; the currency encryption key gets a random one.
type Secret struct {
	ID        string    `json:"id"`
	Encrypted string    `json:"encrypted"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists secrets of a single currency.
type Repository interface {
	Create(ctx context.Context, s *Secret) error
	Get(ctx context.Context, id string) (*Secret, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrSecretNotFound indicates a missing secret
type ErrSecretNotFound struct {
	ID string
}

func (e ErrSecretNotFound) Error() string {
	return "secret not found: " + e.ID
}

func (e ErrSecretNotFound) Is(target error) bool {
	t, ok := target.(ErrSecretNotFound)
	return ok && (t.ID == "" || t.ID == e.ID)
}
