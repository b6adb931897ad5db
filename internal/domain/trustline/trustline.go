package trustline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

var ErrInvalidLimit = errors.New("trustline limit must be positive")

// Trustline is this currency's willingness to accept units of the trusted
// external currency, up to Limit local units. Balance is the net trade
// balance in local units; positive means more was received than sent.
type Trustline struct {
	ID        uuid.UUID `json:"id"`
	TrustedID string    `json:"trusted_id"`
	Limit     int64     `json:"limit"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTrustline(trustedID string, limit int64) (*Trustline, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	now := time.Now()
	return &Trustline{
		ID:        uuid.New(),
		TrustedID: trustedID,
		Limit:     limit,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Repository persists the trustlines of one currency.
type Repository interface {
	Create(ctx context.Context, t *Trustline) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trustline, error)
	GetByTrusted(ctx context.Context, trustedID string) (*Trustline, error)
	Update(ctx context.Context, t *Trustline) error
	List(ctx context.Context) ([]*Trustline, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrTrustlineNotFound indicates missing trustline
type ErrTrustlineNotFound struct {
	Ref string
}

func (e ErrTrustlineNotFound) Error() string {
	return "trustline not found: " + e.Ref
}

func (e ErrTrustlineNotFound) Is(target error) bool {
	t, ok := target.(ErrTrustlineNotFound)
	return ok && (t.Ref == "" || t.Ref == e.Ref)
}

func (e ErrTrustlineNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}

// ErrDuplicateTrustline indicates the currency is already trusted
type ErrDuplicateTrustline struct {
	TrustedID string
}

func (e ErrDuplicateTrustline) Error() string {
	return "currency already trusted: " + e.TrustedID
}

func (e ErrDuplicateTrustline) ErrorKind() shared.ErrorKind {
	return shared.KindBadRequest
}
