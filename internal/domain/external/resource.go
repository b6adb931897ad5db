package external

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// TTL is how long a cached copy is served before it is fetched again.
const TTL = time.Hour

type Type string

const (
	TypeAccount  Type = "accounts"
	TypeCurrency Type = "currencies"
)

// Resource is a cached copy of an account or currency owned by another
// currency server. Document holds the resource attributes as served.
type Resource struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Href      string          `json:"href"`
	Document  json.RawMessage `json:"document"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r *Resource) Expired(now time.Time) bool {
	return now.Sub(r.UpdatedAt) > TTL
}

// Repository caches external resources for one currency.
type Repository interface {
	Get(ctx context.Context, id string, typ Type) (*Resource, error)
	Upsert(ctx context.Context, r *Resource) error
	WithTx(tx pgx.Tx) Repository
}

// ErrResourceNotFound indicates the resource is not cached
type ErrResourceNotFound struct {
	ID string
}

func (e ErrResourceNotFound) Error() string {
	return "external resource not found: " + e.ID
}

func (e ErrResourceNotFound) Is(target error) bool {
	t, ok := target.(ErrResourceNotFound)
	return ok && (t.ID == "" || t.ID == e.ID)
}

func (e ErrResourceNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}
