package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repository is the append only history of transfer state changes.
type Repository interface {
	// Append stores e unless an entry for the same transfer and state exists.
	Append(ctx context.Context, e *Entry) error
	ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]*Entry, error)
	ListByCurrency(ctx context.Context, currency string, limit, offset int) ([]*Entry, error)
	CountByCurrency(ctx context.Context, currency string) (int64, error)
}

// ErrDuplicateEntry indicates the state change was already journaled
type ErrDuplicateEntry struct {
	TransferID uuid.UUID
	State      string
}

func (e ErrDuplicateEntry) Error() string {
	return fmt.Sprintf("duplicate journal entry: %s %s", e.TransferID, e.State)
}

// Is matches any ErrDuplicateEntry when the target has no transfer id.
func (e ErrDuplicateEntry) Is(target error) bool {
	t, ok := target.(ErrDuplicateEntry)
	if !ok {
		return false
	}
	if t.TransferID == uuid.Nil {
		return true
	}
	return e.TransferID == t.TransferID && (t.State == "" || t.State == e.State)
}
