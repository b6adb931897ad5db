package journal

import (
	"time"

	"github.com/google/uuid"
)

// Entry records one persisted transfer state change.
type Entry struct {
	TransferID      uuid.UUID `json:"transfer_id" bson:"transfer_id"`
	Currency        string    `json:"currency" bson:"currency"`
	State           string    `json:"state" bson:"state"`
	PreviousState   string    `json:"previous_state,omitempty" bson:"previous_state,omitempty"`
	Amount          int64     `json:"amount" bson:"amount"`
	PayerID         uuid.UUID `json:"payer_id" bson:"payer_id"`
	PayeeID         uuid.UUID `json:"payee_id" bson:"payee_id"`
	ExternalPayerID string    `json:"external_payer_id,omitempty" bson:"external_payer_id,omitempty"`
	ExternalPayeeID string    `json:"external_payee_id,omitempty" bson:"external_payee_id,omitempty"`
	Hash            string    `json:"hash,omitempty" bson:"hash,omitempty"`
	UserID          string    `json:"user_id,omitempty" bson:"user_id,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	// Error is the cause of a move to failed.
	Error           string    `json:"error,omitempty" bson:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at" bson:"occurred_at"`
}
