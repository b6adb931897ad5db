package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// Message is a transfer state change waiting to be relayed. It is written in
// the same database transaction as the state change itself.
type Message struct {
	ID            int64               `json:"id"`
	TransferID    uuid.UUID           `json:"transfer_id"`
	State         string              `json:"state"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(entry *journal.Entry) (*Message, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Message{
		TransferID: entry.TransferID,
		State:      entry.State,
		Payload:    payload,
		Status:     shared.OutboxStatusPending,
		CreatedAt:  time.Now(),
	}, nil
}

// FinalAttempt reports whether the attempt in progress is the last one
// allowed before the message is given up as failed to publish.
func (m *Message) FinalAttempt(maxAttempts int) bool {
	return m.Attempts+1 >= maxAttempts
}

// JournalEntry decodes the state change carried by the message.
func (m *Message) JournalEntry() (*journal.Entry, error) {
	var entry journal.Entry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
