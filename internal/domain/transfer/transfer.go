package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount     = errors.New("transfer amount must be positive")
	ErrSameAccount       = errors.New("payer and payee must be different")
	ErrInvalidInitial    = errors.New("transfer initial state must be new or committed")
	ErrInvalidAuthorizer = errors.New("invalid authorization")
)

type State string

const (
	StateNew       State = "new"
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateFailed    State = "failed"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
	StateDeleted   State = "deleted"
)

// transitions is the full state graph, system edges included. committed and
// failed are only reachable through submitted.
var transitions = map[State][]State{
	StateNew:       {StatePending, StateSubmitted, StateDeleted},
	StatePending:   {StateSubmitted, StateRejected, StateDeleted},
	StateRejected:  {StateDeleted},
	StateSubmitted: {StateCommitted, StateFailed},
	StateFailed:    {StateDeleted},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsSystemState tells whether s is only ever assigned by the system.
func IsSystemState(s State) bool {
	return s == StateSubmitted || s == StatePending || s == StateFailed
}

// CheckRequest validates a state requested by a client. Identity requests
// are accepted and do nothing.
func CheckRequest(from, to State) error {
	if from == to {
		return nil
	}
	if IsSystemState(to) {
		return ErrSystemState{State: to}
	}
	var ok bool
	switch to {
	case StateCommitted:
		ok = from == StateNew || from == StatePending
	case StateRejected:
		ok = from == StatePending
	case StateDeleted:
		ok = from == StateNew || from == StatePending || from == StateRejected || from == StateFailed
	}
	if !ok {
		return ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

const AuthorizationTag = "tag"

// Authorization proves the payer agreed to a payment request. Only the hash
// of the presented value is stored.
type Authorization struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

// Transfer moves Amount minor units from payer to payee. External parties
// are represented by the currency external account in PayerID or PayeeID
// plus the external resource id.
type Transfer struct {
	ID              uuid.UUID      `json:"id"`
	State           State          `json:"state"`
	Amount          int64          `json:"amount"`
	Meta            string         `json:"meta"`
	Hash            string         `json:"hash,omitempty"`
	PayerID         uuid.UUID      `json:"payer_id"`
	PayeeID         uuid.UUID      `json:"payee_id"`
	ExternalPayerID string         `json:"external_payer_id,omitempty"`
	ExternalPayeeID string         `json:"external_payee_id,omitempty"`
	Authorization   *Authorization `json:"authorization,omitempty"`
	UserID          string         `json:"user_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewTransfer builds a transfer in state new. A nil id generates one.
func NewTransfer(id *uuid.UUID, payerID, payeeID uuid.UUID, amount int64, meta string, userID string) (*Transfer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if payerID == payeeID {
		return nil, ErrSameAccount
	}
	tid := uuid.New()
	if id != nil {
		tid = *id
	}
	now := time.Now()
	return &Transfer{
		ID:        tid,
		State:     StateNew,
		Amount:    amount,
		Meta:      meta,
		PayerID:   payerID,
		PayeeID:   payeeID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetState moves the transfer along the state graph. It returns false for
// identity transitions, which change nothing.
func (t *Transfer) SetState(to State) (bool, error) {
	if t.State == to {
		return false, nil
	}
	if !CanTransition(t.State, to) {
		return false, ErrInvalidTransition{From: t.State, To: to}
	}
	t.State = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (t *Transfer) IsExternal() bool {
	return t.ExternalPayerID != "" || t.ExternalPayeeID != ""
}

// PendingFor returns how long the transfer has been in its current state.
func (t *Transfer) PendingFor(now time.Time) time.Duration {
	return now.Sub(t.UpdatedAt)
}
