package account

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
)

// Common errors
var (
	ErrNegativeCreditLimit = errors.New("credit limit cannot be negative")
	ErrInvalidMaxBalance   = errors.New("maximum balance must be positive")
	ErrNoUsers             = errors.New("account must have at least one user")
	ErrInvalidTag          = errors.New("tag name and value are required")
	ErrRepeatedTag         = errors.New("repeated tag")
)

var codeSuffix = regexp.MustCompile(`^[0-9]+$`)

type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

type Type string

const (
	TypeUser    Type = "user"
	TypeVirtual Type = "virtual"
)

// Tag is a point of sale token bound to an account. Only the hash of its
// value is kept.
type Tag struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Hash string    `json:"-"`
}

// Account is a member account of a currency. Balance is cached from the
// ledger: ledger balance minus credit limit, in minor units.
type Account struct {
	ID             uuid.UUID `json:"id"`
	Code           string    `json:"code"`
	Type           Type      `json:"type"`
	Status         Status    `json:"status"`
	KeyID          string    `json:"key"`
	CreditLimit    int64     `json:"credit_limit"`
	MaximumBalance *int64    `json:"maximum_balance,omitempty"`
	Balance        int64     `json:"balance"`
	Users          []string  `json:"users"`
	Settings       Settings  `json:"settings"`
	Tags           []Tag     `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAccount builds an active user account. keyID is the ledger address.
func NewAccount(code, keyID string, creditLimit int64, maximumBalance *int64, users []string) (*Account, error) {
	if creditLimit < 0 {
		return nil, ErrNegativeCreditLimit
	}
	if maximumBalance != nil && *maximumBalance <= 0 {
		return nil, ErrInvalidMaxBalance
	}
	if len(users) == 0 {
		return nil, ErrNoUsers
	}
	now := time.Now()
	return &Account{
		ID:             uuid.New(),
		Code:           code,
		Type:           TypeUser,
		Status:         StatusActive,
		KeyID:          keyID,
		CreditLimit:    creditLimit,
		MaximumBalance: maximumBalance,
		Users:          users,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// FormatCode builds the account code <CURRENCY><number>, zero padded to 4 digits.
func FormatCode(currencyCode string, n int) string {
	return fmt.Sprintf("%s%04d", currencyCode, n)
}

// ValidCode checks that code is <CURRENCY> followed by digits.
func ValidCode(currencyCode, code string) bool {
	return len(code) > len(currencyCode) && code[:len(currencyCode)] == currencyCode &&
		codeSuffix.MatchString(code[len(currencyCode):])
}

func (a *Account) HasUser(userID string) bool {
	return userID != "" && slices.Contains(a.Users, userID)
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// SetBalance stores the cached balance from the ledger balance in minor units.
func (a *Account) SetBalance(ledgerUnits int64) {
	a.Balance = ledgerUnits - a.CreditLimit
	a.UpdatedAt = time.Now()
}

// Delete soft deletes the account. The cached balance must be zero.
func (a *Account) Delete() error {
	if a.Balance != 0 {
		return ErrNonZeroBalance{ID: a.ID, Balance: a.Balance}
	}
	a.Status = StatusDeleted
	a.UpdatedAt = time.Now()
	return nil
}

// TagInput is a tag as sent by clients. Value is only present when the tag
// is new or its value changes.
type TagInput struct {
	ID    *uuid.UUID `json:"id,omitempty"`
	Name  string     `json:"name"`
	Value string     `json:"value,omitempty"`
}

// ValidateTags checks names and values are present and not repeated.
func ValidateTags(tags []TagInput) error {
	names := map[string]bool{}
	values := map[string]bool{}
	for _, t := range tags {
		if t.Name == "" || (t.Value == "" && t.ID == nil) {
			return ErrInvalidTag
		}
		if names[t.Name] || (t.Value != "" && values[t.Value]) {
			return ErrRepeatedTag
		}
		names[t.Name] = true
		if t.Value != "" {
			values[t.Value] = true
		}
	}
	return nil
}

// AcceptsAutomatically tells whether payment requests from payeeID are
// accepted without the payer's approval, by settings or whitelist.
func (a *Account) AcceptsAutomatically(payeeID string, c *currency.Settings) bool {
	eff := a.Settings.Effective(c)
	return eff.AcceptPaymentsAutomatically || slices.Contains(eff.AcceptPaymentsWhitelist, payeeID)
}

// AcceptsExternalAutomatically is AcceptsAutomatically for payment requests
// coming from other currencies.
func (a *Account) AcceptsExternalAutomatically(externalID string, c *currency.Settings) bool {
	eff := a.Settings.Effective(c)
	return eff.AcceptExternalPaymentsAutomatically || slices.Contains(eff.AcceptPaymentsWhitelist, externalID)
}
