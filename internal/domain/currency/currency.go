package currency

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerPrecision is the number of decimals the settlement ledger keeps.
const LedgerPrecision = 7

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

var (
	ErrInvalidCode  = errors.New("currency code must be 4 uppercase letters or digits")
	ErrInvalidRate  = errors.New("currency rate must be positive")
	ErrInvalidScale = errors.New("currency scale must be between 0 and 7")
	ErrEmptyName    = errors.New("currency name cannot be empty")
)

type Status string

const (
	StatusNew    Status = "new"
	StatusActive Status = "active"
)

// Rate converts currency units to HOURs: units * N / D = HOURs.
type Rate struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

func (r Rate) Valid() bool {
	return r.N > 0 && r.D > 0
}

// Keys holds the ledger key ids of the currency role accounts. Ids are the
// account addresses.
type Keys struct {
	Issuer         string `json:"issuer"`
	Credit         string `json:"credit"`
	Admin          string `json:"admin"`
	ExternalIssuer string `json:"external_issuer"`
	ExternalTrader string `json:"external_trader"`
}

// Currency is a local currency and the tenant every other entity belongs to.
type Currency struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Status            Status    `json:"status"`
	Name              string    `json:"name"`
	NamePlural        string    `json:"name_plural"`
	Symbol            string    `json:"symbol"`
	Decimals          int       `json:"decimals"`
	Scale             int       `json:"scale"`
	Rate              Rate      `json:"rate"`
	Settings          Settings  `json:"settings"`
	Keys              *Keys     `json:"keys,omitempty"`
	EncryptionKeyID   string    `json:"-"`
	AdminID           string    `json:"admin_id"`
	ExternalAccountID uuid.UUID `json:"external_account_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewCurrency validates the input and returns a currency in status new with
// default settings.
func NewCurrency(code, name, namePlural, symbol string, decimals, scale int, rate Rate, adminID string) (*Currency, error) {
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	if !rate.Valid() {
		return nil, ErrInvalidRate
	}
	if scale < 0 || scale > LedgerPrecision || decimals < 0 || decimals > scale {
		return nil, ErrInvalidScale
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if namePlural == "" {
		namePlural = name
	}
	now := time.Now()
	return &Currency{
		ID:                uuid.New(),
		Code:              code,
		Status:            StatusNew,
		Name:              name,
		NamePlural:        namePlural,
		Symbol:            symbol,
		Decimals:          decimals,
		Scale:             scale,
		Rate:              rate,
		Settings:          DefaultSettings(),
		AdminID:           adminID,
		ExternalAccountID: uuid.New(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

func (c *Currency) IsActive() bool {
	return c.Status == StatusActive
}

func (c *Currency) IsAdmin(userID string) bool {
	return userID != "" && c.AdminID == userID
}

// AmountToLedger converts integer minor units to ledger units. It is exact.
func (c *Currency) AmountToLedger(amount int64) decimal.Decimal {
	return decimal.New(amount, -int32(c.Scale))
}

// AmountFromLedger converts ledger units to minor units, truncating anything
// below the currency scale.
func (c *Currency) AmountFromLedger(amount decimal.Decimal) int64 {
	return amount.Shift(int32(c.Scale)).Truncate(0).IntPart()
}

// ToHours converts minor units to HOURs, truncated at ledger precision.
func (c *Currency) ToHours(amount int64) decimal.Decimal {
	return c.AmountToLedger(amount).
		Mul(decimal.NewFromInt(c.Rate.N)).
		Div(decimal.NewFromInt(c.Rate.D)).
		Truncate(LedgerPrecision)
}

// FromHours converts HOURs to minor units, truncating.
func (c *Currency) FromHours(hours decimal.Decimal) int64 {
	units := hours.Mul(decimal.NewFromInt(c.Rate.D)).Div(decimal.NewFromInt(c.Rate.N))
	return c.AmountFromLedger(units.Truncate(LedgerPrecision))
}

// ConvertAmount converts minor units of from into minor units of to through
// their HOUR rates, truncating toward zero.
func ConvertAmount(amount int64, from, to *Currency) int64 {
	v := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(from.Rate.N * to.Rate.D)).
		Div(decimal.NewFromInt(from.Rate.D * to.Rate.N)).
		Shift(int32(to.Scale - from.Scale))
	return v.Truncate(0).IntPart()
}
