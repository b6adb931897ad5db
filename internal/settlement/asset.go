package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of decimal places of every ledger amount.
const AmountPrecision = 7

// HourCode is the asset code every currency issues from its external issuer to
// trade with other currencies.
const HourCode = "HOUR"

// Asset is an issued asset on the ledger.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

func (a Asset) String() string {
	return a.Code + ":" + a.Issuer
}

// Rate is the value of one currency unit in HOURs, as a fraction.
// A rate of 1/10 means one HOUR is worth ten units.
type Rate struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

// ToHours converts a ledger amount of the currency into HOURs, rounding down.
func (r Rate) ToHours(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(r.N)).Div(decimal.NewFromInt(r.D)).Truncate(AmountPrecision)
}

// FromHours converts HOURs into a ledger amount of the currency, rounding down.
func (r Rate) FromHours(hours decimal.Decimal) decimal.Decimal {
	return hours.Mul(decimal.NewFromInt(r.D)).Div(decimal.NewFromInt(r.N)).Truncate(AmountPrecision)
}

func (r Rate) Valid() bool {
	return r.N > 0 && r.D > 0
}

// Price is the amount of the buying asset paid per unit of the selling asset.
type Price struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromInt(p.N).Div(decimal.NewFromInt(p.D))
}

// ParseAmount parses a ledger amount, rejecting more than seven decimals.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(AmountPrecision)) {
		return decimal.Zero, fmt.Errorf("amount %q exceeds %d decimals", s, AmountPrecision)
	}
	return d, nil
}
