package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Network is the external settlement ledger.
type Network interface {
	LoadAccount(ctx context.Context, address string) (*AccountEntry, error)
	SubmitTransaction(ctx context.Context, env *Envelope) (*SubmitResult, error)
	FindStrictReceivePaths(ctx context.Context, sourceAssets []Asset, destAsset Asset, destAmount decimal.Decimal) ([]PathRecord, error)
	GetTransaction(ctx context.Context, hash string) (*TransactionRecord, error)
}

// AccountEntry is the ledger state of an account.
type AccountEntry struct {
	Address    string       `json:"id"`
	Sequence   int64        `json:"sequence"`
	Balances   []Balance    `json:"balances"`
	Signers    []Signer     `json:"signers"`
	Thresholds Thresholds   `json:"thresholds"`
	Flags      AccountFlags `json:"flags"`
	HomeDomain string       `json:"home_domain,omitempty"`
}

type Thresholds struct {
	Low  int `json:"low_threshold"`
	Med  int `json:"med_threshold"`
	High int `json:"high_threshold"`
}

// Balance is a trustline held by an account. A nil Limit is unlimited.
type Balance struct {
	Asset      Asset            `json:"asset"`
	Balance    decimal.Decimal  `json:"balance"`
	Limit      *decimal.Decimal `json:"limit,omitempty"`
	Authorized bool             `json:"is_authorized"`
}

// BalanceOf returns the balance of the asset, if the account trusts it.
func (a *AccountEntry) BalanceOf(asset Asset) (decimal.Decimal, bool) {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b.Balance, true
		}
	}
	return decimal.Zero, false
}

type SubmitResult struct {
	Hash   string `json:"hash"`
	Ledger int64  `json:"ledger"`
}

// PathRecord is a way to deliver DestAmount of DestAsset spending SourceAmount.
type PathRecord struct {
	SourceAsset  Asset           `json:"source_asset"`
	SourceAmount decimal.Decimal `json:"source_amount"`
	DestAsset    Asset           `json:"destination_asset"`
	DestAmount   decimal.Decimal `json:"destination_amount"`
	Path         []Asset         `json:"path"`
}

// PaymentRecord is a value movement applied by a transaction.
type PaymentRecord struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

type TransactionRecord struct {
	Hash      string          `json:"hash"`
	Ledger    int64           `json:"ledger"`
	Source    string          `json:"source_account"`
	Memo      string          `json:"memo,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Payments  []PaymentRecord `json:"payments"`
}

// AccountBalance is the holding of one asset by an account.
type AccountBalance struct {
	Balance decimal.Decimal
	Limit   *decimal.Decimal
}
