package settlement

import "github.com/shopspring/decimal"

// Operation is a single step of an atomic ledger transaction. An empty
// SourceAccount means the transaction source.
type Operation interface {
	OperationType() string
	SourceAccount() string
}

// AccountFlags are issuer controls over the assets an account issues.
type AccountFlags uint32

const (
	AuthRequired AccountFlags = 1 << iota
	AuthRevocable
	AuthClawbackEnabled
)

// Signer is an additional key allowed to sign for an account.
type Signer struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

type CreateAccount struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
}

// ChangeTrust creates, updates or removes (zero limit) a trustline. A nil limit
// means unlimited.
type ChangeTrust struct {
	Source string           `json:"source,omitempty"`
	Asset  Asset            `json:"asset"`
	Limit  *decimal.Decimal `json:"limit,omitempty"`
}

// SetTrustLineFlags is issued by an asset issuer to authorize a holder.
type SetTrustLineFlags struct {
	Source     string `json:"source,omitempty"`
	Trustor    string `json:"trustor"`
	Asset      Asset  `json:"asset"`
	Authorized bool   `json:"authorized"`
}

type SetOptions struct {
	Source        string       `json:"source,omitempty"`
	SetFlags      AccountFlags `json:"set_flags,omitempty"`
	HomeDomain    string       `json:"home_domain,omitempty"`
	Signer        *Signer      `json:"signer,omitempty"`
	MasterWeight  *int         `json:"master_weight,omitempty"`
	LowThreshold  *int         `json:"low_threshold,omitempty"`
	MedThreshold  *int         `json:"med_threshold,omitempty"`
	HighThreshold *int         `json:"high_threshold,omitempty"`
}

type Payment struct {
	Source      string          `json:"source,omitempty"`
	Destination string          `json:"destination"`
	Asset       Asset           `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
}

// PathPaymentStrictReceive delivers exactly DestAmount, spending at most SendMax.
type PathPaymentStrictReceive struct {
	Source      string          `json:"source,omitempty"`
	SendAsset   Asset           `json:"send_asset"`
	SendMax     decimal.Decimal `json:"send_max"`
	Destination string          `json:"destination"`
	DestAsset   Asset           `json:"dest_asset"`
	DestAmount  decimal.Decimal `json:"dest_amount"`
	Path        []Asset         `json:"path"`
}

// ManageSellOffer creates or replaces the source's offer for the pair. A zero
// amount deletes it.
type ManageSellOffer struct {
	Source  string          `json:"source,omitempty"`
	Selling Asset           `json:"selling"`
	Buying  Asset           `json:"buying"`
	Amount  decimal.Decimal `json:"amount"`
	Price   Price           `json:"price"`
}

// AccountMerge removes the source account.
type AccountMerge struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
}

func (o *CreateAccount) OperationType() string            { return "create_account" }
func (o *ChangeTrust) OperationType() string              { return "change_trust" }
func (o *SetTrustLineFlags) OperationType() string        { return "set_trust_line_flags" }
func (o *SetOptions) OperationType() string               { return "set_options" }
func (o *Payment) OperationType() string                  { return "payment" }
func (o *PathPaymentStrictReceive) OperationType() string { return "path_payment_strict_receive" }
func (o *ManageSellOffer) OperationType() string          { return "manage_sell_offer" }
func (o *AccountMerge) OperationType() string             { return "account_merge" }

func (o *CreateAccount) SourceAccount() string            { return o.Source }
func (o *ChangeTrust) SourceAccount() string              { return o.Source }
func (o *SetTrustLineFlags) SourceAccount() string        { return o.Source }
func (o *SetOptions) SourceAccount() string               { return o.Source }
func (o *Payment) SourceAccount() string                  { return o.Source }
func (o *PathPaymentStrictReceive) SourceAccount() string { return o.Source }
func (o *ManageSellOffer) SourceAccount() string          { return o.Source }
func (o *AccountMerge) SourceAccount() string             { return o.Source }
