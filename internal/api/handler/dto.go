package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

const (
	typeAccounts   = federation.TypeAccounts
	typeCurrencies = federation.TypeCurrencies
	typeTransfers  = federation.TypeTransfers
	typeTrustlines = "trustlines"
)

// ToManyRelationship references several resources, like the account users.
type ToManyRelationship struct {
	Data []federation.Identifier `json:"data"`
}

// CurrencyRequestAttributes are the attributes accepted when creating or
// updating a currency. Rate, scale and code are only read on creation.
type CurrencyRequestAttributes struct {
	Code       string                  `json:"code"`
	Name       *string                 `json:"name,omitempty"`
	NamePlural *string                 `json:"namePlural,omitempty"`
	Symbol     *string                 `json:"symbol,omitempty"`
	Decimals   int                     `json:"decimals"`
	Scale      int                     `json:"scale"`
	Rate       *currency.Rate          `json:"rate,omitempty"`
	Settings   *currency.SettingsPatch `json:"settings,omitempty"`
}

type CurrencyRequest = federation.Document[CurrencyRequestAttributes]

// CurrencyAttributes extend what peers read from a currency with its
// settings and timestamps.
type CurrencyAttributes struct {
	federation.CurrencyAttributes
	Settings currency.Settings `json:"settings"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
}

func (a CurrencyRequestAttributes) toInput() accounting.CurrencyInput {
	in := accounting.CurrencyInput{
		Code:     a.Code,
		Decimals: a.Decimals,
		Scale:    a.Scale,
		Settings: a.Settings,
	}
	if a.Name != nil {
		in.Name = *a.Name
	}
	if a.NamePlural != nil {
		in.NamePlural = *a.NamePlural
	}
	if a.Symbol != nil {
		in.Symbol = *a.Symbol
	}
	if a.Rate != nil {
		in.Rate = *a.Rate
	}
	return in
}

func (a CurrencyRequestAttributes) toUpdate() accounting.CurrencyUpdate {
	return accounting.CurrencyUpdate{
		Name:       a.Name,
		NamePlural: a.NamePlural,
		Symbol:     a.Symbol,
		Rate:       a.Rate,
		Settings:   a.Settings,
	}
}

func mapCurrencyToResource(cur *currency.Currency) federation.Resource[CurrencyAttributes] {
	attrs := CurrencyAttributes{
		CurrencyAttributes: federation.CurrencyAttributes{
			Code:       cur.Code,
			Status:     string(cur.Status),
			Name:       cur.Name,
			NamePlural: cur.NamePlural,
			Symbol:     cur.Symbol,
			Decimals:   cur.Decimals,
			Scale:      cur.Scale,
			Rate:       cur.Rate,
		},
		Settings: cur.Settings,
		Created:  cur.CreatedAt,
		Updated:  cur.UpdatedAt,
	}
	if cur.Keys != nil {
		attrs.Keys = &federation.CurrencyKeys{Issuer: cur.Keys.Issuer, ExternalIssuer: cur.Keys.ExternalIssuer}
	}
	return federation.Resource[CurrencyAttributes]{
		ID:         cur.ID.String(),
		Type:       typeCurrencies,
		Attributes: attrs,
	}
}

// AccountRequest is the body of account creation and update requests.
type AccountRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Code           *string                `json:"code,omitempty"`
			CreditLimit    *int64                 `json:"creditLimit,omitempty"`
			MaximumBalance *int64                 `json:"maximumBalance,omitempty"`
			Settings       *account.SettingsPatch `json:"settings,omitempty"`
		} `json:"attributes"`
		Relationships struct {
			Users *ToManyRelationship `json:"users,omitempty"`
		} `json:"relationships"`
	} `json:"data"`
}

func (r AccountRequest) toInput() accounting.AccountInput {
	attrs := r.Data.Attributes
	in := accounting.AccountInput{
		CreditLimit:    attrs.CreditLimit,
		MaximumBalance: attrs.MaximumBalance,
	}
	if attrs.Code != nil {
		in.Code = *attrs.Code
	}
	if users := r.Data.Relationships.Users; users != nil {
		for _, u := range users.Data {
			in.Users = append(in.Users, u.ID)
		}
	}
	return in
}

func (r AccountRequest) toUpdate() accounting.AccountUpdate {
	attrs := r.Data.Attributes
	return accounting.AccountUpdate{
		Code:           attrs.Code,
		CreditLimit:    attrs.CreditLimit,
		MaximumBalance: attrs.MaximumBalance,
		Settings:       attrs.Settings,
	}
}

type TagResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountAttributes extend what peers read from an account.
type AccountAttributes struct {
	federation.AccountAttributes
	Status   string           `json:"status"`
	Settings account.Settings `json:"settings"`
	Tags     []TagResponse    `json:"tags,omitempty"`
	Created  time.Time        `json:"created"`
	Updated  time.Time        `json:"updated"`
}

func mapAccountToResource(acc *account.Account) federation.Resource[AccountAttributes] {
	attrs := AccountAttributes{
		AccountAttributes: federation.AccountAttributes{
			Code:           acc.Code,
			Key:            acc.KeyID,
			Balance:        acc.Balance,
			CreditLimit:    acc.CreditLimit,
			MaximumBalance: acc.MaximumBalance,
		},
		Status:   string(acc.Status),
		Settings: acc.Settings,
		Created:  acc.CreatedAt,
		Updated:  acc.UpdatedAt,
	}
	for _, tag := range acc.Tags {
		attrs.Tags = append(attrs.Tags, TagResponse{ID: tag.ID.String(), Name: tag.Name})
	}
	return federation.Resource[AccountAttributes]{
		ID:         acc.ID.String(),
		Type:       typeAccounts,
		Attributes: attrs,
	}
}

type TransferRequest = federation.Document[federation.TransferAttributes]

type TransferBatchRequest = federation.CollectionDocument[federation.TransferAttributes]

type TransferPatchRequest = federation.Document[federation.TransferPatch]

func transferInput(res federation.Resource[federation.TransferAttributes]) (accounting.TransferInput, error) {
	in := accounting.TransferInput{
		State:         transfer.State(res.Attributes.State),
		Amount:        res.Attributes.Amount,
		Meta:          res.Attributes.Meta,
		Hash:          res.Attributes.Hash,
		Authorization: res.Attributes.Authorization,
	}
	if res.ID != "" {
		id, err := uuid.Parse(res.ID)
		if err != nil {
			return in, err
		}
		in.ID = &id
	}
	in.Payer, _ = res.Related("payer")
	in.Payee, _ = res.Related("payee")
	return in, nil
}

func transferUpdate(res federation.Resource[federation.TransferPatch]) accounting.TransferUpdate {
	up := accounting.TransferUpdate{
		Amount: res.Attributes.Amount,
		Meta:   res.Attributes.Meta,
		Hash:   res.Attributes.Hash,
	}
	if res.Attributes.State != nil {
		state := transfer.State(*res.Attributes.State)
		up.State = &state
	}
	if payer, ok := res.Related("payer"); ok {
		up.Payer = &payer
	}
	if payee, ok := res.Related("payee"); ok {
		up.Payee = &payee
	}
	return up
}

func partyIdentifier(localID uuid.UUID, externalID string) *federation.Identifier {
	if externalID != "" {
		return &federation.Identifier{ID: externalID, Type: typeAccounts, Meta: &federation.IdentifierMeta{External: true}}
	}
	return &federation.Identifier{ID: localID.String(), Type: typeAccounts}
}

func mapTransferToResource(t *transfer.Transfer) federation.Resource[federation.TransferAttributes] {
	created, updated := t.CreatedAt, t.UpdatedAt
	attrs := federation.TransferAttributes{
		Amount:  t.Amount,
		Meta:    t.Meta,
		State:   string(t.State),
		Hash:    t.Hash,
		Created: &created,
		Updated: &updated,
	}
	if t.Authorization != nil {
		attrs.Authorization = &federation.Authorization{Type: t.Authorization.Type}
	}
	return federation.Resource[federation.TransferAttributes]{
		ID:         t.ID.String(),
		Type:       typeTransfers,
		Attributes: attrs,
		Relationships: map[string]federation.Relationship{
			"payer": {Data: partyIdentifier(t.PayerID, t.ExternalPayerID)},
			"payee": {Data: partyIdentifier(t.PayeeID, t.ExternalPayeeID)},
		},
	}
}

type TrustlineAttributes struct {
	Limit   int64      `json:"limit"`
	Balance int64      `json:"balance"`
	Created *time.Time `json:"created,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`
}

type TrustlineRequest = federation.Document[TrustlineAttributes]

func mapTrustlineToResource(line *trustline.Trustline) federation.Resource[TrustlineAttributes] {
	created, updated := line.CreatedAt, line.UpdatedAt
	return federation.Resource[TrustlineAttributes]{
		ID:   line.ID.String(),
		Type: typeTrustlines,
		Attributes: TrustlineAttributes{
			Limit:   line.Limit,
			Balance: line.Balance,
			Created: &created,
			Updated: &updated,
		},
		Relationships: map[string]federation.Relationship{
			"trusted": {Data: &federation.Identifier{ID: line.TrustedID, Type: typeCurrencies, Meta: &federation.IdentifierMeta{External: true}}},
		},
	}
}
