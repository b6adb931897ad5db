// Package federation talks to other currency servers: it reads their
// accounts and currencies, notifies them about transfers and signs and
// verifies the tokens both sides use to authenticate.
package federation

import (
	"strings"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
)

// MediaType is the JSON:API content type.
const MediaType = "application/vnd.api+json"

const (
	TypeAccounts   = "accounts"
	TypeCurrencies = "currencies"
	TypeTransfers  = "transfers"
)

// IdentifierMeta marks a related resource as owned by another server.
type IdentifierMeta struct {
	External bool   `json:"external"`
	Href     string `json:"href"`
}

// Identifier references a resource. External resources carry the URL they
// are served at.
type Identifier struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Meta *IdentifierMeta `json:"meta,omitempty"`
}

func (i Identifier) IsExternal() bool {
	return i.Meta != nil && i.Meta.External
}

func (i Identifier) Href() string {
	if i.Meta == nil {
		return ""
	}
	return i.Meta.Href
}

// ExternalIdentifier builds the identifier other servers use to reach a
// resource of this server.
func ExternalIdentifier(id, typ, href string) Identifier {
	return Identifier{ID: id, Type: typ, Meta: &IdentifierMeta{External: true, Href: href}}
}

type Relationship struct {
	Data *Identifier `json:"data"`
}

// Resource is a JSON:API resource object with typed attributes.
type Resource[A any] struct {
	ID            string                  `json:"id,omitempty"`
	Type          string                  `json:"type"`
	Attributes    A                       `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Related returns the identifier of the named relationship, if present.
func (r Resource[A]) Related(name string) (Identifier, bool) {
	rel, ok := r.Relationships[name]
	if !ok || rel.Data == nil {
		return Identifier{}, false
	}
	return *rel.Data, true
}

type Document[A any] struct {
	Data Resource[A] `json:"data"`
}

type CollectionDocument[A any] struct {
	Data []Resource[A] `json:"data"`
}

// AccountAttributes is what this server reads from a remote account. Key is
// the account ledger address.
type AccountAttributes struct {
	Code           string `json:"code"`
	Key            string `json:"key"`
	Balance        int64  `json:"balance"`
	CreditLimit    int64  `json:"creditLimit"`
	MaximumBalance *int64 `json:"maximumBalance,omitempty"`
}

// CurrencyKeys are the public role keys a currency shares with its peers.
type CurrencyKeys struct {
	Issuer         string `json:"issuer"`
	ExternalIssuer string `json:"externalIssuer"`
}

type CurrencyAttributes struct {
	Code       string        `json:"code"`
	Status     string        `json:"status,omitempty"`
	Name       string        `json:"name"`
	NamePlural string        `json:"namePlural,omitempty"`
	Symbol     string        `json:"symbol,omitempty"`
	Decimals   int           `json:"decimals"`
	Scale      int           `json:"scale"`
	Rate       currency.Rate `json:"rate"`
	Keys       *CurrencyKeys `json:"keys,omitempty"`
}

// Currency returns the conversion view of the remote currency.
func (a CurrencyAttributes) Currency() *currency.Currency {
	return &currency.Currency{Code: a.Code, Scale: a.Scale, Rate: a.Rate}
}

// Authorization is a payment request authorization as sent by clients. Only
// tags are supported.
type Authorization struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type TransferAttributes struct {
	Amount        int64          `json:"amount"`
	Meta          string         `json:"meta"`
	State         string         `json:"state"`
	Hash          string         `json:"hash,omitempty"`
	Authorization *Authorization `json:"authorization,omitempty"`
	Created       *time.Time     `json:"created,omitempty"`
	Updated       *time.Time     `json:"updated,omitempty"`
}

// TransferPatch holds the attributes present in a transfer update.
type TransferPatch struct {
	Amount *int64  `json:"amount,omitempty"`
	Meta   *string `json:"meta,omitempty"`
	State  *string `json:"state,omitempty"`
	Hash   *string `json:"hash,omitempty"`
}

// CurrencyHref derives the currency URL from the URL of one of its accounts.
func CurrencyHref(accountHref string) string {
	return serverPrefix(accountHref) + "/currency"
}

// TransfersHref derives the transfers collection URL from the URL of one of
// the currency accounts.
func TransfersHref(accountHref string) string {
	return serverPrefix(accountHref) + "/transfers"
}

// AccountHref is the URL of a local account as seen by other servers.
func AccountHref(baseURL, code, id string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + code + "/accounts/" + id
}

func serverPrefix(accountHref string) string {
	if i := strings.LastIndex(accountHref, "/accounts/"); i >= 0 {
		return accountHref[:i]
	}
	return strings.TrimSuffix(accountHref, "/")
}
