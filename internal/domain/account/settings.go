package account

import "github.com/komunitin/komunitin-sub000/internal/domain/currency"

// Settings are per account policies. Nil values fall back to the currency
// defaults.
type Settings struct {
	AcceptPaymentsAutomatically         *bool    `json:"acceptPaymentsAutomatically,omitempty"`
	AcceptPaymentsWhitelist             []string `json:"acceptPaymentsWhitelist,omitempty"`
	AcceptPaymentsAfter                 *int64   `json:"acceptPaymentsAfter,omitempty"`
	OnPaymentCreditLimit                *int64   `json:"onPaymentCreditLimit,omitempty"`
	AllowPayments                       *bool    `json:"allowPayments,omitempty"`
	AllowPaymentRequests                *bool    `json:"allowPaymentRequests,omitempty"`
	AllowTagPayments                    *bool    `json:"allowTagPayments,omitempty"`
	AllowTagPaymentRequests             *bool    `json:"allowTagPaymentRequests,omitempty"`
	AllowExternalPayments               *bool    `json:"allowExternalPayments,omitempty"`
	AllowExternalPaymentRequests        *bool    `json:"allowExternalPaymentRequests,omitempty"`
	AcceptExternalPaymentsAutomatically *bool    `json:"acceptExternalPaymentsAutomatically,omitempty"`
}

// Effective is the outcome of resolving account settings against the
// currency defaults.
type Effective struct {
	AcceptPaymentsAutomatically         bool
	AcceptPaymentsWhitelist             []string
	AcceptPaymentsAfter                 *int64
	OnPaymentCreditLimit                *int64
	AllowPayments                       bool
	AllowPaymentRequests                bool
	AllowTagPayments                    bool
	AllowTagPaymentRequests             bool
	AllowExternalPayments               bool
	AllowExternalPaymentRequests        bool
	AcceptExternalPaymentsAutomatically bool
}

func (s Settings) Effective(c *currency.Settings) Effective {
	or := func(v *bool, def bool) bool {
		if v != nil {
			return *v
		}
		return def
	}
	eff := Effective{
		AcceptPaymentsAutomatically:         or(s.AcceptPaymentsAutomatically, c.DefaultAcceptPaymentsAutomatically),
		AcceptPaymentsWhitelist:             s.AcceptPaymentsWhitelist,
		AcceptPaymentsAfter:                 s.AcceptPaymentsAfter,
		OnPaymentCreditLimit:                s.OnPaymentCreditLimit,
		AllowPayments:                       or(s.AllowPayments, c.DefaultAllowPayments),
		AllowPaymentRequests:                or(s.AllowPaymentRequests, c.DefaultAllowPaymentRequests),
		AllowTagPayments:                    or(s.AllowTagPayments, c.DefaultAllowTagPayments),
		AllowTagPaymentRequests:             or(s.AllowTagPaymentRequests, c.DefaultAllowTagPaymentRequests),
		AllowExternalPayments:               or(s.AllowExternalPayments, c.DefaultAllowExternalPayments),
		AllowExternalPaymentRequests:        or(s.AllowExternalPaymentRequests, c.DefaultAllowExternalPaymentRequests),
		AcceptExternalPaymentsAutomatically: or(s.AcceptExternalPaymentsAutomatically, c.DefaultAcceptExternalPaymentsAutomatically),
	}
	if eff.AcceptPaymentsWhitelist == nil {
		eff.AcceptPaymentsWhitelist = c.DefaultAcceptPaymentsWhitelist
	}
	if eff.AcceptPaymentsAfter == nil {
		eff.AcceptPaymentsAfter = c.DefaultAcceptPaymentsAfter
	}
	if eff.OnPaymentCreditLimit == nil {
		eff.OnPaymentCreditLimit = c.DefaultOnPaymentCreditLimit
	}
	return eff
}

// UserSettings are the settings an account owner may change. The rest are
// reserved to the currency admin.
var UserSettings = map[string]bool{
	"acceptPaymentsAutomatically":         true,
	"acceptPaymentsWhitelist":             true,
	"acceptExternalPaymentsAutomatically": true,
	"tags":                                true,
}

// SettingsPatch carries the settings present in an update request.
type SettingsPatch struct {
	AcceptPaymentsAutomatically         *bool      `json:"acceptPaymentsAutomatically,omitempty"`
	AcceptPaymentsWhitelist             *[]string  `json:"acceptPaymentsWhitelist,omitempty"`
	AcceptPaymentsAfter                 *int64     `json:"acceptPaymentsAfter,omitempty"`
	OnPaymentCreditLimit                *int64     `json:"onPaymentCreditLimit,omitempty"`
	AllowPayments                       *bool      `json:"allowPayments,omitempty"`
	AllowPaymentRequests                *bool      `json:"allowPaymentRequests,omitempty"`
	AllowTagPayments                    *bool      `json:"allowTagPayments,omitempty"`
	AllowTagPaymentRequests             *bool      `json:"allowTagPaymentRequests,omitempty"`
	AllowExternalPayments               *bool      `json:"allowExternalPayments,omitempty"`
	AllowExternalPaymentRequests        *bool      `json:"allowExternalPaymentRequests,omitempty"`
	AcceptExternalPaymentsAutomatically *bool      `json:"acceptExternalPaymentsAutomatically,omitempty"`
	Tags                                []TagInput `json:"tags,omitempty"`
}

// Fields lists the json names of the settings present in p.
func (p SettingsPatch) Fields() []string {
	var fields []string
	add := func(present bool, name string) {
		if present {
			fields = append(fields, name)
		}
	}
	add(p.AcceptPaymentsAutomatically != nil, "acceptPaymentsAutomatically")
	add(p.AcceptPaymentsWhitelist != nil, "acceptPaymentsWhitelist")
	add(p.AcceptPaymentsAfter != nil, "acceptPaymentsAfter")
	add(p.OnPaymentCreditLimit != nil, "onPaymentCreditLimit")
	add(p.AllowPayments != nil, "allowPayments")
	add(p.AllowPaymentRequests != nil, "allowPaymentRequests")
	add(p.AllowTagPayments != nil, "allowTagPayments")
	add(p.AllowTagPaymentRequests != nil, "allowTagPaymentRequests")
	add(p.AllowExternalPayments != nil, "allowExternalPayments")
	add(p.AllowExternalPaymentRequests != nil, "allowExternalPaymentRequests")
	add(p.AcceptExternalPaymentsAutomatically != nil, "acceptExternalPaymentsAutomatically")
	add(p.Tags != nil, "tags")
	return fields
}

// Apply overwrites the settings present in p. Tags are handled separately.
func (s *Settings) Apply(p SettingsPatch) {
	if p.AcceptPaymentsAutomatically != nil {
		s.AcceptPaymentsAutomatically = p.AcceptPaymentsAutomatically
	}
	if p.AcceptPaymentsWhitelist != nil {
		s.AcceptPaymentsWhitelist = *p.AcceptPaymentsWhitelist
	}
	if p.AcceptPaymentsAfter != nil {
		s.AcceptPaymentsAfter = p.AcceptPaymentsAfter
	}
	if p.OnPaymentCreditLimit != nil {
		s.OnPaymentCreditLimit = p.OnPaymentCreditLimit
	}
	if p.AllowPayments != nil {
		s.AllowPayments = p.AllowPayments
	}
	if p.AllowPaymentRequests != nil {
		s.AllowPaymentRequests = p.AllowPaymentRequests
	}
	if p.AllowTagPayments != nil {
		s.AllowTagPayments = p.AllowTagPayments
	}
	if p.AllowTagPaymentRequests != nil {
		s.AllowTagPaymentRequests = p.AllowTagPaymentRequests
	}
	if p.AllowExternalPayments != nil {
		s.AllowExternalPayments = p.AllowExternalPayments
	}
	if p.AllowExternalPaymentRequests != nil {
		s.AllowExternalPaymentRequests = p.AllowExternalPaymentRequests
	}
	if p.AcceptExternalPaymentsAutomatically != nil {
		s.AcceptExternalPaymentsAutomatically = p.AcceptExternalPaymentsAutomatically
	}
}
