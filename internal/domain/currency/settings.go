package currency

// DefaultAcceptPaymentsAfter is two weeks, in seconds.
const DefaultAcceptPaymentsAfter int64 = 14 * 24 * 60 * 60

// Settings are the currency wide policies. Account settings left unset fall
// back to the Default* values here.
type Settings struct {
	DefaultInitialCreditLimit    int64  `json:"defaultInitialCreditLimit"`
	DefaultInitialMaximumBalance *int64 `json:"defaultInitialMaximumBalance,omitempty"`

	DefaultAllowPayments                bool     `json:"defaultAllowPayments"`
	DefaultAllowPaymentRequests         bool     `json:"defaultAllowPaymentRequests"`
	DefaultAcceptPaymentsAutomatically  bool     `json:"defaultAcceptPaymentsAutomatically"`
	DefaultAcceptPaymentsWhitelist      []string `json:"defaultAcceptPaymentsWhitelist"`
	DefaultAllowSimplePayments          bool     `json:"defaultAllowSimplePayments"`
	DefaultAllowSimplePaymentRequests   bool     `json:"defaultAllowSimplePaymentRequests"`
	DefaultAllowQrPayments              bool     `json:"defaultAllowQrPayments"`
	DefaultAllowQrPaymentRequests       bool     `json:"defaultAllowQrPaymentRequests"`
	DefaultAllowMultiplePayments        bool     `json:"defaultAllowMultiplePayments"`
	DefaultAllowMultiplePaymentRequests bool     `json:"defaultAllowMultiplePaymentRequests"`
	DefaultAllowTagPayments             bool     `json:"defaultAllowTagPayments"`
	DefaultAllowTagPaymentRequests      bool     `json:"defaultAllowTagPaymentRequests"`

	// Seconds a payment request stays pending before the sweep accepts it.
	// Nil disables automatic acceptance by age.
	DefaultAcceptPaymentsAfter *int64 `json:"defaultAcceptPaymentsAfter,omitempty"`
	// Nil disables the credit on payment add-on.
	DefaultOnPaymentCreditLimit *int64 `json:"defaultOnPaymentCreditLimit,omitempty"`

	EnableExternalPayments                     bool `json:"enableExternalPayments"`
	EnableExternalPaymentRequests              bool `json:"enableExternalPaymentRequests"`
	DefaultAllowExternalPayments               bool `json:"defaultAllowExternalPayments"`
	DefaultAllowExternalPaymentRequests        bool `json:"defaultAllowExternalPaymentRequests"`
	DefaultAcceptExternalPaymentsAutomatically bool `json:"defaultAcceptExternalPaymentsAutomatically"`

	ExternalTraderCreditLimit    int64  `json:"externalTraderCreditLimit"`
	ExternalTraderMaximumBalance *int64 `json:"externalTraderMaximumBalance,omitempty"`
}

func DefaultSettings() Settings {
	after := DefaultAcceptPaymentsAfter
	return Settings{
		DefaultAllowPayments:                true,
		DefaultAllowPaymentRequests:         true,
		DefaultAcceptPaymentsWhitelist:      []string{},
		DefaultAllowSimplePayments:          true,
		DefaultAllowSimplePaymentRequests:   true,
		DefaultAllowQrPayments:              true,
		DefaultAllowQrPaymentRequests:       true,
		DefaultAllowMultiplePayments:        true,
		DefaultAllowMultiplePaymentRequests: true,
		DefaultAllowTagPayments:             true,
		DefaultAcceptPaymentsAfter:          &after,
		EnableExternalPayments:              true,
		DefaultAllowExternalPayments:        true,
	}
}

// SettingsPatch carries the settings present in an update request.
type SettingsPatch struct {
	DefaultInitialCreditLimit                  *int64    `json:"defaultInitialCreditLimit,omitempty"`
	DefaultInitialMaximumBalance               *int64    `json:"defaultInitialMaximumBalance,omitempty"`
	DefaultAllowPayments                       *bool     `json:"defaultAllowPayments,omitempty"`
	DefaultAllowPaymentRequests                *bool     `json:"defaultAllowPaymentRequests,omitempty"`
	DefaultAcceptPaymentsAutomatically         *bool     `json:"defaultAcceptPaymentsAutomatically,omitempty"`
	DefaultAcceptPaymentsWhitelist             *[]string `json:"defaultAcceptPaymentsWhitelist,omitempty"`
	DefaultAllowTagPayments                    *bool     `json:"defaultAllowTagPayments,omitempty"`
	DefaultAllowTagPaymentRequests             *bool     `json:"defaultAllowTagPaymentRequests,omitempty"`
	DefaultAcceptPaymentsAfter                 *int64    `json:"defaultAcceptPaymentsAfter,omitempty"`
	DefaultOnPaymentCreditLimit                *int64    `json:"defaultOnPaymentCreditLimit,omitempty"`
	EnableExternalPayments                     *bool     `json:"enableExternalPayments,omitempty"`
	EnableExternalPaymentRequests              *bool     `json:"enableExternalPaymentRequests,omitempty"`
	DefaultAllowExternalPayments               *bool     `json:"defaultAllowExternalPayments,omitempty"`
	DefaultAllowExternalPaymentRequests        *bool     `json:"defaultAllowExternalPaymentRequests,omitempty"`
	DefaultAcceptExternalPaymentsAutomatically *bool     `json:"defaultAcceptExternalPaymentsAutomatically,omitempty"`
	ExternalTraderCreditLimit                  *int64    `json:"externalTraderCreditLimit,omitempty"`
	ExternalTraderMaximumBalance               *int64    `json:"externalTraderMaximumBalance,omitempty"`
}

// Apply overwrites the settings present in p.
func (s *Settings) Apply(p SettingsPatch) {
	setInt := func(dst *int64, v *int64) {
		if v != nil {
			*dst = *v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&s.DefaultInitialCreditLimit, p.DefaultInitialCreditLimit)
	setInt(&s.ExternalTraderCreditLimit, p.ExternalTraderCreditLimit)
	setBool(&s.DefaultAllowPayments, p.DefaultAllowPayments)
	setBool(&s.DefaultAllowPaymentRequests, p.DefaultAllowPaymentRequests)
	setBool(&s.DefaultAcceptPaymentsAutomatically, p.DefaultAcceptPaymentsAutomatically)
	setBool(&s.DefaultAllowTagPayments, p.DefaultAllowTagPayments)
	setBool(&s.DefaultAllowTagPaymentRequests, p.DefaultAllowTagPaymentRequests)
	setBool(&s.EnableExternalPayments, p.EnableExternalPayments)
	setBool(&s.EnableExternalPaymentRequests, p.EnableExternalPaymentRequests)
	setBool(&s.DefaultAllowExternalPayments, p.DefaultAllowExternalPayments)
	setBool(&s.DefaultAllowExternalPaymentRequests, p.DefaultAllowExternalPaymentRequests)
	setBool(&s.DefaultAcceptExternalPaymentsAutomatically, p.DefaultAcceptExternalPaymentsAutomatically)
	if p.DefaultInitialMaximumBalance != nil {
		s.DefaultInitialMaximumBalance = p.DefaultInitialMaximumBalance
	}
	if p.DefaultAcceptPaymentsWhitelist != nil {
		s.DefaultAcceptPaymentsWhitelist = *p.DefaultAcceptPaymentsWhitelist
	}
	if p.DefaultAcceptPaymentsAfter != nil {
		s.DefaultAcceptPaymentsAfter = p.DefaultAcceptPaymentsAfter
	}
	if p.DefaultOnPaymentCreditLimit != nil {
		s.DefaultOnPaymentCreditLimit = p.DefaultOnPaymentCreditLimit
	}
	if p.ExternalTraderMaximumBalance != nil {
		s.ExternalTraderMaximumBalance = p.ExternalTraderMaximumBalance
	}
}
