package settlement

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

// Result codes reported by the ledger.
const (
	TxFailed          = "tx_failed"
	TxBadSeq          = "tx_bad_seq"
	TxBadAuth         = "tx_bad_auth"
	TxTooLate         = "tx_too_late"
	TxInsufficientFee = "tx_insufficient_fee"
	TxNoSource        = "tx_no_source_account"

	OpUnderfunded    = "op_underfunded"
	OpNoTrust        = "op_no_trust"
	OpNotAuthorized  = "op_not_authorized"
	OpLineFull       = "op_line_full"
	OpNoDestination  = "op_no_destination"
	OpAlreadyExists  = "op_already_exists"
	OpTooFewOffers   = "op_too_few_offers"
	OpOverSourceMax  = "op_over_source_max"
	OpHasSubEntries  = "op_has_sub_entries"
	OpInvalidLimit   = "op_invalid_limit"
	OpNoIssuer       = "op_no_issuer"
	OpMalformed      = "op_malformed"
	OpBadAuth        = "op_bad_auth"
	OpSuccess        = "op_success"
	OpCrossSelf      = "op_cross_self"
	OpNotFound       = "op_not_found"
	OpLowReserve     = "op_low_reserve"
	OpSrcNoTrust     = "op_src_no_trust"
	OpSrcNotAuth     = "op_src_not_authorized"
	OpCannotDelete   = "op_cannot_delete"
	OpBalanceNonZero = "op_has_balance"
)

// NetworkError is a failed request to the ledger.
type NetworkError struct {
	Status          int
	Title           string
	TransactionCode string
	OperationCodes  []string
	RetryAfter      time.Duration
	Err             error
}

func (e *NetworkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger request failed (status %d)", e.Status)
	if e.Title != "" {
		b.WriteString(": " + e.Title)
	}
	if e.TransactionCode != "" {
		fmt.Fprintf(&b, " [%s %s]", e.TransactionCode, strings.Join(e.OperationCodes, ","))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) HasOperationCode(code string) bool {
	for _, c := range e.OperationCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ErrAccountNotFound is returned by LoadAccount for unknown addresses.
type ErrAccountNotFound struct {
	Address string
}

func (e ErrAccountNotFound) Error() string {
	return "ledger account not found: " + e.Address
}

func (e ErrAccountNotFound) Is(target error) bool {
	t, ok := target.(ErrAccountNotFound)
	return ok && (t.Address == "" || t.Address == e.Address)
}

func (e ErrAccountNotFound) ErrorKind() shared.ErrorKind {
	return shared.KindNotFound
}

// ErrInsufficientBalance means the source cannot afford the payment.
type ErrInsufficientBalance struct {
	Account string
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (e ErrInsufficientBalance) Error() string {
	if e.Account == "" {
		return "insufficient balance"
	}
	return fmt.Sprintf("insufficient balance in %s: available %s, required %s", e.Account, e.Balance, e.Amount)
}

func (e ErrInsufficientBalance) Is(target error) bool {
	t, ok := target.(ErrInsufficientBalance)
	return ok && (t.Account == "" || t.Account == e.Account)
}

func (e ErrInsufficientBalance) ErrorKind() shared.ErrorKind {
	return shared.KindInsufficientBalance
}

// ErrNoTrustPath means no chain of trust can deliver the payment.
type ErrNoTrustPath struct {
	Asset Asset
}

func (e ErrNoTrustPath) Error() string {
	if e.Asset.Code == "" {
		return "no trust path"
	}
	return "no trust path to " + e.Asset.String()
}

func (e ErrNoTrustPath) Is(target error) bool {
	t, ok := target.(ErrNoTrustPath)
	return ok && (t.Asset.Code == "" || t.Asset == e.Asset)
}

func (e ErrNoTrustPath) ErrorKind() shared.ErrorKind {
	return shared.KindNoTrustPath
}

// ErrTransactionExpired means the transaction could not be accepted before its
// expiry time.
type ErrTransactionExpired struct {
	Hash string
	Err  error
}

func (e ErrTransactionExpired) Error() string {
	msg := "transaction expired"
	if e.Hash != "" {
		msg += " " + e.Hash
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ErrTransactionExpired) Unwrap() error {
	return e.Err
}

func (e ErrTransactionExpired) Is(target error) bool {
	t, ok := target.(ErrTransactionExpired)
	return ok && (t.Hash == "" || t.Hash == e.Hash)
}

func (e ErrTransactionExpired) ErrorKind() shared.ErrorKind {
	return shared.KindTransactionExpired
}

// ErrSettlement is any other ledger failure.
type ErrSettlement struct {
	Message string
	Err     error
}

func (e ErrSettlement) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e ErrSettlement) Unwrap() error {
	return e.Err
}

func (e ErrSettlement) Is(target error) bool {
	_, ok := target.(ErrSettlement)
	return ok
}

func (e ErrSettlement) ErrorKind() shared.ErrorKind {
	return shared.KindSettlementError
}

func settlementErrorf(err error, format string, args ...any) error {
	return ErrSettlement{Message: fmt.Sprintf(format, args...), Err: err}
}

// retryable decides whether a failed submission may be sent again, given the
// backoff the driver would wait before doing so.
func retryable(err error, nextBackoff time.Duration) bool {
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Status == 0 {
		return true
	}
	if ne.TransactionCode == TxInsufficientFee {
		return false
	}
	switch {
	case ne.Status == http.StatusBadRequest, ne.Status == http.StatusNotFound:
		return false
	case ne.Status == http.StatusTooManyRequests:
		return ne.RetryAfter > 0 && ne.RetryAfter <= nextBackoff
	}
	return true
}

// classifySubmitError turns a terminal ledger rejection into a domain error.
func classifySubmitError(err error, pathPayment bool) error {
	var ne *NetworkError
	if !errors.As(err, &ne) {
		return settlementErrorf(err, "transaction submission failed")
	}
	if ne.HasOperationCode(OpUnderfunded) {
		return ErrInsufficientBalance{}
	}
	if pathPayment && (ne.HasOperationCode(OpTooFewOffers) || ne.HasOperationCode(OpOverSourceMax)) {
		return ErrNoTrustPath{}
	}
	return settlementErrorf(err, "transaction rejected by the ledger")
}
