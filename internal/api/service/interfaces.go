// Package service declares the accounting operations the HTTP handlers
// depend on. accounting.Service implements all of them.
package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
)

// CurrencyService defines the interface for currency operations
type CurrencyService interface {
	// CreateCurrency creates a currency administered by the actor and installs it on the ledger
	CreateCurrency(ctx context.Context, actor shared.Actor, in accounting.CurrencyInput) (*currency.Currency, error)

	// GetCurrency returns the currency with the given code
	GetCurrency(ctx context.Context, code string) (*currency.Currency, error)

	// UpdateCurrency changes names and default settings
	UpdateCurrency(ctx context.Context, actor shared.Actor, code string, in accounting.CurrencyUpdate) (*currency.Currency, error)
}

// AccountService defines the interface for account operations
type AccountService interface {
	CreateAccount(ctx context.Context, actor shared.Actor, code string, in accounting.AccountInput) (*account.Account, error)
	GetAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) (*account.Account, error)
	UpdateAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, in accounting.AccountUpdate) (*account.Account, error)

	// DeleteAccount returns ErrNonZeroBalance unless the balance is zero
	DeleteAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) error
}

// TransferService defines the interface for transfer operations
type TransferService interface {
	CreateTransfer(ctx context.Context, actor shared.Actor, code string, in accounting.TransferInput) (*transfer.Transfer, error)

	// CreateTransfers returns the transfers that could be created. It only
	// fails when none could.
	CreateTransfers(ctx context.Context, actor shared.Actor, code string, ins []accounting.TransferInput) ([]*transfer.Transfer, error)

	UpdateTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, in accounting.TransferUpdate) (*transfer.Transfer, error)
	DeleteTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) error
	GetTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) (*transfer.Transfer, error)
}

// TrustlineService defines the interface for trustline operations
type TrustlineService interface {
	CreateTrustline(ctx context.Context, actor shared.Actor, code string, in accounting.TrustlineInput) (*trustline.Trustline, error)
	UpdateTrustline(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, limit int64) (*trustline.Trustline, error)
	GetTrustline(ctx context.Context, code string, id uuid.UUID) (*trustline.Trustline, error)
	ListTrustlines(ctx context.Context, code string) ([]*trustline.Trustline, error)
}

// AccountingService is every operation the HTTP surface exposes
type AccountingService interface {
	CurrencyService
	AccountService
	TransferService
	TrustlineService
}
