// Package creditonpayment raises the credit limit of accounts receiving
// payments, up to the limit configured for the account or its currency.
package creditonpayment

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
)

// Accounts is the part of the accounting service the add-on uses.
type Accounts interface {
	GetCurrency(ctx context.Context, code string) (*currency.Currency, error)
	GetAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) (*account.Account, error)
	UpdateAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, in accounting.AccountUpdate) (*account.Account, error)
}

type Listener struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewListener(logger *slog.Logger, accounts Accounts) *Listener {
	return &Listener{accounts: accounts, logger: logger.With("component", "credit_on_payment")}
}

// Register subscribes the listener to transfer state changes.
func (l *Listener) Register(bus *accounting.EventBus) {
	bus.Subscribe(accounting.EventTransferStateChanged, "credit_on_payment", l.Handle)
}

// Handle raises the payee credit limit by the amount of a committed
// transfer.
func (l *Listener) Handle(ctx context.Context, e accounting.Event) error {
	t := e.Transfer
	if t.State != transfer.StateCommitted || t.ExternalPayeeID != "" {
		return nil
	}
	cur, err := l.accounts.GetCurrency(ctx, e.Currency)
	if err != nil {
		return err
	}
	def := cur.Settings.DefaultOnPaymentCreditLimit
	if def == nil {
		return nil
	}
	// Credit account payments come from this add-on itself.
	if cur.Keys != nil && e.Payer.KeyID == cur.Keys.Credit {
		return nil
	}

	system := shared.SystemActor()
	payee, err := l.accounts.GetAccount(ctx, system, e.Currency, t.PayeeID)
	if err != nil {
		return err
	}
	max := *def
	if payee.Settings.OnPaymentCreditLimit != nil {
		max = *payee.Settings.OnPaymentCreditLimit
	}
	if payee.CreditLimit >= max {
		return nil
	}
	limit := min(max, payee.CreditLimit+t.Amount)
	if _, err := l.accounts.UpdateAccount(ctx, system, e.Currency, payee.ID, accounting.AccountUpdate{CreditLimit: &limit}); err != nil {
		return err
	}
	l.logger.Info("Credit limit raised on payment",
		"currency", e.Currency,
		"account", payee.Code,
		"transfer_id", t.ID.String(),
		"credit_limit", limit,
	)
	return nil
}
