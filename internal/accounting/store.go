package accounting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/external"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/secret"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
)

// Repositories groups the repositories of one currency.
type Repositories struct {
	Currencies currency.Repository
	Accounts   account.Repository
	Transfers  transfer.Repository
	Trustlines trustline.Repository
	External   external.Repository
	Secrets    secret.Repository
	Outbox     outbox.Repository
}

// WithTx binds every repository to tx.
func (r Repositories) WithTx(tx pgx.Tx) Repositories {
	return Repositories{
		Currencies: r.Currencies.WithTx(tx),
		Accounts:   r.Accounts.WithTx(tx),
		Transfers:  r.Transfers.WithTx(tx),
		Trustlines: r.Trustlines.WithTx(tx),
		External:   r.External.WithTx(tx),
		Secrets:    r.Secrets.WithTx(tx),
		Outbox:     r.Outbox.WithTx(tx),
	}
}

// Store opens the repositories of a currency and runs database transactions.
type Store interface {
	Repositories(code string) Repositories
	Currencies() currency.Directory
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}
