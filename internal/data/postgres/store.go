package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/accounting"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/platform/persistence"
)

// Store implements accounting.Store over a single PostgreSQL database shared
// by all currencies.
type Store struct {
	db     *persistence.PostgresDB
	logger *slog.Logger
	dir    currency.Directory
}

func NewStore(logger *slog.Logger, db *persistence.PostgresDB) *Store {
	return &Store{
		db:     db,
		logger: logger,
		dir:    NewCurrencyDirectory(logger, db),
	}
}

// Repositories returns repositories bound to the currency with the given code.
func (s *Store) Repositories(code string) accounting.Repositories {
	logger := s.logger.With("currency", code)
	return accounting.Repositories{
		Currencies: NewCurrencyRepository(logger, s.db, code),
		Accounts:   NewAccountRepository(logger, s.db, code),
		Transfers:  NewTransferRepository(logger, s.db, code),
		Trustlines: NewTrustlineRepository(logger, s.db, code),
		External:   NewExternalRepository(logger, s.db, code),
		Secrets:    NewSecretRepository(logger, s.db, code),
		Outbox:     NewOutboxRepository(logger, s.db),
	}
}

func (s *Store) Currencies() currency.Directory {
	return s.dir
}

func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.db.ExecuteTx(ctx, fn)
}
