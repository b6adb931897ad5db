// Package accounting implements the operations of the currency servers:
// currencies, accounts, transfers and trustlines, on top of the settlement
// ledger and the tenant scoped repositories.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/komunitin/komunitin-sub000/internal/keystore"
	"github.com/komunitin/komunitin-sub000/internal/logger"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// Config holds what the accounting service needs besides its collaborators.
type Config struct {
	// BaseURL is the public URL of this server, used in external identifiers
	// and as the issuer of external tokens.
	BaseURL string
	// MasterKey decrypts the per currency encryption keys.
	MasterKey []byte
	// Sponsor pays the ledger fees and reserves of every currency.
	Sponsor *settlement.Keypair
	// HTTPClient reaches other currency servers. Nil uses a default client.
	HTTPClient *http.Client
	// SweepBatch is the number of pending transfers examined per sweep.
	SweepBatch int
}

// Service is the accounting core shared by all the currencies of the server.
type Service struct {
	store    Store
	ledger   *settlement.Client
	bus      *EventBus
	notifier *federation.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	keyrings sync.Map // currency code -> *keystore.Keyring
}

func NewService(log *slog.Logger, store Store, ledger *settlement.Client, bus *EventBus, cfg Config) *Service {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	log = log.With("component", "accounting")
	return &Service{
		store:    store,
		ledger:   ledger,
		bus:      bus,
		notifier: federation.NewNotifier(log, cfg.BaseURL, cfg.HTTPClient),
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Bus exposes the event bus so add-ons can subscribe.
func (s *Service) Bus() *EventBus {
	return s.bus
}

// scope is the state of one operation on one currency.
type scope struct {
	cur      *currency.Currency
	repos    Repositories
	keys     *keystore.Keyring
	resolver *federation.Resolver
	logger   *slog.Logger
}

// open loads the currency with the given code.
func (s *Service) open(ctx context.Context, code string) (*scope, error) {
	if !currency.ValidCode(code) {
		return nil, currency.ErrCurrencyNotFound{Code: code}
	}
	repos := s.store.Repositories(code)
	cur, err := repos.Currencies.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.scopeFor(ctx, cur, repos), nil
}

func (s *Service) scopeFor(ctx context.Context, cur *currency.Currency, repos Repositories) *scope {
	log := logger.FromContext(ctx, s.logger).With("currency", cur.Code)
	return &scope{
		cur:      cur,
		repos:    repos,
		keys:     s.keyring(cur, repos),
		resolver: federation.NewResolver(log, repos.External, s.cfg.HTTPClient),
		logger:   log,
	}
}

// keyring returns the cached keyring of the currency so its decrypted key
// is only loaded once.
func (s *Service) keyring(cur *currency.Currency, repos Repositories) *keystore.Keyring {
	if k, ok := s.keyrings.Load(cur.Code); ok {
		return k.(*keystore.Keyring)
	}
	k, _ := s.keyrings.LoadOrStore(cur.Code, keystore.NewKeyring(s.logger, s.cfg.MasterKey, cur.EncryptionKeyID, repos.Secrets))
	return k.(*keystore.Keyring)
}

// withTx returns a copy of the scope running its queries in tx.
func (sc *scope) withTx(tx pgx.Tx) *scope {
	c := *sc
	c.repos = sc.repos.WithTx(tx)
	c.keys = sc.keys.WithTx(tx)
	c.resolver = sc.resolver.WithRepository(c.repos.External)
	return &c
}

// ledgerCurrency is the settlement view of the currency.
func (sc *scope) ledgerCurrency() settlement.Currency {
	c := settlement.Currency{
		Code: sc.cur.Code,
		Rate: settlement.Rate{N: sc.cur.Rate.N, D: sc.cur.Rate.D},
	}
	if k := sc.cur.Keys; k != nil {
		c.IssuerKey = k.Issuer
		c.CreditKey = k.Credit
		c.AdminKey = k.Admin
		c.ExternalIssuerKey = k.ExternalIssuer
		c.ExternalTraderKey = k.ExternalTrader
	}
	return c
}

func (sc *scope) requireActive() error {
	if !sc.cur.IsActive() {
		return shared.BadRequest("currency %s is not active", sc.cur.Code)
	}
	return nil
}

// isAdmin tells whether the actor manages the currency. The system acts as
// admin.
func (sc *scope) isAdmin(actor shared.Actor) bool {
	return actor.IsSystem() || (actor.Type == shared.ActorUser && sc.cur.IsAdmin(actor.UserID))
}

// controls tells whether the actor may act for acc.
func (sc *scope) controls(actor shared.Actor, acc *account.Account) bool {
	switch actor.Type {
	case shared.ActorUser:
		return acc.HasUser(actor.UserID)
	case shared.ActorExternal:
		return actor.AccountKey != "" && actor.AccountKey == acc.KeyID
	}
	return false
}

func requireUser(actor shared.Actor) error {
	switch actor.Type {
	case shared.ActorSystem:
		return nil
	case shared.ActorUser:
		if actor.UserID == "" {
			return shared.Unauthorized("user not authenticated")
		}
		return nil
	}
	return shared.Forbidden("operation not allowed to external servers")
}

func (sc *scope) requireAdmin(actor shared.Actor) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	if !sc.isAdmin(actor) {
		return shared.Forbidden("only the currency admin can do this")
	}
	return nil
}

func (s *Service) sponsor() (*settlement.Keypair, error) {
	if s.cfg.Sponsor == nil || !s.cfg.Sponsor.CanSign() {
		return nil, shared.Internal(nil, "sponsor key not configured")
	}
	return s.cfg.Sponsor, nil
}

// roleKey retrieves one of the currency role keys.
func (sc *scope) roleKey(ctx context.Context, role func(*currency.Keys) string) (*settlement.Keypair, error) {
	if sc.cur.Keys == nil {
		return nil, shared.BadRequest("currency %s is not installed on the ledger", sc.cur.Code)
	}
	return sc.keys.RetrieveKey(ctx, role(sc.cur.Keys))
}

func adminKey(k *currency.Keys) string          { return k.Admin }
func issuerKey(k *currency.Keys) string         { return k.Issuer }
func creditKey(k *currency.Keys) string         { return k.Credit }
func externalIssuerKey(k *currency.Keys) string { return k.ExternalIssuer }
func externalTraderKey(k *currency.Keys) string { return k.ExternalTrader }

// refreshBalance recomputes the cached balance of acc from the ledger.
func (s *Service) refreshBalance(ctx context.Context, sc *scope, acc *account.Account) error {
	if acc.Type == account.TypeVirtual {
		return nil
	}
	b, err := s.ledger.Balance(ctx, acc.KeyID, sc.ledgerCurrency().Asset())
	if err != nil {
		return fmt.Errorf("failed to load ledger balance of %s: %w", acc.Code, err)
	}
	acc.SetBalance(sc.cur.AmountFromLedger(b.Balance))
	if err := sc.repos.Accounts.UpdateBalance(ctx, acc.ID, acc.Balance); err != nil {
		return err
	}
	return nil
}

// refreshBalances updates the balances of every local account, logging
// failures: the ledger already settled the transfer.
func (s *Service) refreshBalances(ctx context.Context, sc *scope, accounts ...*account.Account) {
	for _, acc := range accounts {
		if acc == nil {
			continue
		}
		if err := s.refreshBalance(ctx, sc, acc); err != nil {
			sc.logger.Error("Failed to refresh account balance", "account", acc.Code, "error", err)
		}
	}
}

// badInput converts domain validation errors into BadRequest errors.
func badInput(err error) error {
	if err == nil {
		return nil
	}
	var classified interface{ ErrorKind() shared.ErrorKind }
	if errors.As(err, &classified) {
		return err
	}
	return &shared.Error{Kind: shared.KindBadRequest, Message: err.Error(), Err: err}
}
