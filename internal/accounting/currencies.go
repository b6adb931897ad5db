package accounting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/keystore"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// externalAccountSuffix names the virtual account standing for every party
// in other currencies. It never collides with numbered member codes.
const externalAccountSuffix = "EXTR"

type CurrencyInput struct {
	Code       string
	Name       string
	NamePlural string
	Symbol     string
	Decimals   int
	Scale      int
	Rate       currency.Rate
	Settings   *currency.SettingsPatch
}

type CurrencyUpdate struct {
	Name       *string
	NamePlural *string
	Symbol     *string
	Rate       *currency.Rate
	Settings   *currency.SettingsPatch
}

// CreateCurrency stores a new currency administered by the requesting user,
// installs it on the ledger and activates it.
func (s *Service) CreateCurrency(ctx context.Context, actor shared.Actor, in CurrencyInput) (*currency.Currency, error) {
	if actor.Type != shared.ActorUser || actor.UserID == "" {
		return nil, shared.Unauthorized("only users can create currencies")
	}
	cur, err := currency.NewCurrency(in.Code, in.Name, in.NamePlural, in.Symbol, in.Decimals, in.Scale, in.Rate, actor.UserID)
	if err != nil {
		return nil, badInput(err)
	}
	if in.Settings != nil {
		cur.Settings.Apply(*in.Settings)
	}
	exists, err := s.store.Currencies().Exists(ctx, cur.Code)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, currency.ErrDuplicateCurrency{Code: cur.Code}
	}
	sponsor, err := s.sponsor()
	if err != nil {
		return nil, err
	}

	repos := s.store.Repositories(cur.Code)
	err = s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		r := repos.WithTx(tx)
		id, err := keystore.CreateEncryptionKey(ctx, s.cfg.MasterKey, r.Secrets)
		if err != nil {
			return err
		}
		cur.EncryptionKeyID = id
		return r.Currencies.Create(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	sc := s.scopeFor(ctx, cur, repos)

	keys, err := s.ledger.CreateCurrency(ctx, settlement.CurrencyConfig{
		Code:                        cur.Code,
		Rate:                        settlement.Rate{N: cur.Rate.N, D: cur.Rate.D},
		DefaultInitialCredit:        cur.AmountToLedger(cur.Settings.DefaultInitialCreditLimit),
		ExternalTraderInitialCredit: cur.AmountToLedger(cur.Settings.ExternalTraderCreditLimit),
	}, sponsor)
	if err != nil {
		sc.logger.Error("Failed to install currency on the ledger", "error", err)
		return nil, err
	}

	err = s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txs := sc.withTx(tx)
		ids := make([]string, 0, 5)
		for _, kp := range []*settlement.Keypair{keys.Issuer, keys.Credit, keys.Admin, keys.ExternalIssuer, keys.ExternalTrader} {
			id, err := txs.keys.StoreKey(ctx, kp)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		cur.Keys = &currency.Keys{Issuer: ids[0], Credit: ids[1], Admin: ids[2], ExternalIssuer: ids[3], ExternalTrader: ids[4]}
		cur.Status = currency.StatusActive
		cur.UpdatedAt = s.now()

		now := s.now()
		external := &account.Account{
			ID:          cur.ExternalAccountID,
			Code:        cur.Code + externalAccountSuffix,
			Type:        account.TypeVirtual,
			Status:      account.StatusActive,
			KeyID:       cur.Keys.ExternalTrader,
			CreditLimit: cur.Settings.ExternalTraderCreditLimit,
			Users:       []string{cur.AdminID},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := txs.repos.Accounts.Create(ctx, external); err != nil {
			return err
		}
		return txs.repos.Currencies.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}

	sc.logger.Info("Currency created", "admin", cur.AdminID, "issuer", cur.Keys.Issuer)
	return cur, nil
}

// GetCurrency returns the currency with the given code.
func (s *Service) GetCurrency(ctx context.Context, code string) (*currency.Currency, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	return sc.cur, nil
}

// UpdateCurrency changes the names and default settings of a currency. The
// rate is fixed once the currency exists.
func (s *Service) UpdateCurrency(ctx context.Context, actor shared.Actor, code string, in CurrencyUpdate) (*currency.Currency, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Rate != nil && *in.Rate != sc.cur.Rate {
		return nil, shared.BadRequest("changing the currency rate is not supported")
	}
	cur := sc.cur
	if in.Name != nil {
		if *in.Name == "" {
			return nil, badInput(currency.ErrEmptyName)
		}
		cur.Name = *in.Name
	}
	if in.NamePlural != nil {
		cur.NamePlural = *in.NamePlural
	}
	if in.Symbol != nil {
		cur.Symbol = *in.Symbol
	}
	if in.Settings != nil {
		cur.Settings.Apply(*in.Settings)
	}
	cur.UpdatedAt = time.Now()
	if err := sc.repos.Currencies.Update(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}
