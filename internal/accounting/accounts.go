package accounting

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/keystore"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

type AccountInput struct {
	Code           string
	Users          []string
	CreditLimit    *int64
	MaximumBalance *int64
}

type AccountUpdate struct {
	Code           *string
	CreditLimit    *int64
	MaximumBalance *int64
	Settings       *account.SettingsPatch
}

// CreateAccount opens a member account. Only the currency admin creates
// accounts; they own it unless other users are given.
func (s *Service) CreateAccount(ctx context.Context, actor shared.Actor, code string, in AccountInput) (*account.Account, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := sc.requireActive(); err != nil {
		return nil, err
	}

	users := in.Users
	if len(users) == 0 {
		if actor.UserID == "" {
			return nil, badInput(account.ErrNoUsers)
		}
		users = []string{actor.UserID}
	}
	accCode := in.Code
	if accCode != "" {
		if err := s.checkFreeCode(ctx, sc, accCode); err != nil {
			return nil, err
		}
	} else if accCode, err = s.nextCode(ctx, sc); err != nil {
		return nil, err
	}

	settings := sc.cur.Settings
	creditLimit := settings.DefaultInitialCreditLimit
	if in.CreditLimit != nil {
		creditLimit = *in.CreditLimit
	}
	maximumBalance := settings.DefaultInitialMaximumBalance
	if in.MaximumBalance != nil {
		maximumBalance = in.MaximumBalance
	}
	// Validate before touching the ledger.
	if _, err := account.NewAccount(accCode, "", creditLimit, maximumBalance, users); err != nil {
		return nil, badInput(err)
	}

	sponsor, err := s.sponsor()
	if err != nil {
		return nil, err
	}
	issuer, err := sc.roleKey(ctx, issuerKey)
	if err != nil {
		return nil, err
	}
	keys := settlement.AccountKeys{Sponsor: sponsor, Issuer: issuer}
	if creditLimit > 0 {
		if keys.Credit, err = sc.roleKey(ctx, creditKey); err != nil {
			return nil, err
		}
	}
	opts := settlement.AccountOptions{InitialCredit: sc.cur.AmountToLedger(creditLimit)}
	if maximumBalance != nil {
		limit := sc.cur.AmountToLedger(*maximumBalance)
		opts.MaximumBalance = &limit
	}
	kp, err := s.ledger.CreateAccount(ctx, sc.ledgerCurrency(), opts, keys)
	if err != nil {
		sc.logger.Error("Failed to create ledger account", "code", accCode, "error", err)
		return nil, err
	}

	var acc *account.Account
	err = s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txs := sc.withTx(tx)
		keyID, err := txs.keys.StoreKey(ctx, kp)
		if err != nil {
			return err
		}
		acc, err = account.NewAccount(accCode, keyID, creditLimit, maximumBalance, users)
		if err != nil {
			return badInput(err)
		}
		accept := settings.DefaultAcceptPaymentsAutomatically
		acc.Settings.AcceptPaymentsAutomatically = &accept
		acc.Settings.AcceptPaymentsWhitelist = slices.Clone(settings.DefaultAcceptPaymentsWhitelist)
		return txs.repos.Accounts.Create(ctx, acc)
	})
	if err != nil {
		return nil, err
	}

	sc.logger.Info("Account created", "account_id", acc.ID.String(), "code", acc.Code, "key", acc.KeyID)
	return acc, nil
}

func (s *Service) nextCode(ctx context.Context, sc *scope) (string, error) {
	max, err := sc.repos.Accounts.MaxCodeNumber(ctx, sc.cur.Code)
	if err != nil {
		return "", err
	}
	return account.FormatCode(sc.cur.Code, max+1), nil
}

func (s *Service) checkFreeCode(ctx context.Context, sc *scope, code string) error {
	if !strings.HasPrefix(code, sc.cur.Code) || len(code) == len(sc.cur.Code) {
		return shared.BadRequest("account code must start with %s", sc.cur.Code)
	}
	_, err := sc.repos.Accounts.GetByCode(ctx, code)
	if err == nil {
		return account.ErrDuplicateCode{Code: code}
	}
	if errors.Is(err, account.ErrAccountNotFound{}) {
		return nil
	}
	return err
}

// GetAccount returns an active account of the currency.
func (s *Service) GetAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) (*account.Account, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	acc, err := sc.repos.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.isAdmin(actor) || sc.controls(actor, acc) {
		if acc.Tags, err = sc.repos.Accounts.ListTags(ctx, acc.ID); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// UpdateAccount changes the code, credit limit or settings of an account.
// Owners may only change the settings listed in account.UserSettings.
func (s *Service) UpdateAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, in AccountUpdate) (*account.Account, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	acc, err := sc.repos.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.updateAccount(ctx, sc, actor, acc, in)
}

func (s *Service) updateAccount(ctx context.Context, sc *scope, actor shared.Actor, acc *account.Account, in AccountUpdate) (*account.Account, error) {
	admin := sc.isAdmin(actor)
	if !admin && !sc.controls(actor, acc) {
		return nil, shared.Forbidden("user is not allowed to update this account")
	}
	if !admin && (in.Code != nil || in.CreditLimit != nil || in.MaximumBalance != nil) {
		return nil, shared.Forbidden("only the currency admin can change codes and limits")
	}
	if in.Settings != nil && !admin {
		for _, f := range in.Settings.Fields() {
			if !account.UserSettings[f] {
				return nil, shared.Forbidden("user is not allowed to change setting %s", f)
			}
		}
	}

	if in.Code != nil && *in.Code != acc.Code {
		if err := s.checkFreeCode(ctx, sc, *in.Code); err != nil {
			return nil, err
		}
		acc.Code = *in.Code
	}
	if in.MaximumBalance != nil && (acc.MaximumBalance == nil || *acc.MaximumBalance != *in.MaximumBalance) {
		return nil, shared.BadRequest("changing the maximum balance is not supported")
	}

	var tags []account.Tag
	if in.Settings != nil {
		if in.Settings.Tags != nil {
			resolved, err := s.resolveTags(ctx, sc, acc, in.Settings.Tags)
			if err != nil {
				return nil, err
			}
			tags, acc.Tags = resolved, resolved
		}
		acc.Settings.Apply(*in.Settings)
	}

	if in.CreditLimit != nil && *in.CreditLimit != acc.CreditLimit {
		if err := s.updateCredit(ctx, sc, acc, *in.CreditLimit); err != nil {
			return nil, err
		}
	}

	acc.UpdatedAt = s.now()
	err := s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txs := sc.withTx(tx)
		if err := txs.repos.Accounts.Update(ctx, acc); err != nil {
			return err
		}
		if tags != nil {
			return txs.repos.Accounts.ReplaceTags(ctx, acc.ID, tags)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// updateCredit moves the credit difference on the ledger and recomputes the
// balance against the new limit.
func (s *Service) updateCredit(ctx context.Context, sc *scope, acc *account.Account, limit int64) error {
	if limit < 0 {
		return badInput(account.ErrNegativeCreditLimit)
	}
	sponsor, err := s.sponsor()
	if err != nil {
		return err
	}
	keys := settlement.CreditKeys{Sponsor: sponsor}
	if limit > acc.CreditLimit {
		keys.Credit, err = sc.roleKey(ctx, creditKey)
	} else {
		keys.Account, err = sc.roleKey(ctx, adminKey)
	}
	if err != nil {
		return err
	}
	from, to := sc.cur.AmountToLedger(acc.CreditLimit), sc.cur.AmountToLedger(limit)
	if _, err := s.ledger.UpdateCredit(ctx, sc.ledgerCurrency(), acc.KeyID, from, to, keys); err != nil {
		sc.logger.Error("Failed to update account credit", "account", acc.Code, "error", err)
		return err
	}
	sc.logger.Info("Account credit updated", "account", acc.Code, "from", acc.CreditLimit, "to", limit)

	acc.CreditLimit = limit
	b, err := s.ledger.Balance(ctx, acc.KeyID, sc.ledgerCurrency().Asset())
	if err != nil {
		return err
	}
	acc.SetBalance(sc.cur.AmountFromLedger(b.Balance))
	return nil
}

// resolveTags hashes new tag values and keeps the hashes of tags that are
// only renamed.
func (s *Service) resolveTags(ctx context.Context, sc *scope, acc *account.Account, inputs []account.TagInput) ([]account.Tag, error) {
	if err := account.ValidateTags(inputs); err != nil {
		return nil, badInput(err)
	}
	existing, err := sc.repos.Accounts.ListTags(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]account.Tag, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
	}

	tags := make([]account.Tag, 0, len(inputs))
	for _, in := range inputs {
		if in.Value == "" {
			old, ok := byID[*in.ID]
			if !ok {
				return nil, shared.BadRequest("unknown tag %s", in.ID.String())
			}
			tags = append(tags, account.Tag{ID: old.ID, Name: in.Name, Hash: old.Hash})
			continue
		}
		hash, err := keystore.TagHash(in.Value)
		if err != nil {
			return nil, err
		}
		id := uuid.New()
		if in.ID != nil {
			id = *in.ID
		}
		tags = append(tags, account.Tag{ID: id, Name: in.Name, Hash: hash})
	}
	return tags, nil
}

// DeleteAccount closes an account whose balance is zero, returning its
// credit to the currency on the ledger.
func (s *Service) DeleteAccount(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) error {
	sc, err := s.open(ctx, code)
	if err != nil {
		return err
	}
	if err := requireUser(actor); err != nil {
		return err
	}
	acc, err := sc.repos.Accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !sc.isAdmin(actor) && !sc.controls(actor, acc) {
		return shared.Forbidden("user is not allowed to delete this account")
	}
	if acc.Type == account.TypeVirtual {
		return shared.BadRequest("account %s cannot be deleted", acc.Code)
	}
	if err := s.refreshBalance(ctx, sc, acc); err != nil {
		return err
	}
	if acc.Balance != 0 {
		return account.ErrNonZeroBalance{ID: acc.ID, Balance: acc.Balance}
	}

	sponsor, err := s.sponsor()
	if err != nil {
		return err
	}
	admin, err := sc.roleKey(ctx, adminKey)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteAccount(ctx, sc.ledgerCurrency(), acc.KeyID, settlement.AdminKeys{Admin: admin, Sponsor: sponsor}); err != nil {
		sc.logger.Error("Failed to delete ledger account", "account", acc.Code, "error", err)
		return err
	}
	if err := acc.Delete(); err != nil {
		return err
	}
	if err := sc.repos.Accounts.Update(ctx, acc); err != nil {
		return err
	}
	sc.logger.Info("Account deleted", "account_id", acc.ID.String(), "code", acc.Code)
	return nil
}
