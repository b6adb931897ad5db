package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// remoteAccount is an account of another currency server together with the
// URL it was resolved from.
type remoteAccount struct {
	*federation.Resource[federation.AccountAttributes]
	href string
}

func (s *Service) resolveRemote(ctx context.Context, sc *scope, id federation.Identifier) (*remoteAccount, error) {
	res, err := sc.resolver.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	return &remoteAccount{Resource: res, href: id.Href()}, nil
}

// lookupRemote resolves the external account of a stored transfer.
func (s *Service) lookupRemote(ctx context.Context, sc *scope, id string) (*remoteAccount, error) {
	ident, err := sc.resolver.Lookup(ctx, id, federation.TypeAccounts)
	if err != nil {
		return nil, err
	}
	return s.resolveRemote(ctx, sc, ident)
}

func (s *Service) externalAccount(ctx context.Context, sc *scope) (*account.Account, error) {
	return sc.repos.Accounts.GetByID(ctx, sc.cur.ExternalAccountID)
}

// externalPartyKey returns the ledger key of the external side of t, or ""
// when it cannot be resolved.
func (s *Service) externalPartyKey(ctx context.Context, sc *scope, t *transfer.Transfer) string {
	id := t.ExternalPayerID
	if id == "" {
		id = t.ExternalPayeeID
	}
	if id == "" {
		return ""
	}
	remote, err := s.lookupRemote(ctx, sc, id)
	if err != nil {
		sc.logger.Warn("Failed to resolve external party", "transfer_id", t.ID.String(), "error", err)
		return ""
	}
	return remote.Attributes.Key
}

func (s *Service) createExternalTransfer(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	switch {
	case in.Payer.IsExternal() && in.Payee.IsExternal():
		return nil, shared.BadRequest("payer and payee cannot both be external")
	case in.Authorization != nil:
		return nil, shared.BadRequest("external transfers cannot carry an authorization")
	case in.Payee.IsExternal() && actor.IsExternal():
		return s.acceptExternalRequest(ctx, sc, actor, in)
	case in.Payee.IsExternal():
		return s.payExternal(ctx, sc, actor, in)
	case actor.IsExternal():
		return s.acknowledgeExternalPayment(ctx, sc, actor, in)
	default:
		return s.requestExternalPayment(ctx, sc, actor, in)
	}
}

// payExternal handles a local user paying an account of another currency.
func (s *Service) payExternal(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	if !sc.cur.Settings.EnableExternalPayments {
		return nil, shared.Forbidden("external payments are disabled")
	}
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	payer, err := sc.localAccount(ctx, in.Payer)
	if err != nil {
		return nil, err
	}
	admin := sc.isAdmin(actor)
	if !admin && !sc.controls(actor, payer) {
		return nil, shared.Forbidden("user is not allowed to transfer from this account")
	}
	if !payer.Settings.Effective(&sc.cur.Settings).AllowExternalPayments {
		return nil, shared.Forbidden("account %s is not allowed to make external payments", payer.Code)
	}
	remote, err := s.resolveRemote(ctx, sc, in.Payee)
	if err != nil {
		return nil, err
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}

	t, err := transfer.NewTransfer(in.ID, payer.ID, ext.ID, in.Amount, in.Meta, actor.UserID)
	if err != nil {
		return nil, badInput(err)
	}
	t.ExternalPayeeID = remote.ID
	if err := s.insertTransfer(ctx, sc, t, payer, ext); err != nil {
		return nil, err
	}
	if in.State != transfer.StateCommitted {
		return t, nil
	}
	if err := s.submitExternal(ctx, sc, t, payer, ext, remote, admin); err != nil {
		return nil, err
	}
	s.notifyExternalPayee(ctx, sc, t, payer, remote, false)
	return t, nil
}

// acceptExternalRequest handles another server asking a local account to
// pay one of its accounts.
func (s *Service) acceptExternalRequest(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	if !sc.cur.Settings.EnableExternalPaymentRequests {
		return nil, shared.Forbidden("external payment requests are disabled")
	}
	if in.State != transfer.StateCommitted {
		return nil, shared.BadRequest("external payment requests must be created committed")
	}
	payer, err := sc.localAccount(ctx, in.Payer)
	if err != nil {
		return nil, err
	}
	if !payer.Settings.Effective(&sc.cur.Settings).AllowExternalPaymentRequests {
		return nil, shared.Forbidden("account %s does not accept external payment requests", payer.Code)
	}
	remote, err := s.resolveRemote(ctx, sc, in.Payee)
	if err != nil {
		return nil, err
	}
	if remote.Attributes.Key != actor.AccountKey {
		return nil, shared.Forbidden("authenticated key does not match the payee account")
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}

	t, err := transfer.NewTransfer(in.ID, payer.ID, ext.ID, in.Amount, in.Meta, sc.cur.AdminID)
	if err != nil {
		return nil, badInput(err)
	}
	t.ExternalPayeeID = remote.ID
	if err := s.insertTransfer(ctx, sc, t, payer, ext); err != nil {
		return nil, err
	}
	if !payer.AcceptsExternalAutomatically(remote.ID, &sc.cur.Settings) {
		if err := s.saveState(ctx, sc, t, transfer.StatePending, payer, ext); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := s.submitExternal(ctx, sc, t, payer, ext, remote, true); err != nil {
		return nil, err
	}
	return t, nil
}

// acknowledgeExternalPayment records a payment another server already
// settled on the ledger in favour of a local account.
func (s *Service) acknowledgeExternalPayment(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	if in.State != transfer.StateCommitted {
		return nil, shared.BadRequest("external payments must be created committed")
	}
	if in.Hash == "" {
		return nil, shared.BadRequest("the ledger hash of the payment is required")
	}
	if _, err := sc.repos.Transfers.GetByHash(ctx, in.Hash); err == nil {
		return nil, shared.BadRequest("payment %s already recorded", in.Hash)
	} else if !errors.Is(err, transfer.ErrTransferNotFound{}) {
		return nil, err
	}
	payee, err := sc.localAccount(ctx, in.Payee)
	if err != nil {
		return nil, err
	}
	remote, err := s.resolveRemote(ctx, sc, in.Payer)
	if err != nil {
		return nil, err
	}
	if remote.Attributes.Key != actor.AccountKey {
		return nil, shared.Forbidden("authenticated key does not match the payer account")
	}
	amount, err := s.ledgerPayment(ctx, sc, in.Hash, actor.AccountKey, payee.KeyID)
	if err != nil {
		return nil, err
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}

	t, err := transfer.NewTransfer(in.ID, ext.ID, payee.ID, amount, in.Meta, sc.cur.AdminID)
	if err != nil {
		return nil, badInput(err)
	}
	t.ExternalPayerID = remote.ID
	if err := s.insertTransfer(ctx, sc, t, ext, payee); err != nil {
		return nil, err
	}
	t.Hash = in.Hash
	if err := s.settleAcknowledged(ctx, sc, t, ext, payee, remote); err != nil {
		return nil, err
	}
	return t, nil
}

// requestExternalPayment asks the server of an external account to pay a
// local account. The remote answer decides the local state.
func (s *Service) requestExternalPayment(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	if !sc.cur.Settings.EnableExternalPaymentRequests {
		return nil, shared.Forbidden("external payment requests are disabled")
	}
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	payee, err := sc.localAccount(ctx, in.Payee)
	if err != nil {
		return nil, err
	}
	if !sc.isAdmin(actor) && !sc.controls(actor, payee) {
		return nil, shared.Forbidden("user is not allowed to request payments to this account")
	}
	if !payee.Settings.Effective(&sc.cur.Settings).AllowExternalPaymentRequests {
		return nil, shared.Forbidden("account %s is not allowed to request external payments", payee.Code)
	}
	remote, err := s.resolveRemote(ctx, sc, in.Payer)
	if err != nil {
		return nil, err
	}
	remoteCur, err := sc.resolver.AccountCurrency(ctx, remote.Resource, remote.href)
	if err != nil {
		return nil, err
	}
	signer, err := sc.keys.RetrieveKey(ctx, payee.KeyID)
	if err != nil {
		return nil, err
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}

	t, err := transfer.NewTransfer(in.ID, ext.ID, payee.ID, in.Amount, in.Meta, actor.UserID)
	if err != nil {
		return nil, badInput(err)
	}
	t.ExternalPayerID = remote.ID
	if err := s.insertTransfer(ctx, sc, t, ext, payee); err != nil {
		return nil, err
	}

	doc := s.remoteDocument(sc, t, currency.ConvertAmount(t.Amount, sc.cur, remoteCur.Attributes.Currency()))
	doc.Data.Relationships = map[string]federation.Relationship{
		"payer": {Data: &federation.Identifier{ID: remote.ID, Type: federation.TypeAccounts}},
		"payee": {Data: s.localIdentifier(sc, payee)},
	}
	answer, err := s.notifier.CreateTransfer(ctx, remote.href, doc, signer)
	if err != nil {
		return nil, err
	}

	switch transfer.State(answer.State) {
	case transfer.StateCommitted:
		if answer.Hash == "" {
			return nil, shared.Internal(nil, "remote server committed transfer %s without hash", t.ID)
		}
		if t.Amount, err = s.ledgerPayment(ctx, sc, answer.Hash, remote.Attributes.Key, payee.KeyID); err != nil {
			return nil, err
		}
		t.Hash = answer.Hash
		if err := s.settleAcknowledged(ctx, sc, t, ext, payee, remote); err != nil {
			return nil, err
		}
	case transfer.StatePending:
		err = s.saveState(ctx, sc, t, transfer.StatePending, ext, payee)
	case transfer.StateRejected:
		err = s.saveStates(ctx, sc, t, ext, payee, transfer.StatePending, transfer.StateRejected)
	case transfer.StateFailed:
		err = s.saveStates(ctx, sc, t, ext, payee, transfer.StateSubmitted, transfer.StateFailed)
	default:
		return nil, shared.Internal(nil, "remote server answered unexpected state %q", answer.State)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// updateExternalTransfer accepts or rejects a pending external payment
// request.
func (s *Service) updateExternalTransfer(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, in TransferUpdate) (*transfer.Transfer, error) {
	if in.State == nil {
		return nil, shared.BadRequest("external transfers only accept state updates")
	}
	if *in.State == t.State {
		return t, nil
	}
	if t.State != transfer.StatePending {
		return nil, shared.BadRequest("only pending external transfers can be updated")
	}
	switch {
	case t.ExternalPayerID != "" && actor.IsExternal():
		return s.externalPayerAnswer(ctx, sc, actor, t, *in.State, in.Hash)
	case t.ExternalPayeeID != "" && !actor.IsExternal():
		return s.answerExternalRequest(ctx, sc, actor, t, *in.State)
	}
	return nil, shared.BadRequest("invalid external transfer update")
}

// externalPayerAnswer applies the answer of the payer server to a payment
// request sent by a local account.
func (s *Service) externalPayerAnswer(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, to transfer.State, hash *string) (*transfer.Transfer, error) {
	remote, err := s.lookupRemote(ctx, sc, t.ExternalPayerID)
	if err != nil {
		return nil, err
	}
	if remote.Attributes.Key != actor.AccountKey {
		return nil, shared.Forbidden("authenticated key is not the payer of the transfer")
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}
	payee, err := sc.repos.Accounts.GetByID(ctx, t.PayeeID)
	if err != nil {
		return nil, err
	}

	switch to {
	case transfer.StateCommitted:
		if hash == nil || *hash == "" {
			return nil, shared.BadRequest("the ledger hash of the payment is required")
		}
		amount, err := s.ledgerPayment(ctx, sc, *hash, remote.Attributes.Key, payee.KeyID)
		if err != nil {
			return nil, err
		}
		if amount != t.Amount {
			t.Amount = amount
			if err := sc.repos.Transfers.Update(ctx, t); err != nil {
				return nil, err
			}
		}
		t.Hash = *hash
		err = s.settleAcknowledged(ctx, sc, t, ext, payee, remote)
		if err != nil {
			return nil, err
		}
	case transfer.StateRejected:
		if err := s.saveState(ctx, sc, t, transfer.StateRejected, ext, payee); err != nil {
			return nil, err
		}
	case transfer.StateFailed:
		if err := s.saveStates(ctx, sc, t, ext, payee, transfer.StateSubmitted, transfer.StateFailed); err != nil {
			return nil, err
		}
	default:
		return nil, transfer.ErrInvalidTransition{From: t.State, To: to}
	}
	return t, nil
}

// answerExternalRequest lets the local payer, or the admin, accept or reject
// a payment request from another server, which is told the outcome.
func (s *Service) answerExternalRequest(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, to transfer.State) (*transfer.Transfer, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	if err := transfer.CheckRequest(t.State, to); err != nil {
		return nil, err
	}
	payer, err := sc.repos.Accounts.GetByID(ctx, t.PayerID)
	if err != nil {
		return nil, err
	}
	admin := sc.isAdmin(actor)
	if !admin && !sc.controls(actor, payer) {
		return nil, shared.Forbidden("user is not allowed to update this external transfer")
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return nil, err
	}
	remote, err := s.lookupRemote(ctx, sc, t.ExternalPayeeID)
	if err != nil {
		return nil, err
	}

	switch to {
	case transfer.StateCommitted:
		if err := s.submitExternal(ctx, sc, t, payer, ext, remote, admin); err != nil {
			return nil, err
		}
	case transfer.StateRejected:
		if err := s.saveState(ctx, sc, t, transfer.StateRejected, payer, ext); err != nil {
			return nil, err
		}
	default:
		return nil, shared.BadRequest("external payment requests can only be committed or rejected")
	}
	s.notifyExternalPayee(ctx, sc, t, payer, remote, true)
	return t, nil
}

// submitExternal settles a payment from a local account to an external one
// through the cheapest trust path.
func (s *Service) submitExternal(ctx context.Context, sc *scope, t *transfer.Transfer, payer, ext *account.Account, remote *remoteAccount, asAdmin bool) error {
	sponsor, err := s.sponsor()
	if err != nil {
		return err
	}
	signer, err := sc.payerKey(ctx, payer, asAdmin)
	if err != nil {
		return err
	}
	remoteCur, err := sc.resolver.AccountCurrency(ctx, remote.Resource, remote.href)
	if err != nil {
		return err
	}
	if err := s.saveState(ctx, sc, t, transfer.StateSubmitted, payer, ext); err != nil {
		return err
	}

	dest := remoteCur.Attributes.Currency()
	amount := dest.AmountToLedger(currency.ConvertAmount(t.Amount, sc.cur, dest))
	quote := settlement.QuoteInput{DestCode: dest.Code, DestIssuer: remoteCur.Attributes.Keys.Issuer, Amount: amount}
	keys := settlement.PaymentKeys{Account: signer, Sponsor: sponsor}

	var res *settlement.Transfer
	for attempt := 0; attempt < 2; attempt++ {
		path, ok, qerr := s.ledger.QuotePath(ctx, sc.ledgerCurrency(), quote)
		if qerr != nil {
			return s.fail(ctx, sc, t, payer, ext, qerr)
		}
		if !ok {
			return s.fail(ctx, sc, t, payer, ext, settlement.ErrNoTrustPath{Asset: settlement.Asset{Code: dest.Code, Issuer: quote.DestIssuer}})
		}
		res, err = s.ledger.ExternalPay(ctx, sc.ledgerCurrency(), payer.KeyID, settlement.ExternalPayInput{
			Payee:  remote.Attributes.Key,
			Amount: amount,
			Path:   *path,
		}, keys)
		// A path consumed since it was quoted is quoted again once.
		if !errors.Is(err, settlement.ErrNoTrustPath{}) {
			break
		}
	}
	if err != nil {
		return s.fail(ctx, sc, t, payer, ext, err)
	}

	t.Hash = res.Hash
	s.refreshBalances(ctx, sc, payer)
	if err := s.saveState(ctx, sc, t, transfer.StateCommitted, payer, ext); err != nil {
		return err
	}
	s.refreshTrustline(ctx, sc, remoteCur)
	return nil
}

// settleAcknowledged commits an external payment already settled on the
// ledger.
func (s *Service) settleAcknowledged(ctx context.Context, sc *scope, t *transfer.Transfer, ext, payee *account.Account, remote *remoteAccount) error {
	s.refreshBalances(ctx, sc, payee)
	if err := s.saveStates(ctx, sc, t, ext, payee, transfer.StateSubmitted, transfer.StateCommitted); err != nil {
		return err
	}
	if remoteCur, err := sc.resolver.AccountCurrency(ctx, remote.Resource, remote.href); err == nil {
		s.refreshTrustline(ctx, sc, remoteCur)
	} else {
		sc.logger.Warn("Failed to resolve external currency", "account", remote.ID, "error", err)
	}
	return nil
}

// saveStates walks t through states in order.
func (s *Service) saveStates(ctx context.Context, sc *scope, t *transfer.Transfer, payer, payee *account.Account, states ...transfer.State) error {
	for _, st := range states {
		if err := s.saveState(ctx, sc, t, st, payer, payee); err != nil {
			return err
		}
	}
	return nil
}

// ledgerPayment checks that the ledger transaction hash pays the local asset
// from one key to another and returns the amount in minor units.
func (s *Service) ledgerPayment(ctx context.Context, sc *scope, hash, from, to string) (int64, error) {
	rec, err := s.ledger.GetTransfer(ctx, hash)
	if err != nil {
		return 0, shared.BadRequest("payment %s not found on the ledger", hash)
	}
	asset := sc.ledgerCurrency().Asset()
	for _, p := range rec.Payments {
		if p.From == from && p.To == to && p.Asset == asset {
			amount := sc.cur.AmountFromLedger(p.Amount)
			if amount <= 0 {
				return 0, badInput(transfer.ErrInvalidAmount)
			}
			return amount, nil
		}
	}
	return 0, shared.BadRequest("payment %s does not pay %s from %s", hash, to, from)
}

// notifyExternalPayee tells the payee server about a payment or about the
// answer to its payment request. The ledger outcome is final, so failures
// are only logged.
func (s *Service) notifyExternalPayee(ctx context.Context, sc *scope, t *transfer.Transfer, payer *account.Account, remote *remoteAccount, update bool) {
	signer, err := sc.keys.RetrieveKey(ctx, payer.KeyID)
	if err != nil {
		sc.logger.Error("Failed to load payer key for notification", "transfer_id", t.ID.String(), "error", err)
		return
	}
	if update {
		_, err = s.notifier.UpdateTransfer(ctx, remote.href, t.ID.String(), string(t.State), t.Hash, signer)
	} else {
		remoteCur, rerr := sc.resolver.AccountCurrency(ctx, remote.Resource, remote.href)
		if rerr != nil {
			sc.logger.Error("Failed to resolve external currency", "transfer_id", t.ID.String(), "error", rerr)
			return
		}
		doc := s.remoteDocument(sc, t, currency.ConvertAmount(t.Amount, sc.cur, remoteCur.Attributes.Currency()))
		doc.Data.Relationships = map[string]federation.Relationship{
			"payer": {Data: s.localIdentifier(sc, payer)},
			"payee": {Data: &federation.Identifier{ID: remote.ID, Type: federation.TypeAccounts}},
		}
		_, err = s.notifier.CreateTransfer(ctx, remote.href, doc, signer)
	}
	if err != nil {
		sc.logger.Error("Failed to notify external payee", "transfer_id", t.ID.String(), "error", err)
	}
}

// remoteDocument is t as sent to the other server, with the amount in its
// currency.
func (s *Service) remoteDocument(sc *scope, t *transfer.Transfer, amount int64) federation.Document[federation.TransferAttributes] {
	created, updated := t.CreatedAt.UTC().Truncate(time.Millisecond), t.UpdatedAt.UTC().Truncate(time.Millisecond)
	state := t.State
	if t.ExternalPayerID != "" {
		state = transfer.StateCommitted
	}
	return federation.Document[federation.TransferAttributes]{Data: federation.Resource[federation.TransferAttributes]{
		ID:   t.ID.String(),
		Type: federation.TypeTransfers,
		Attributes: federation.TransferAttributes{
			Amount:  amount,
			Meta:    t.Meta,
			State:   string(state),
			Hash:    t.Hash,
			Created: &created,
			Updated: &updated,
		},
	}}
}

func (s *Service) localIdentifier(sc *scope, acc *account.Account) *federation.Identifier {
	id := federation.ExternalIdentifier(acc.ID.String(), federation.TypeAccounts,
		federation.AccountHref(s.cfg.BaseURL, sc.cur.Code, acc.ID.String()))
	return &id
}

// refreshTrustline updates the cached trade balance with the partner
// currency. Currencies without a trustline are skipped.
func (s *Service) refreshTrustline(ctx context.Context, sc *scope, remoteCur *federation.Resource[federation.CurrencyAttributes]) {
	keys := remoteCur.Attributes.Keys
	if keys == nil || keys.ExternalIssuer == "" {
		return
	}
	line, err := sc.repos.Trustlines.GetByTrusted(ctx, remoteCur.ID)
	if errors.Is(err, trustline.ErrTrustlineNotFound{}) {
		return
	}
	if err != nil {
		sc.logger.Error("Failed to load trustline", "trusted", remoteCur.ID, "error", err)
		return
	}
	b, err := s.ledger.TrustedBalance(ctx, sc.ledgerCurrency(), keys.ExternalIssuer)
	if err != nil {
		sc.logger.Error("Failed to load trustline balance", "trusted", remoteCur.ID, "error", err)
		return
	}
	line.Balance = sc.cur.AmountFromLedger(b)
	line.UpdatedAt = s.now()
	if err := sc.repos.Trustlines.Update(ctx, line); err != nil {
		sc.logger.Error("Failed to update trustline balance", "trusted", remoteCur.ID, "error", err)
	}
}
