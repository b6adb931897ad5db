package accounting

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/komunitin/komunitin-sub000/internal/keystore"
	"github.com/komunitin/komunitin-sub000/internal/logger"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
	"github.com/panjf2000/ants/v2"
)

// batchWorkers bounds the transfers of a batch processed at once.
const batchWorkers = 8

// TransferInput is a transfer creation request. Payer and payee are local
// account ids or external identifiers.
type TransferInput struct {
	ID            *uuid.UUID
	State         transfer.State
	Amount        int64
	Meta          string
	Payer         federation.Identifier
	Payee         federation.Identifier
	Hash          string
	Authorization *federation.Authorization
}

// TransferUpdate carries the attributes present in an update request.
type TransferUpdate struct {
	State  *transfer.State
	Amount *int64
	Meta   *string
	Payer  *federation.Identifier
	Payee  *federation.Identifier
	Hash   *string
}

func (u TransferUpdate) editsAttributes() bool {
	return u.Amount != nil || u.Meta != nil || u.Payer != nil || u.Payee != nil
}

// commitPlan is the outcome of authorizing a commit request.
type commitPlan struct {
	pending bool
	asAdmin bool
}

// CreateTransfer creates a transfer in state new and, when committed is
// requested, applies the commit policy right away.
func (s *Service) CreateTransfer(ctx context.Context, actor shared.Actor, code string, in TransferInput) (*transfer.Transfer, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireActive(); err != nil {
		return nil, err
	}
	return s.createTransfer(ctx, sc, actor, in)
}

// CreateTransfers creates several transfers in parallel. Failed transfers
// are logged and left out of the result.
func (s *Service) CreateTransfers(ctx context.Context, actor shared.Actor, code string, ins []TransferInput) ([]*transfer.Transfer, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireActive(); err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return []*transfer.Transfer{}, nil
	}

	pool, err := ants.NewPool(min(len(ins), batchWorkers))
	if err != nil {
		return nil, shared.Internal(err, "failed to start batch workers")
	}
	defer pool.Release()

	results := make([]*transfer.Transfer, len(ins))
	errs := make([]error, len(ins))
	var wg sync.WaitGroup
	for i := range ins {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = s.createTransfer(ctx, sc, actor, ins[i])
		}); err != nil {
			wg.Done()
			errs[i] = shared.Internal(err, "failed to schedule transfer")
		}
	}
	wg.Wait()

	created := make([]*transfer.Transfer, 0, len(ins))
	var first error
	for i, t := range results {
		if errs[i] != nil {
			sc.logger.Error("Failed to create transfer in batch", "index", i, "error", errs[i])
			if first == nil {
				first = errs[i]
			}
			continue
		}
		created = append(created, t)
	}
	if len(created) == 0 && first != nil {
		return nil, first
	}
	sc.logger.Info("Transfer batch processed", "requested", len(ins), "created", len(created))
	return created, nil
}

func (s *Service) createTransfer(ctx context.Context, sc *scope, actor shared.Actor, in TransferInput) (*transfer.Transfer, error) {
	if err := checkTransferInput(in); err != nil {
		return nil, err
	}
	if in.ID != nil {
		if err := s.checkFreeTransferID(ctx, sc, *in.ID); err != nil {
			return nil, err
		}
	}
	if in.Payer.IsExternal() || in.Payee.IsExternal() {
		return s.createExternalTransfer(ctx, sc, actor, in)
	}
	if err := requireUser(actor); err != nil {
		return nil, err
	}

	payer, err := sc.localAccount(ctx, in.Payer)
	if err != nil {
		return nil, err
	}
	payee, err := sc.localAccount(ctx, in.Payee)
	if err != nil {
		return nil, err
	}
	t, err := transfer.NewTransfer(in.ID, payer.ID, payee.ID, in.Amount, in.Meta, actor.UserID)
	if err != nil {
		return nil, badInput(err)
	}
	if in.Authorization != nil {
		hash, err := keystore.TagHash(in.Authorization.Value)
		if err != nil {
			return nil, err
		}
		t.Authorization = &transfer.Authorization{Type: transfer.AuthorizationTag, Hash: hash}
	}
	if err := sc.checkTransferAccounts(actor, t, payer, payee); err != nil {
		return nil, err
	}

	// The commit is authorized before anything is stored.
	var plan commitPlan
	if in.State == transfer.StateCommitted {
		if plan, err = s.planCommit(ctx, sc, actor, t, payer, payee); err != nil {
			return nil, err
		}
	}
	if err := s.insertTransfer(ctx, sc, t, payer, payee); err != nil {
		return nil, err
	}
	if in.State == transfer.StateCommitted {
		if err := s.applyCommit(ctx, sc, t, payer, payee, plan); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func checkTransferInput(in TransferInput) error {
	if in.State != transfer.StateNew && in.State != transfer.StateCommitted {
		return badInput(transfer.ErrInvalidInitial)
	}
	if in.Amount <= 0 {
		return badInput(transfer.ErrInvalidAmount)
	}
	if in.Payer.ID == "" || in.Payee.ID == "" {
		return shared.BadRequest("payer and payee are required")
	}
	if in.Payer.ID == in.Payee.ID {
		return badInput(transfer.ErrSameAccount)
	}
	if a := in.Authorization; a != nil && (a.Type != transfer.AuthorizationTag || a.Value == "") {
		return badInput(transfer.ErrInvalidAuthorizer)
	}
	return nil
}

func (s *Service) checkFreeTransferID(ctx context.Context, sc *scope, id uuid.UUID) error {
	_, err := sc.repos.Transfers.GetByID(ctx, id)
	if err == nil {
		return transfer.ErrDuplicateTransfer{ID: id}
	}
	if errors.Is(err, transfer.ErrTransferNotFound{}) {
		return nil
	}
	return err
}

// localAccount loads the active local account referenced by id.
func (sc *scope) localAccount(ctx context.Context, id federation.Identifier) (*account.Account, error) {
	accID, err := uuid.Parse(id.ID)
	if err != nil {
		return nil, shared.BadRequest("invalid account id %q", id.ID)
	}
	return sc.repos.Accounts.GetByID(ctx, accID)
}

// checkTransferAccounts verifies the actor may create or edit a transfer
// between payer and payee.
func (sc *scope) checkTransferAccounts(actor shared.Actor, t *transfer.Transfer, payer, payee *account.Account) error {
	if sc.isAdmin(actor) {
		return nil
	}
	settings := &sc.cur.Settings
	if sc.controls(actor, payer) {
		if !payer.Settings.Effective(settings).AllowPayments {
			return shared.Forbidden("account %s is not allowed to make payments", payer.Code)
		}
		return nil
	}
	if sc.controls(actor, payee) {
		eff := payee.Settings.Effective(settings)
		if t.Authorization != nil && !eff.AllowTagPaymentRequests {
			return shared.Forbidden("account %s is not allowed to request tag payments", payee.Code)
		}
		if t.Authorization == nil && !eff.AllowPaymentRequests {
			return shared.Forbidden("account %s is not allowed to request payments", payee.Code)
		}
		return nil
	}
	return shared.Forbidden("user is not allowed to transfer between these accounts")
}

// planCommit applies the commit policy: admins and payers submit, payees
// submit only when the payer accepts the request automatically.
func (s *Service) planCommit(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, payer, payee *account.Account) (commitPlan, error) {
	if sc.isAdmin(actor) {
		return commitPlan{asAdmin: true}, nil
	}
	if sc.controls(actor, payer) {
		return commitPlan{}, nil
	}
	if !sc.controls(actor, payee) {
		return commitPlan{}, shared.Forbidden("user is not allowed to commit this transfer")
	}
	if t.Authorization != nil {
		owner, err := sc.repos.Accounts.GetByTagHash(ctx, t.Authorization.Hash)
		if errors.Is(err, account.ErrAccountNotFound{}) || (err == nil && owner.ID != payer.ID) {
			return commitPlan{}, shared.Forbidden("authorization does not match the payer account")
		}
		if err != nil {
			return commitPlan{}, err
		}
		return commitPlan{}, nil
	}
	if payer.AcceptsAutomatically(payee.ID.String(), &sc.cur.Settings) {
		return commitPlan{}, nil
	}
	return commitPlan{pending: true}, nil
}

func (s *Service) applyCommit(ctx context.Context, sc *scope, t *transfer.Transfer, payer, payee *account.Account, plan commitPlan) error {
	if plan.pending {
		return s.saveState(ctx, sc, t, transfer.StatePending, payer, payee)
	}
	return s.submitLocal(ctx, sc, t, payer, payee, plan.asAdmin)
}

// submitLocal settles a transfer between two local accounts.
func (s *Service) submitLocal(ctx context.Context, sc *scope, t *transfer.Transfer, payer, payee *account.Account, asAdmin bool) error {
	sponsor, err := s.sponsor()
	if err != nil {
		return err
	}
	signer, err := sc.payerKey(ctx, payer, asAdmin)
	if err != nil {
		return err
	}
	if err := s.saveState(ctx, sc, t, transfer.StateSubmitted, payer, payee); err != nil {
		return err
	}

	res, err := s.ledger.Pay(ctx, sc.ledgerCurrency(), payer.KeyID, settlement.PayInput{
		Payee:  payee.KeyID,
		Amount: sc.cur.AmountToLedger(t.Amount),
	}, settlement.PaymentKeys{Account: signer, Sponsor: sponsor})
	if err != nil {
		return s.fail(ctx, sc, t, payer, payee, err)
	}

	t.Hash = res.Hash
	s.refreshBalances(ctx, sc, payer, payee)
	return s.saveState(ctx, sc, t, transfer.StateCommitted, payer, payee)
}

// payerKey is the key signing payments from payer. The currency admin key
// co-signs every account.
func (sc *scope) payerKey(ctx context.Context, payer *account.Account, asAdmin bool) (*settlement.Keypair, error) {
	if asAdmin {
		return sc.roleKey(ctx, adminKey)
	}
	return sc.keys.RetrieveKey(ctx, payer.KeyID)
}

// fail persists the failed state and returns cause.
func (s *Service) fail(ctx context.Context, sc *scope, t *transfer.Transfer, payer, payee *account.Account, cause error) error {
	sc.logger.Warn("Transfer submission failed", "transfer_id", t.ID.String(), "error", cause)
	if err := s.changeState(ctx, sc, t, transfer.StateFailed, payer, payee, cause); err != nil {
		sc.logger.Error("Failed to persist failed transfer", "transfer_id", t.ID.String(), "error", err)
	}
	return cause
}

// UpdateTransfer edits a new transfer or moves a transfer to the requested
// state.
func (s *Service) UpdateTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, in TransferUpdate) (*transfer.Transfer, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	t, err := sc.repos.Transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsExternal() {
		return s.updateExternalTransfer(ctx, sc, actor, t, in)
	}
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	payer, err := sc.repos.Accounts.GetByID(ctx, t.PayerID)
	if err != nil {
		return nil, err
	}
	payee, err := sc.repos.Accounts.GetByID(ctx, t.PayeeID)
	if err != nil {
		return nil, err
	}

	if in.editsAttributes() {
		if payer, payee, err = s.editTransfer(ctx, sc, actor, t, payer, payee, in); err != nil {
			return nil, err
		}
	}
	if in.State == nil {
		return t, nil
	}
	if err := s.requestState(ctx, sc, actor, t, payer, payee, *in.State); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTransfer moves the transfer to deleted.
func (s *Service) DeleteTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) error {
	deleted := transfer.StateDeleted
	_, err := s.UpdateTransfer(ctx, actor, code, id, TransferUpdate{State: &deleted})
	return err
}

// editTransfer changes the attributes of a transfer in state new. Only its
// creator edits it and only the admin moves it to another payer.
func (s *Service) editTransfer(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, payer, payee *account.Account, in TransferUpdate) (*account.Account, *account.Account, error) {
	if t.State != transfer.StateNew {
		return nil, nil, shared.BadRequest("only new transfers can be edited")
	}
	admin := sc.isAdmin(actor)
	if !admin && (actor.UserID == "" || actor.UserID != t.UserID) {
		return nil, nil, shared.Forbidden("only the creator can edit this transfer")
	}
	if in.Amount != nil {
		if *in.Amount <= 0 {
			return nil, nil, badInput(transfer.ErrInvalidAmount)
		}
		t.Amount = *in.Amount
	}
	if in.Meta != nil {
		t.Meta = *in.Meta
	}
	if in.Payer != nil && in.Payer.ID != payer.ID.String() {
		if !admin {
			return nil, nil, shared.Forbidden("only the currency admin can change the payer")
		}
		p, err := sc.localAccount(ctx, *in.Payer)
		if err != nil {
			return nil, nil, err
		}
		payer, t.PayerID = p, p.ID
	}
	if in.Payee != nil && in.Payee.ID != payee.ID.String() {
		p, err := sc.localAccount(ctx, *in.Payee)
		if err != nil {
			return nil, nil, err
		}
		payee, t.PayeeID = p, p.ID
	}
	if t.PayerID == t.PayeeID {
		return nil, nil, badInput(transfer.ErrSameAccount)
	}
	if err := sc.checkTransferAccounts(actor, t, payer, payee); err != nil {
		return nil, nil, err
	}
	t.UpdatedAt = s.now()
	if err := sc.repos.Transfers.Update(ctx, t); err != nil {
		return nil, nil, err
	}
	return payer, payee, nil
}

// requestState handles a client state request on a local transfer.
func (s *Service) requestState(ctx context.Context, sc *scope, actor shared.Actor, t *transfer.Transfer, payer, payee *account.Account, to transfer.State) error {
	if err := transfer.CheckRequest(t.State, to); err != nil {
		return err
	}
	if to == t.State {
		return nil
	}
	admin := sc.isAdmin(actor)
	switch to {
	case transfer.StateCommitted:
		plan, err := s.planCommit(ctx, sc, actor, t, payer, payee)
		if err != nil {
			return err
		}
		return s.applyCommit(ctx, sc, t, payer, payee, plan)
	case transfer.StateRejected:
		if !admin && !sc.controls(actor, payer) {
			return shared.Forbidden("only the payer can reject this transfer")
		}
	case transfer.StateDeleted:
		if !admin && (actor.UserID == "" || actor.UserID != t.UserID) {
			return shared.Forbidden("only the creator can delete this transfer")
		}
	}
	return s.saveState(ctx, sc, t, to, payer, payee)
}

// GetTransfer returns a transfer visible to the actor.
func (s *Service) GetTransfer(ctx context.Context, actor shared.Actor, code string, id uuid.UUID) (*transfer.Transfer, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	t, err := sc.repos.Transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.isAdmin(actor) || (actor.UserID != "" && actor.UserID == t.UserID) {
		return t, nil
	}
	if actor.IsExternal() {
		if s.externalPartyKey(ctx, sc, t) == actor.AccountKey && actor.AccountKey != "" {
			return t, nil
		}
		return nil, transfer.ErrTransferNotFound{Ref: id.String()}
	}
	for _, accID := range []uuid.UUID{t.PayerID, t.PayeeID} {
		acc, err := sc.repos.Accounts.GetByID(ctx, accID)
		if err == nil && sc.controls(actor, acc) {
			return t, nil
		}
	}
	return nil, transfer.ErrTransferNotFound{Ref: id.String()}
}

// insertTransfer stores a new transfer together with its journal entry.
func (s *Service) insertTransfer(ctx context.Context, sc *scope, t *transfer.Transfer, payer, payee *account.Account) error {
	err := s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txs := sc.withTx(tx)
		if err := txs.repos.Transfers.Create(ctx, t); err != nil {
			return err
		}
		return s.enqueue(ctx, txs, t, "", nil)
	})
	if err != nil {
		return err
	}
	sc.logger.Info("Transfer created", "transfer_id", t.ID.String(), "amount", t.Amount, "user", t.UserID)
	s.published(ctx, sc, t, "", payer, payee, nil)
	return nil
}

// saveState moves t to the given state and persists it along with an outbox
// message. Listeners are notified once the change is stored.
func (s *Service) saveState(ctx context.Context, sc *scope, t *transfer.Transfer, to transfer.State, payer, payee *account.Account) error {
	return s.changeState(ctx, sc, t, to, payer, payee, nil)
}

// changeState is saveState recording the cause of a failure.
func (s *Service) changeState(ctx context.Context, sc *scope, t *transfer.Transfer, to transfer.State, payer, payee *account.Account, cause error) error {
	prev := t.State
	changed, err := t.SetState(to)
	if err != nil || !changed {
		return err
	}
	err = s.store.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txs := sc.withTx(tx)
		if err := txs.repos.Transfers.UpdateState(ctx, t, prev); err != nil {
			return err
		}
		return s.enqueue(ctx, txs, t, prev, cause)
	})
	if err != nil {
		t.State = prev
		return err
	}
	sc.logger.Info("Transfer state changed", "transfer_id", t.ID.String(), "from", prev, "to", to)
	s.published(ctx, sc, t, prev, payer, payee, cause)
	return nil
}

func (s *Service) enqueue(ctx context.Context, sc *scope, t *transfer.Transfer, prev transfer.State, cause error) error {
	entry := &journal.Entry{
		TransferID:      t.ID,
		Currency:        sc.cur.Code,
		State:           string(t.State),
		PreviousState:   string(prev),
		Amount:          t.Amount,
		PayerID:         t.PayerID,
		PayeeID:         t.PayeeID,
		ExternalPayerID: t.ExternalPayerID,
		ExternalPayeeID: t.ExternalPayeeID,
		Hash:            t.Hash,
		UserID:          t.UserID,
		CorrelationID:   logger.CorrelationID(ctx),
		OccurredAt:      t.UpdatedAt,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	msg, err := outbox.NewMessage(entry)
	if err != nil {
		return err
	}
	return sc.repos.Outbox.Create(ctx, msg)
}

func (s *Service) published(ctx context.Context, sc *scope, t *transfer.Transfer, prev transfer.State, payer, payee *account.Account, cause error) {
	metrics.TransferTransitions.WithLabelValues(sc.cur.Code, string(t.State)).Inc()
	if s.bus == nil {
		return
	}
	e := Event{
		Name:          EventTransferStateChanged,
		Currency:      sc.cur.Code,
		Transfer:      *t,
		PreviousState: prev,
		CorrelationID: logger.CorrelationID(ctx),
		Cause:         cause,
	}
	if payer != nil {
		e.Payer = *payer
	}
	if payee != nil {
		e.Payee = *payee
	}
	s.bus.Publish(ctx, e)
}
