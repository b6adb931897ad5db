package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
)

// Locker is a lock shared by every replica of the server.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// AcceptPendingTransfers commits, as the currency admin, the oldest pending
// transfers whose payer has let them expire or now accepts them
// automatically. It returns the number of committed transfers.
func (s *Service) AcceptPendingTransfers(ctx context.Context, code string) (int, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return 0, err
	}
	pending, err := sc.repos.Transfers.ListPending(ctx, s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	now := s.now()
	committed := 0
	for _, t := range pending {
		// The remote server decides payment requests sent to external payers.
		if t.ExternalPayerID != "" {
			continue
		}
		payer, err := sc.repos.Accounts.GetByID(ctx, t.PayerID)
		if err != nil {
			sc.logger.Error("Failed to load payer of pending transfer", "transfer_id", t.ID.String(), "error", err)
			continue
		}
		if !s.acceptable(sc, t, payer, now) {
			continue
		}
		if err := s.acceptPending(ctx, sc, t, payer); err != nil {
			sc.logger.Error("Failed to accept pending transfer", "transfer_id", t.ID.String(), "error", err)
			continue
		}
		committed++
	}
	if committed > 0 {
		sc.logger.Info("Pending transfers accepted", "count", committed, "examined", len(pending))
	}
	return committed, nil
}

func (s *Service) acceptable(sc *scope, t *transfer.Transfer, payer *account.Account, now time.Time) bool {
	settings := &sc.cur.Settings
	if after := payer.Settings.Effective(settings).AcceptPaymentsAfter; after != nil &&
		t.PendingFor(now) > time.Duration(*after)*time.Second {
		return true
	}
	if t.ExternalPayeeID != "" {
		return payer.AcceptsExternalAutomatically(t.ExternalPayeeID, settings)
	}
	return payer.AcceptsAutomatically(t.PayeeID.String(), settings)
}

func (s *Service) acceptPending(ctx context.Context, sc *scope, t *transfer.Transfer, payer *account.Account) error {
	if t.ExternalPayeeID == "" {
		payee, err := sc.repos.Accounts.GetByID(ctx, t.PayeeID)
		if err != nil {
			return err
		}
		return s.submitLocal(ctx, sc, t, payer, payee, true)
	}
	ext, err := s.externalAccount(ctx, sc)
	if err != nil {
		return err
	}
	remote, err := s.lookupRemote(ctx, sc, t.ExternalPayeeID)
	if err != nil {
		return err
	}
	if err := s.submitExternal(ctx, sc, t, payer, ext, remote, true); err != nil {
		return err
	}
	s.notifyExternalPayee(ctx, sc, t, payer, remote, true)
	return nil
}

const sweepLockKey = "accounting:sweep"

// Sweeper periodically accepts pending transfers of every active currency.
// Only one replica sweeps at a time.
type Sweeper struct {
	service  *Service
	dir      currency.Directory
	locker   Locker
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(logger *slog.Logger, service *Service, dir currency.Directory, locker Locker, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		dir:      dir,
		locker:   locker,
		logger:   logger.With("component", "sweeper"),
		interval: interval,
	}
}

// Start sweeps on every tick until ctx is canceled.
func (w *Sweeper) Start(ctx context.Context) {
	w.logger.Info("Starting pending transfers sweeper", "interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweeper stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("Error during pending transfers sweep", "error", err)
			}
		}
	}
}

// Sweep runs one pass over the active currencies if no other replica holds
// the sweep lock.
func (w *Sweeper) Sweep(ctx context.Context) error {
	if w.locker != nil {
		acquired, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			return err
		}
		if !acquired {
			w.logger.Debug("Sweep already running on another replica")
			return nil
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey); err != nil {
				w.logger.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	codes, err := w.dir.ListCodes(ctx, currency.StatusActive)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := w.service.AcceptPendingTransfers(ctx, code); err != nil {
			w.logger.Error("Failed to sweep currency", "currency", code, "error", err)
		}
	}
	return nil
}
