package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// RetryDriver signs a transaction once and submits it until the ledger accepts
// it, rejects it for good, or its expiry time passes.
type RetryDriver struct {
	network        Network
	limiter        *RateLimiter
	passphrase     string
	initialBackoff time.Duration
	logger         *slog.Logger
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewRetryDriver(logger *slog.Logger, network Network, limiter *RateLimiter, passphrase string, initialBackoff time.Duration) *RetryDriver {
	return &RetryDriver{
		network:        network,
		limiter:        limiter,
		passphrase:     passphrase,
		initialBackoff: initialBackoff,
		logger:         logger,
		now:            time.Now,
		sleep:          sleepContext,
	}
}

// SignAndSubmit signs tx with signers and, unless the sponsor is the source,
// wraps it in a fee bump paid by the sponsor. Errors returned are either the
// last ledger rejection or ErrTransactionExpired.
func (d *RetryDriver) SignAndSubmit(ctx context.Context, tx *Transaction, signers []*Keypair, sponsor *Keypair) (*SubmitResult, error) {
	env, err := NewEnvelope(d.passphrase, tx)
	if err != nil {
		return nil, err
	}
	if err := env.Sign(signers...); err != nil {
		return nil, settlementErrorf(err, "failed to sign transaction")
	}
	if sponsor != nil && tx.Source != sponsor.Address() {
		if err := env.FeeBump(sponsor); err != nil {
			return nil, settlementErrorf(err, "failed to sponsor transaction")
		}
	}

	started := d.now()
	defer func() {
		metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	}()

	logger := d.logger.With("hash", env.Hash(), "source", tx.Source)
	backoff := d.initialBackoff
	for attempt := 1; ; attempt++ {
		release, err := d.limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		result, err := d.network.SubmitTransaction(ctx, env)
		release()
		if err == nil {
			metrics.SettlementSubmissions.WithLabelValues("success").Inc()
			if result.Hash == "" {
				result.Hash = env.Hash()
			}
			return result, nil
		}

		if !retryable(err, backoff) {
			metrics.SettlementSubmissions.WithLabelValues("rejected").Inc()
			logger.Warn("Transaction rejected by the ledger", "attempt", attempt, "error", err)
			return nil, err
		}

		logger.Warn("Retrying transaction submission", "attempt", attempt, "backoff", backoff, "error", err)
		metrics.SettlementRetries.Inc()
		if err := d.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		if !tx.MaxTime.IsZero() && !d.now().Before(tx.MaxTime) {
			metrics.SettlementSubmissions.WithLabelValues("expired").Inc()
			return nil, ErrTransactionExpired{Hash: env.Hash(), Err: err}
		}
		backoff *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
