package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// Config tunes how the client talks to the ledger.
type Config struct {
	NetworkPassphrase  string
	Domain             string
	TransactionTimeout time.Duration
	InitialBackoff     time.Duration
	RateLimit          int
	RateWindow         time.Duration
	QuoteRetries       int
	QuoteRetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		NetworkPassphrase:  "Komunitin Test Network",
		TransactionTimeout: 30 * time.Second,
		InitialBackoff:     200 * time.Millisecond,
		RateLimit:          100,
		RateWindow:         time.Second,
		QuoteRetries:       5,
		QuoteRetryInterval: time.Second,
	}
}

// Client is the single entry point to the settlement ledger. All the mutable
// submission state of the process lives here: the per account locks, the rate
// limiter window and the channel rotation.
type Client struct {
	network  Network
	cfg      Config
	limiter  *RateLimiter
	locks    *AccountLock
	channels *ChannelPool
	driver   *RetryDriver
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(logger *slog.Logger, network Network, cfg Config, channels []*Keypair) *Client {
	logger = logger.With("component", "settlement")
	limiter := NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	return &Client{
		network:  network,
		cfg:      cfg,
		limiter:  limiter,
		locks:    NewAccountLock(),
		channels: NewChannelPool(channels),
		driver:   NewRetryDriver(logger, network, limiter, cfg.NetworkPassphrase, cfg.InitialBackoff),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (c *Client) Network() Network {
	return c.network
}

func (c *Client) Passphrase() string {
	return c.cfg.NetworkPassphrase
}

// Locks exposes the account lock registry.
func (c *Client) Locks() *AccountLock {
	return c.locks
}

// buildFunc returns the operations of a transaction given the fresh state of
// the account the client locked for it.
type buildFunc func(entry *AccountEntry) ([]Operation, error)

// submit serializes the transaction on source, then loads its current
// sequence, builds and submits it. Once the lock is held the submission no
// longer follows the caller's cancellation; it is bounded by its expiry.
func (c *Client) submit(ctx context.Context, source string, build buildFunc, signers []*Keypair, sponsor *Keypair) (*SubmitResult, error) {
	release, err := c.locks.Acquire(ctx, source)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.submitLocked(context.WithoutCancel(ctx), source, source, build, signers, sponsor)
}

// submitLocked submits a transaction with txSource as the sequence provider.
// state is the account whose fresh entry is handed to build. Both must
// already be locked by the caller.
func (c *Client) submitLocked(ctx context.Context, txSource, state string, build buildFunc, signers []*Keypair, sponsor *Keypair) (*SubmitResult, error) {
	sourceEntry, err := c.network.LoadAccount(ctx, txSource)
	if err != nil {
		return nil, c.loadError(err, txSource)
	}
	entry := sourceEntry
	if state != txSource {
		if entry, err = c.network.LoadAccount(ctx, state); err != nil {
			return nil, c.loadError(err, state)
		}
	}
	ops, err := build(entry)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Source:     txSource,
		Sequence:   sourceEntry.Sequence + 1,
		Operations: ops,
		MaxTime:    c.now().Add(c.cfg.TransactionTimeout),
	}
	return c.driver.SignAndSubmit(ctx, tx, signers, sponsor)
}

// submitPayment is submit for payments: when the source is busy and channel
// accounts are available the payment goes through a channel instead of
// queuing behind the source's pending submission.
func (c *Client) submitPayment(ctx context.Context, source string, build func(entry *AccountEntry, opSource string) ([]Operation, error), signers []*Keypair, sponsor *Keypair) (*SubmitResult, error) {
	if release, ok := c.locks.TryAcquire(source); ok {
		defer release()
		return c.submitLocked(context.WithoutCancel(ctx), source, source, func(entry *AccountEntry) ([]Operation, error) {
			return build(entry, "")
		}, signers, sponsor)
	}

	channel := c.channels.Next()
	if channel == nil {
		return c.submit(ctx, source, func(entry *AccountEntry) ([]Operation, error) {
			return build(entry, "")
		}, signers, sponsor)
	}

	release, err := c.locks.Acquire(ctx, channel.Address())
	if err != nil {
		return nil, err
	}
	defer release()
	metrics.ChannelSubmissions.Inc()
	c.logger.Debug("Submitting payment through channel account", "source", source, "channel", channel.Address())
	return c.submitLocked(context.WithoutCancel(ctx), channel.Address(), source, func(entry *AccountEntry) ([]Operation, error) {
		return build(entry, source)
	}, append(signers, channel), sponsor)
}

func (c *Client) loadError(err error, address string) error {
	if errors.Is(err, ErrAccountNotFound{}) {
		return err
	}
	return settlementErrorf(err, "failed to load ledger account %s", address)
}

// ledgerError classifies a submission failure.
func ledgerError(err error, pathPayment bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInsufficientBalance{}) || errors.Is(err, ErrNoTrustPath{}) ||
		errors.Is(err, ErrTransactionExpired{}) || errors.Is(err, ErrSettlement{}) ||
		errors.Is(err, ErrAccountNotFound{}) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return classifySubmitError(err, pathPayment)
}

// Balance returns the balance of asset held by address.
func (c *Client) Balance(ctx context.Context, address string, asset Asset) (AccountBalance, error) {
	entry, err := c.network.LoadAccount(ctx, address)
	if err != nil {
		return AccountBalance{}, c.loadError(err, address)
	}
	for _, b := range entry.Balances {
		if b.Asset == asset {
			return AccountBalance{Balance: b.Balance, Limit: b.Limit}, nil
		}
	}
	return AccountBalance{}, settlementErrorf(nil, "account %s does not hold %s", address, asset)
}

// GetTransfer fetches a settled transaction.
func (c *Client) GetTransfer(ctx context.Context, hash string) (*TransactionRecord, error) {
	record, err := c.network.GetTransaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	return record, nil
}

// EnsureChannels creates the channel accounts missing on the ledger.
func (c *Client) EnsureChannels(ctx context.Context, sponsor *Keypair) error {
	var missing []*Keypair
	for _, address := range c.channels.Addresses() {
		_, err := c.network.LoadAccount(ctx, address)
		if errors.Is(err, ErrAccountNotFound{}) {
			kp := c.channelKey(address)
			missing = append(missing, kp)
			continue
		}
		if err != nil {
			return c.loadError(err, address)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	signers := []*Keypair{sponsor}
	_, err := c.submit(ctx, sponsor.Address(), func(*AccountEntry) ([]Operation, error) {
		ops := make([]Operation, 0, len(missing))
		for _, kp := range missing {
			ops = append(ops, &CreateAccount{Destination: kp.Address()})
		}
		return ops, nil
	}, signers, sponsor)
	if err != nil {
		return ledgerError(err, false)
	}
	c.logger.Info("Created channel accounts", "count", len(missing))
	return nil
}

func (c *Client) channelKey(address string) *Keypair {
	c.channels.mu.Lock()
	defer c.channels.mu.Unlock()
	for _, kp := range c.channels.channels {
		if kp.Address() == address {
			return kp
		}
	}
	return nil
}
