package accounting

import (
	"context"
	"log/slog"
	"sync"

	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/panjf2000/ants/v2"
)

type EventName string

// EventTransferStateChanged is published after every persisted transfer
// state change.
const EventTransferStateChanged EventName = "TransferStateChanged"

// Event carries a snapshot of the transfer and its local accounts at the
// time of the change.
type Event struct {
	Name          EventName
	Currency      string
	Transfer      transfer.Transfer
	PreviousState transfer.State
	Payer         account.Account
	Payee         account.Account
	CorrelationID string
	// Cause is set when the transfer failed.
	Cause         error
}

// Listener handles an event. Returned errors are logged and dropped.
type Listener func(ctx context.Context, e Event) error

// EventBus dispatches events to listeners on a worker pool, so a slow or
// failing listener never delays or fails the operation that published.
type EventBus struct {
	pool   *ants.Pool
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[EventName][]namedListener
	inflight  sync.WaitGroup
}

type namedListener struct {
	name string
	fn   Listener
}

func NewEventBus(logger *slog.Logger, size int) (*EventBus, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &EventBus{
		pool:      pool,
		logger:    logger.With("component", "event_bus"),
		listeners: make(map[EventName][]namedListener),
	}, nil
}

// Subscribe registers fn for events called name. The listener name is used
// in logs.
func (b *EventBus) Subscribe(name EventName, listener string, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], namedListener{name: listener, fn: fn})
}

// Publish hands e to every listener. It does not wait for them.
func (b *EventBus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	listeners := b.listeners[e.Name]
	b.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, l := range listeners {
		l := l
		b.inflight.Add(1)
		err := b.pool.Submit(func() {
			defer b.inflight.Done()
			b.run(ctx, l, e)
		})
		if err != nil {
			b.inflight.Done()
			b.logger.Error("Failed to dispatch event",
				"event", e.Name,
				"listener", l.name,
				"transfer_id", e.Transfer.ID.String(),
				"error", err,
			)
		}
	}
}

func (b *EventBus) run(ctx context.Context, l namedListener, e Event) {
	logger := b.logger
	if e.CorrelationID != "" {
		logger = logger.With("correlation_id", e.CorrelationID)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event listener panicked", "event", e.Name, "listener", l.name, "panic", r)
		}
	}()
	if err := l.fn(ctx, e); err != nil {
		logger.Error("Event listener failed",
			"event", e.Name,
			"listener", l.name,
			"currency", e.Currency,
			"transfer_id", e.Transfer.ID.String(),
			"error", err,
		)
	}
}

// Wait blocks until every dispatched listener has returned.
func (b *EventBus) Wait() {
	b.inflight.Wait()
}

// Shutdown waits for running listeners and releases the pool.
func (b *EventBus) Shutdown() {
	b.logger.Info("Shutting down event bus", "running_workers", b.pool.Running())
	b.inflight.Wait()
	b.pool.Release()
}
