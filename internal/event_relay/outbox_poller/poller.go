// Package outbox_poller moves transfer state changes from the Postgres outbox
// to the journal and the transfer topic.
package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/config"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// Poller processes pending outbox messages
type Poller struct {
	outboxRepo       outbox.Repository
	publisher        EventPublisher
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
	retention        time.Duration
	lastPurge        time.Time
	now              func() time.Time
}

const purgeInterval = time.Hour

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	publisher EventPublisher,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		publisher:        publisher,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		retention:        cfg.Retention,
		now:              time.Now,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting Outbox Poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox Poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := p.processPendingMessages(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending outbox messages", "error", err)
			}
			p.purgeProcessed(ctx)
		}
	}
}

// processPendingMessages relays one batch in creation order. Once a message
// fails, later messages of the same transfer wait for the next tick so a
// transfer's events never overtake each other.
func (p *Poller) processPendingMessages(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending outbox messages found.")
		return nil
	}

	p.logger.Debug("Fetched pending outbox messages", "count", len(messages))

	blocked := make(map[uuid.UUID]bool)
	for _, msg := range messages {
		if blocked[msg.TransferID] {
			continue
		}
		if err := p.publisher.Publish(ctx, msg); err != nil {
			p.logger.Warn("Failed to relay outbox message",
				"outbox_id", msg.ID, "transfer_id", msg.TransferID, "current_attempts", msg.Attempts, "error", err,
			)
			blocked[msg.TransferID] = true

			if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
				p.logger.Error("Failed to increment attempts for outbox message", "outbox_id", msg.ID, "error", errInc)
				continue
			}

			if msg.FinalAttempt(p.maxRetryAttempts) {
				p.logger.Error("Max retry attempts reached for outbox message, marking as FAILED_TO_PUBLISH",
					"outbox_id", msg.ID, "transfer_id", msg.TransferID, "attempts_made", msg.Attempts+1,
				)
				if errUpdate := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailedToPublish); errUpdate != nil {
					p.logger.Error("Failed to update outbox status to FAILED_TO_PUBLISH after max retries", "outbox_id", msg.ID, "error", errUpdate)
				} else {
					metrics.OutboxRelayed.WithLabelValues("failed").Inc()
				}
			}
		}
	}
	return nil
}

// purgeProcessed deletes relayed messages older than the retention, at most
// once per purgeInterval. A zero retention keeps every message.
func (p *Poller) purgeProcessed(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	now := p.now()
	if now.Sub(p.lastPurge) < purgeInterval {
		return
	}

	purged, err := p.outboxRepo.DeleteProcessedBefore(ctx, now.Add(-p.retention))
	if err != nil {
		p.logger.Error("Failed to purge processed outbox messages", "error", err)
		return
	}
	p.lastPurge = now
	if purged > 0 {
		p.logger.Info("Purged processed outbox messages", "count", purged, "retention", p.retention.String())
	}
}
