package outbox_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/platform/messaging/producers"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// EventPublisher relays one outbox message
type EventPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// TransferEventPublisher appends the state change carried by an outbox
// message to the journal, then publishes it on the transfer topic.
type TransferEventPublisher struct {
	outboxRepo  outbox.Repository
	journalRepo journal.Repository
	producer    producers.MessagePublisher
	logger      *slog.Logger
}

func NewTransferEventPublisher(
	outboxRepo outbox.Repository,
	journalRepo journal.Repository,
	producer producers.MessagePublisher,
	logger *slog.Logger,
) *TransferEventPublisher {
	return &TransferEventPublisher{
		outboxRepo:  outboxRepo,
		journalRepo: journalRepo,
		producer:    producer,
		logger:      logger,
	}
}

// Publish journals and publishes the message, then marks it processed. A
// payload that cannot be decoded is marked failed right away.
func (p *TransferEventPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	entry, err := message.JournalEntry()
	if err != nil {
		p.logger.Error("Failed to decode journal entry from outbox payload",
			"outbox_id", message.ID, "transfer_id", message.TransferID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Failed to mark undecodable outbox message as FAILED_TO_PUBLISH", "outbox_id", message.ID, "error", updateErr)
		}
		metrics.OutboxRelayed.WithLabelValues("undecodable").Inc()
		return fmt.Errorf("decode payload of outbox message %d: %w", message.ID, err)
	}

	logger := p.logger.With("transfer_id", entry.TransferID, "state", entry.State)
	if entry.CorrelationID != "" {
		logger = logger.With("correlation_id", entry.CorrelationID)
	}

	// A retry after a failed publish finds the entry already journaled.
	if err := p.journalRepo.Append(ctx, entry); err != nil {
		if !errors.Is(err, journal.ErrDuplicateEntry{}) {
			logger.Error("Failed to append journal entry", "outbox_id", message.ID, "error", err)
			return fmt.Errorf("failed to append journal entry for transfer %s: %w", entry.TransferID, err)
		}
		logger.Debug("Journal entry already present", "outbox_id", message.ID)
	}

	if err := p.producer.Publish(ctx, entry.TransferID.String(), entry); err != nil {
		logger.Error("Failed to publish transfer event", "outbox_id", message.ID, "error", err)
		return fmt.Errorf("failed to publish transfer event for %s: %w", entry.TransferID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to mark outbox message as PROCESSED", "outbox_id", message.ID, "error", err)
		return fmt.Errorf("event for %s relayed, but failed to mark outbox %d as PROCESSED: %w", entry.TransferID, message.ID, err)
	}

	metrics.OutboxRelayed.WithLabelValues("processed").Inc()
	logger.Info("Outbox message relayed", "outbox_id", message.ID)
	return nil
}
