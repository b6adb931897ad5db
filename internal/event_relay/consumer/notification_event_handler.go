// Package consumer reads transfer events from Kafka and forwards them to
// the notifications service.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/event_relay/service"
	"github.com/komunitin/komunitin-sub000/internal/platform/messaging/producers"
)

// NotificationEventHandler handles transfer events from the transfer topic
type NotificationEventHandler struct {
	notificationService service.NotificationService
	producer            producers.DeadLetterPublisher
	logger              *slog.Logger
}

func NewNotificationEventHandler(
	logger *slog.Logger,
	notificationService service.NotificationService,
	producer producers.DeadLetterPublisher,
) *NotificationEventHandler {
	return &NotificationEventHandler{
		notificationService: notificationService,
		producer:            producer,
		logger:              logger,
	}
}

// HandleMessage notifies about one event. Events that cannot be decoded or
// delivered are parked on the DLQ and the offset moves on; only a DLQ
// failure makes the consumer retry.
func (h *NotificationEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var entry journal.Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		h.logger.Error("Failed to decode transfer event", "message_key", string(key), "error", err)
		return h.deadLetter(ctx, key, value, fmt.Sprintf("undecodable transfer event: %s", err))
	}

	logger := h.logger
	if entry.CorrelationID != "" {
		logger = h.logger.With("correlation_id", entry.CorrelationID)
	}

	if err := h.notificationService.Notify(ctx, &entry); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("Failed to notify transfer event",
			"transfer_id", entry.TransferID,
			"state", entry.State,
			"error", err,
		)
		return h.deadLetter(ctx, key, value, err.Error())
	}
	return nil
}

func (h *NotificationEventHandler) deadLetter(ctx context.Context, key, value []byte, reason string) error {
	if h.producer == nil {
		return fmt.Errorf("no DLQ configured: %s", reason)
	}
	if err := h.producer.PublishToDLQ(ctx, string(key), value, reason); err != nil {
		h.logger.Error("Failed to publish message to DLQ", "message_key", string(key), "dlq_error", err)
		return fmt.Errorf("failed to park event %s: %w", string(key), err)
	}
	h.logger.Warn("Transfer event parked on DLQ", "message_key", string(key), "reason", reason)
	return nil
}
