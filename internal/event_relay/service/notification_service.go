package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/features/notifications"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// EventNotificationService maps entries to notification events and sends
// them. States members are not notified about are skipped.
type EventNotificationService struct {
	sender EventSender
	source string
	logger *slog.Logger
}

// NewEventNotificationService builds the service. source is the public URL
// of this server, reported as the origin of every event.
func NewEventNotificationService(sender EventSender, source string, logger *slog.Logger) *EventNotificationService {
	return &EventNotificationService{
		sender: sender,
		source: source,
		logger: logger,
	}
}

func (s *EventNotificationService) Notify(ctx context.Context, entry *journal.Entry) error {
	logger := s.logger.With("transfer_id", entry.TransferID, "state", entry.State)
	if entry.CorrelationID != "" {
		logger = logger.With("correlation_id", entry.CorrelationID)
	}

	event, ok := notifications.FromEntry(entry, s.source)
	if !ok {
		logger.Debug("State is not notified, skipping")
		metrics.NotificationsDelivered.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := s.sender.Send(ctx, event); err != nil {
		metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to send %s event for transfer %s: %w", event.Name, entry.TransferID, err)
	}

	metrics.NotificationsDelivered.WithLabelValues("sent").Inc()
	logger.Info("Notification sent", "event", event.Name)
	return nil
}
