// Package service delivers relayed transfer events to the notifications
// service.
package service

import (
	"context"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/features/notifications"
)

// NotificationService turns a journaled state change into a member
// notification.
type NotificationService interface {
	Notify(ctx context.Context, entry *journal.Entry) error
}

// EventSender posts one event to the notifications service
type EventSender interface {
	Send(ctx context.Context, event *notifications.Event) error
}
