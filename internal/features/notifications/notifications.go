// Package notifications forwards transfer events to the notifications
// service, which tells members about payments they make and receive.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

type EventName string

const (
	TransferCommitted EventName = "TransferCommitted"
	TransferPending   EventName = "TransferPending"
	TransferRejected  EventName = "TransferRejected"
)

var notifiedStates = map[string]EventName{
	"committed": TransferCommitted,
	"pending":   TransferPending,
	"rejected":  TransferRejected,
}

// Event is a transfer event as understood by the notifications service.
type Event struct {
	Name   EventName         `json:"name"`
	Source string            `json:"source"`
	Time   time.Time         `json:"time"`
	Code   string            `json:"code"`
	Data   map[string]string `json:"data"`
	User   string            `json:"-"`
}

// FromEntry maps a journal entry to an event. It returns false for states
// members are not notified about.
func FromEntry(entry *journal.Entry, source string) (*Event, bool) {
	name, ok := notifiedStates[entry.State]
	if !ok {
		return nil, false
	}
	return &Event{
		Name:   name,
		Source: source,
		Time:   entry.OccurredAt.UTC(),
		Code:   entry.Currency,
		Data: map[string]string{
			"transfer": entry.TransferID.String(),
			"payer":    entry.PayerID.String(),
			"payee":    entry.PayeeID.String(),
		},
		User: entry.UserID,
	}, true
}

type eventAttributes struct {
	Name   EventName         `json:"name"`
	Source string            `json:"source"`
	Time   string            `json:"time"`
	Code   string            `json:"code"`
	Data   map[string]string `json:"data"`
}

// document encodes the event as a JSON:API document with the user as a
// relationship.
func (e *Event) document() federation.Document[eventAttributes] {
	doc := federation.Document[eventAttributes]{Data: federation.Resource[eventAttributes]{
		Type: "events",
		Attributes: eventAttributes{
			Name:   e.Name,
			Source: e.Source,
			Time:   e.Time.Format(time.RFC3339Nano),
			Code:   e.Code,
			Data:   e.Data,
		},
	}}
	if e.User != "" {
		doc.Data.Relationships = map[string]federation.Relationship{
			"user": {Data: &federation.Identifier{ID: e.User, Type: "users"}},
		}
	}
	return doc
}

type Config struct {
	URL      string
	Username string
	Password string
}

// Client posts events to the notifications service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(logger *slog.Logger, cfg Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: client, logger: logger.With("component", "notifications")}
}

// Send delivers e. Any non 2xx answer is an error so the caller can retry.
func (c *Client) Send(ctx context.Context, e *Event) error {
	body, err := json.Marshal(e.document())
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	url := strings.TrimSuffix(c.cfg.URL, "/") + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", federation.MediaType)
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach notifications service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notifications service answered %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.logger.Debug("Event sent", "event", e.Name, "currency", e.Code, "transfer_id", e.Data["transfer"])
	return nil
}
