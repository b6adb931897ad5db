package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// RemoteTransfer is the part of a transfer document returned by a remote
// server that this server acts upon.
type RemoteTransfer struct {
	ID    string
	State string
	Hash  string
}

// Notifier sends transfers to the server owning the external side of the
// transfer, authenticated as the local account.
type Notifier struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

func NewNotifier(logger *slog.Logger, baseURL string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		client:  client,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// BaseURL is the public URL of this server.
func (n *Notifier) BaseURL() string {
	return n.baseURL
}

// CreateTransfer POSTs a new transfer to the transfers collection of the
// server owning the remote account at accountHref.
func (n *Notifier) CreateTransfer(ctx context.Context, accountHref string, doc Document[TransferAttributes], signer *settlement.Keypair) (*RemoteTransfer, error) {
	return n.send(ctx, http.MethodPost, TransfersHref(accountHref), doc, signer)
}

// UpdateTransfer PATCHes the state and hash of a transfer previously sent
// with CreateTransfer.
func (n *Notifier) UpdateTransfer(ctx context.Context, accountHref, id, state, hash string, signer *settlement.Keypair) (*RemoteTransfer, error) {
	doc := Document[TransferPatch]{Data: Resource[TransferPatch]{
		ID:         id,
		Type:       TypeTransfers,
		Attributes: TransferPatch{State: &state},
	}}
	if hash != "" {
		doc.Data.Attributes.Hash = &hash
	}
	return n.send(ctx, http.MethodPatch, TransfersHref(accountHref)+"/"+id, doc, signer)
}

func (n *Notifier) send(ctx context.Context, method, url string, doc any, signer *settlement.Keypair) (*RemoteTransfer, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, shared.Internal(err, "failed to encode transfer document")
	}
	token, err := CreateExternalToken(n.baseURL, signer, n.now())
	if err != nil {
		return nil, shared.Internal(err, "failed to sign external token")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, shared.Internal(err, "invalid external transfer url %q", url)
	}
	req.Header.Set("Content-Type", MediaType)
	req.Header.Set("Accept", MediaType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("Failed to notify external transfer", "method", method, "url", url, "error", err)
		return nil, shared.Internal(err, "failed to reach %s", url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, shared.Internal(err, "failed to read response from %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("External transfer rejected by remote server",
			"method", method,
			"url", url,
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return nil, shared.Internal(nil, "remote server answered %s to %s %s", resp.Status, method, url)
	}

	var out Document[TransferAttributes]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, shared.Internal(err, "invalid transfer document from %s", url)
	}

	n.logger.Info("External transfer notified",
		"method", method,
		"url", url,
		"remote_state", out.Data.Attributes.State,
	)
	return &RemoteTransfer{
		ID:    out.Data.ID,
		State: out.Data.Attributes.State,
		Hash:  out.Data.Attributes.Hash,
	}, nil
}
