package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/komunitin/komunitin-sub000/internal/domain/external"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
)

const maxDocumentSize = 1 << 20

// Resolver reads resources served by other currency servers, keeping a copy
// in the currency cache for external.TTL.
type Resolver struct {
	repo   external.Repository
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(logger *slog.Logger, repo external.Repository, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		repo:   repo,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// WithRepository returns a resolver caching into repo, typically a
// transaction-bound repository.
func (r *Resolver) WithRepository(repo external.Repository) *Resolver {
	c := *r
	c.repo = repo
	return &c
}

// Resolve returns the attributes document of the identified resource.
func (r *Resolver) Resolve(ctx context.Context, id Identifier) (*external.Resource, error) {
	if id.Href() == "" {
		return nil, shared.BadRequest("external resource %s has no href", id.ID)
	}
	typ := external.Type(id.Type)

	cached, err := r.repo.Get(ctx, id.ID, typ)
	if err != nil && !errors.Is(err, external.ErrResourceNotFound{}) {
		return nil, err
	}
	if cached != nil && !cached.Expired(r.now()) {
		return cached, nil
	}

	doc, err := r.fetch(ctx, id.Href())
	if err != nil {
		return nil, err
	}

	res := &external.Resource{
		ID:        id.ID,
		Type:      typ,
		Href:      id.Href(),
		Document:  doc,
		UpdatedAt: r.now(),
	}
	if err := r.repo.Upsert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Lookup rebuilds the identifier of a resource resolved before, so it can be
// resolved again without the client sending its href.
func (r *Resolver) Lookup(ctx context.Context, id, typ string) (Identifier, error) {
	cached, err := r.repo.Get(ctx, id, external.Type(typ))
	if err != nil {
		return Identifier{}, err
	}
	return ExternalIdentifier(cached.ID, typ, cached.Href), nil
}

// fetch GETs a JSON:API document and returns its data member.
func (r *Resolver) fetch(ctx context.Context, href string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, shared.BadRequest("invalid external resource href %q", href)
	}
	req.Header.Set("Accept", MediaType)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("Failed to fetch external resource", "href", href, "error", err)
		return nil, shared.Internal(err, "failed to fetch external resource %s", href)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, shared.Internal(err, "failed to read external resource %s", href)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Warn("External resource request failed", "href", href, "status", resp.StatusCode)
		return nil, shared.Internal(nil, "error fetching external resource %s: %s", href, resp.Status)
	}

	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Data) == 0 {
		return nil, shared.Internal(err, "invalid external resource document at %s", href)
	}
	return doc.Data, nil
}

// Account resolves a remote account.
func (r *Resolver) Account(ctx context.Context, id Identifier) (*Resource[AccountAttributes], error) {
	if id.Type == "" {
		id.Type = TypeAccounts
	}
	return resolveAs[AccountAttributes](ctx, r, id)
}

// Currency resolves a remote currency by its identifier.
func (r *Resolver) Currency(ctx context.Context, id Identifier) (*Resource[CurrencyAttributes], error) {
	id.Type = TypeCurrencies
	cur, err := resolveAs[CurrencyAttributes](ctx, r, id)
	if err != nil {
		return nil, err
	}
	if cur.Attributes.Keys == nil || cur.Attributes.Keys.Issuer == "" {
		return nil, shared.Internal(nil, "external currency %s does not publish its keys", cur.Attributes.Code)
	}
	return cur, nil
}

// AccountCurrency resolves the currency a remote account belongs to.
func (r *Resolver) AccountCurrency(ctx context.Context, account *Resource[AccountAttributes], accountHref string) (*Resource[CurrencyAttributes], error) {
	rel, ok := account.Related("currency")
	if !ok {
		return nil, shared.Internal(nil, "external account %s has no currency", account.ID)
	}
	rel.Type = TypeCurrencies
	if rel.Href() == "" {
		rel.Meta = &IdentifierMeta{External: true, Href: CurrencyHref(accountHref)}
	}
	cur, err := resolveAs[CurrencyAttributes](ctx, r, rel)
	if err != nil {
		return nil, err
	}
	if cur.Attributes.Keys == nil || cur.Attributes.Keys.Issuer == "" {
		return nil, shared.Internal(nil, "external currency %s does not publish its keys", cur.Attributes.Code)
	}
	return cur, nil
}

func resolveAs[A any](ctx context.Context, r *Resolver, id Identifier) (*Resource[A], error) {
	res, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	var out Resource[A]
	if err := json.Unmarshal(res.Document, &out); err != nil {
		return nil, shared.Internal(err, "invalid external %s document %s", id.Type, id.ID)
	}
	if out.ID == "" {
		out.ID = id.ID
	}
	return &out, nil
}

// String is used in log lines.
func (i Identifier) String() string {
	if h := i.Href(); h != "" {
		return fmt.Sprintf("%s %s (%s)", i.Type, i.ID, h)
	}
	return i.Type + " " + i.ID
}
