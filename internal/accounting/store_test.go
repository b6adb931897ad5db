package accounting

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/account"
	"github.com/komunitin/komunitin-sub000/internal/domain/currency"
	"github.com/komunitin/komunitin-sub000/internal/domain/external"
	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
	"github.com/komunitin/komunitin-sub000/internal/domain/outbox"
	"github.com/komunitin/komunitin-sub000/internal/domain/secret"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/transfer"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
)

// memStore keeps every tenant in memory. Transactions run their function
// directly and are not rolled back.
type memStore struct {
	mu      sync.Mutex
	tenants map[string]*tenant
	outbox  []*outbox.Message

	// readDelay holds every transfer read after its copy is taken.
	readDelay time.Duration
}

type tenant struct {
	currency   *currency.Currency
	accounts   map[uuid.UUID]*account.Account
	tags       map[uuid.UUID][]account.Tag
	transfers  map[uuid.UUID]*transfer.Transfer
	trustlines map[uuid.UUID]*trustline.Trustline
	external   map[string]*external.Resource
	secrets    map[string]*secret.Secret
}

func newMemStore() *memStore {
	return &memStore{tenants: map[string]*tenant{}}
}

func (s *memStore) tenant(code string) *tenant {
	t, ok := s.tenants[code]
	if !ok {
		t = &tenant{
			accounts:   map[uuid.UUID]*account.Account{},
			tags:       map[uuid.UUID][]account.Tag{},
			transfers:  map[uuid.UUID]*transfer.Transfer{},
			trustlines: map[uuid.UUID]*trustline.Trustline{},
			external:   map[string]*external.Resource{},
			secrets:    map[string]*secret.Secret{},
		}
		s.tenants[code] = t
	}
	return t
}

func (s *memStore) Repositories(code string) Repositories {
	r := &memRepos{store: s, code: code}
	return Repositories{
		Currencies: memCurrencies{r},
		Accounts:   memAccounts{r},
		Transfers:  memTransfers{r},
		Trustlines: memTrustlines{r},
		External:   memExternal{r},
		Secrets:    memSecrets{r},
		Outbox:     memOutbox{r},
	}
}

func (s *memStore) Currencies() currency.Directory {
	return memDirectory{s}
}

func (s *memStore) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// messages returns the states recorded in the outbox for a transfer.
func (s *memStore) messages(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []string
	for _, m := range s.outbox {
		if m.TransferID == id {
			states = append(states, m.State)
		}
	}
	return states
}

// entries decodes the journal entries recorded in the outbox for a transfer.
func (s *memStore) entries(id uuid.UUID) []*journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*journal.Entry
	for _, m := range s.outbox {
		if m.TransferID != id {
			continue
		}
		if e, err := m.JournalEntry(); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) transferCount(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tenant(code).transfers)
}

type memRepos struct {
	store *memStore
	code  string
}

func (r *memRepos) lock() *tenant {
	r.store.mu.Lock()
	return r.store.tenant(r.code)
}

func (r *memRepos) unlock() {
	r.store.mu.Unlock()
}

type memDirectory struct{ s *memStore }

func (d memDirectory) ListCodes(ctx context.Context, status currency.Status) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var codes []string
	for code, t := range d.s.tenants {
		if t.currency != nil && t.currency.Status == status {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (d memDirectory) Exists(ctx context.Context, code string) (bool, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	t, ok := d.s.tenants[code]
	return ok && t.currency != nil, nil
}

type memCurrencies struct{ r *memRepos }

func (m memCurrencies) Create(ctx context.Context, c *currency.Currency) error {
	t := m.r.lock()
	defer m.r.unlock()
	if t.currency != nil {
		return currency.ErrDuplicateCurrency{Code: c.Code}
	}
	cp := *c
	t.currency = &cp
	return nil
}

func (m memCurrencies) Get(ctx context.Context) (*currency.Currency, error) {
	t := m.r.lock()
	defer m.r.unlock()
	if t.currency == nil {
		return nil, currency.ErrCurrencyNotFound{Code: m.r.code}
	}
	cp := *t.currency
	return &cp, nil
}

func (m memCurrencies) Update(ctx context.Context, c *currency.Currency) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *c
	t.currency = &cp
	return nil
}

func (m memCurrencies) WithTx(pgx.Tx) currency.Repository { return m }

type memAccounts struct{ r *memRepos }

func (m memAccounts) Create(ctx context.Context, a *account.Account) error {
	t := m.r.lock()
	defer m.r.unlock()
	for _, other := range t.accounts {
		if other.Code == a.Code {
			return account.ErrDuplicateCode{Code: a.Code}
		}
	}
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (m memAccounts) find(ref string, match func(a *account.Account) bool) (*account.Account, error) {
	t := m.r.lock()
	defer m.r.unlock()
	for _, a := range t.accounts {
		if a.IsActive() && match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, account.ErrAccountNotFound{Ref: ref}
}

func (m memAccounts) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return m.find(id.String(), func(a *account.Account) bool { return a.ID == id })
}

func (m memAccounts) GetByCode(ctx context.Context, code string) (*account.Account, error) {
	return m.find(code, func(a *account.Account) bool { return a.Code == code })
}

func (m memAccounts) GetByKey(ctx context.Context, key string) (*account.Account, error) {
	return m.find(key, func(a *account.Account) bool { return a.KeyID == key })
}

func (m memAccounts) GetByTagHash(ctx context.Context, hash string) (*account.Account, error) {
	t := m.r.lock()
	var owner uuid.UUID
	for id, tags := range t.tags {
		for _, tag := range tags {
			if tag.Hash == hash {
				owner = id
			}
		}
	}
	m.r.unlock()
	return m.find(hash, func(a *account.Account) bool { return a.ID == owner })
}

func (m memAccounts) Update(ctx context.Context, a *account.Account) error {
	t := m.r.lock()
	defer m.r.unlock()
	if _, ok := t.accounts[a.ID]; !ok {
		return account.ErrAccountNotFound{Ref: a.ID.String()}
	}
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (m memAccounts) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	t := m.r.lock()
	defer m.r.unlock()
	a, ok := t.accounts[id]
	if !ok {
		return account.ErrAccountNotFound{Ref: id.String()}
	}
	a.Balance = balance
	return nil
}

func (m memAccounts) ReplaceTags(ctx context.Context, id uuid.UUID, tags []account.Tag) error {
	t := m.r.lock()
	defer m.r.unlock()
	t.tags[id] = append([]account.Tag(nil), tags...)
	return nil
}

func (m memAccounts) ListTags(ctx context.Context, id uuid.UUID) ([]account.Tag, error) {
	t := m.r.lock()
	defer m.r.unlock()
	return append([]account.Tag(nil), t.tags[id]...), nil
}

func (m memAccounts) MaxCodeNumber(ctx context.Context, prefix string) (int, error) {
	t := m.r.lock()
	defer m.r.unlock()
	max := -1
	for _, a := range t.accounts {
		if !account.ValidCode(prefix, a.Code) {
			continue
		}
		n, err := strconv.Atoi(a.Code[len(prefix):])
		if err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func (m memAccounts) WithTx(pgx.Tx) account.Repository { return m }

type memTransfers struct{ r *memRepos }

func (m memTransfers) Create(ctx context.Context, tr *transfer.Transfer) error {
	t := m.r.lock()
	defer m.r.unlock()
	if _, ok := t.transfers[tr.ID]; ok {
		return transfer.ErrDuplicateTransfer{ID: tr.ID}
	}
	cp := *tr
	t.transfers[tr.ID] = &cp
	return nil
}

func (m memTransfers) GetByID(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	t := m.r.lock()
	tr, ok := t.transfers[id]
	if !ok {
		m.r.unlock()
		return nil, transfer.ErrTransferNotFound{Ref: id.String()}
	}
	cp := *tr
	delay := m.r.store.readDelay
	m.r.unlock()
	// The copy may go stale while the caller waits, like a database read.
	time.Sleep(delay)
	return &cp, nil
}

func (m memTransfers) GetByHash(ctx context.Context, hash string) (*transfer.Transfer, error) {
	t := m.r.lock()
	defer m.r.unlock()
	for _, tr := range t.transfers {
		if tr.Hash == hash {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, transfer.ErrTransferNotFound{Ref: hash}
}

func (m memTransfers) Update(ctx context.Context, tr *transfer.Transfer) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *tr
	t.transfers[tr.ID] = &cp
	return nil
}

func (m memTransfers) UpdateState(ctx context.Context, tr *transfer.Transfer, from transfer.State) error {
	t := m.r.lock()
	defer m.r.unlock()
	stored, ok := t.transfers[tr.ID]
	if !ok {
		return transfer.ErrTransferNotFound{Ref: tr.ID.String()}
	}
	if stored.State != from {
		return transfer.ErrInvalidTransition{From: stored.State, To: tr.State}
	}
	stored.State, stored.Hash, stored.UpdatedAt = tr.State, tr.Hash, tr.UpdatedAt
	return nil
}

func (m memTransfers) ListPending(ctx context.Context, limit int) ([]*transfer.Transfer, error) {
	t := m.r.lock()
	defer m.r.unlock()
	var out []*transfer.Transfer
	for _, tr := range t.transfers {
		if tr.State == transfer.StatePending {
			cp := *tr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memTransfers) WithTx(pgx.Tx) transfer.Repository { return m }

type memTrustlines struct{ r *memRepos }

func (m memTrustlines) Create(ctx context.Context, l *trustline.Trustline) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *l
	t.trustlines[l.ID] = &cp
	return nil
}

func (m memTrustlines) GetByID(ctx context.Context, id uuid.UUID) (*trustline.Trustline, error) {
	t := m.r.lock()
	defer m.r.unlock()
	l, ok := t.trustlines[id]
	if !ok {
		return nil, trustline.ErrTrustlineNotFound{Ref: id.String()}
	}
	cp := *l
	return &cp, nil
}

func (m memTrustlines) GetByTrusted(ctx context.Context, trustedID string) (*trustline.Trustline, error) {
	t := m.r.lock()
	defer m.r.unlock()
	for _, l := range t.trustlines {
		if l.TrustedID == trustedID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, trustline.ErrTrustlineNotFound{Ref: trustedID}
}

func (m memTrustlines) Update(ctx context.Context, l *trustline.Trustline) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *l
	t.trustlines[l.ID] = &cp
	return nil
}

func (m memTrustlines) List(ctx context.Context) ([]*trustline.Trustline, error) {
	t := m.r.lock()
	defer m.r.unlock()
	var out []*trustline.Trustline
	for _, l := range t.trustlines {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (m memTrustlines) WithTx(pgx.Tx) trustline.Repository { return m }

type memExternal struct{ r *memRepos }

func (m memExternal) Get(ctx context.Context, id string, typ external.Type) (*external.Resource, error) {
	t := m.r.lock()
	defer m.r.unlock()
	res, ok := t.external[string(typ)+"/"+id]
	if !ok {
		return nil, external.ErrResourceNotFound{ID: id}
	}
	cp := *res
	return &cp, nil
}

func (m memExternal) Upsert(ctx context.Context, res *external.Resource) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *res
	t.external[string(res.Type)+"/"+res.ID] = &cp
	return nil
}

func (m memExternal) WithTx(pgx.Tx) external.Repository { return m }

type memSecrets struct{ r *memRepos }

func (m memSecrets) Create(ctx context.Context, s *secret.Secret) error {
	t := m.r.lock()
	defer m.r.unlock()
	cp := *s
	t.secrets[s.ID] = &cp
	return nil
}

func (m memSecrets) Get(ctx context.Context, id string) (*secret.Secret, error) {
	t := m.r.lock()
	defer m.r.unlock()
	s, ok := t.secrets[id]
	if !ok {
		return nil, secret.ErrSecretNotFound{ID: id}
	}
	cp := *s
	return &cp, nil
}

func (m memSecrets) WithTx(pgx.Tx) secret.Repository { return m }

type memOutbox struct{ r *memRepos }

func (m memOutbox) Create(ctx context.Context, msg *outbox.Message) error {
	m.r.store.mu.Lock()
	defer m.r.store.mu.Unlock()
	msg.ID = int64(len(m.r.store.outbox) + 1)
	m.r.store.outbox = append(m.r.store.outbox, msg)
	return nil
}

func (m memOutbox) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	return nil, nil
}

func (m memOutbox) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return nil
}

func (m memOutbox) IncrementAttempts(ctx context.Context, id int64) error { return nil }

func (m memOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m memOutbox) WithTx(pgx.Tx) outbox.Repository { return m }

// fixedClock is used where tests need pending transfers to age.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
