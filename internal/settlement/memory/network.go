// Package memory is an in-process settlement ledger. It applies transactions
// atomically with sequence numbers, signer thresholds, trust limited holdings,
// sell offers and strict receive path payments.
package memory

import (
	"context"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// Network implements settlement.Network in memory.
type Network struct {
	passphrase string
	now        func() time.Time

	mu       sync.Mutex
	state    *state
	txs      map[string]*settlement.TransactionRecord
	faults   []error
	submits  int
	onSubmit func(env *settlement.Envelope)
}

type Option func(*Network)

func WithClock(now func() time.Time) Option {
	return func(n *Network) { n.now = now }
}

// WithSubmitHook calls fn before every submission is processed.
func WithSubmitHook(fn func(env *settlement.Envelope)) Option {
	return func(n *Network) { n.onSubmit = fn }
}

func New(passphrase string, opts ...Option) *Network {
	n := &Network{
		passphrase: passphrase,
		now:        time.Now,
		state:      newState(),
		txs:        make(map[string]*settlement.TransactionRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fund creates a root account outside any transaction, as a network's
// friendbot does for a sponsor.
func (n *Network) Fund(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.state.accounts[address]; !ok {
		n.state.newAccount(address)
	}
}

// FailNext makes the next submissions fail with errs, in order, before the
// transaction is looked at.
func (n *Network) FailNext(errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = append(n.faults, errs...)
}

// Submissions counts SubmitTransaction calls.
func (n *Network) Submissions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submits
}

func (n *Network) LoadAccount(_ context.Context, address string) (*settlement.AccountEntry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.state.accounts[address]
	if !ok {
		return nil, settlement.ErrAccountNotFound{Address: address}
	}
	return n.state.entry(a), nil
}

func (n *Network) SubmitTransaction(_ context.Context, env *settlement.Envelope) (*settlement.SubmitResult, error) {
	if n.onSubmit != nil {
		n.onSubmit(env)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submits++

	if len(n.faults) > 0 {
		err := n.faults[0]
		n.faults = n.faults[1:]
		return nil, err
	}

	tx := env.Tx
	hashBytes, err := tx.Hash(n.passphrase)
	if err != nil {
		return nil, &settlement.NetworkError{Status: http.StatusBadRequest, Title: "Malformed transaction", Err: err}
	}
	hash := hex.EncodeToString(hashBytes)
	if rec, ok := n.txs[hash]; ok {
		return &settlement.SubmitResult{Hash: hash, Ledger: rec.Ledger}, nil
	}

	source, ok := n.state.accounts[tx.Source]
	if !ok {
		return nil, txError(settlement.TxNoSource, nil)
	}
	if !tx.MaxTime.IsZero() && n.now().After(tx.MaxTime) {
		return nil, txError(settlement.TxTooLate, nil)
	}
	if tx.Sequence != source.sequence+1 {
		return nil, txError(settlement.TxBadSeq, nil)
	}

	signed := verifySignatures(env.Signatures, hashBytes)
	if source.weight(signed) < source.required(levelLow) {
		return nil, txError(settlement.TxBadAuth, nil)
	}
	if env.FeeSource != "" {
		if _, ok := n.state.accounts[env.FeeSource]; !ok {
			return nil, txError(settlement.TxNoSource, nil)
		}
		if len(env.HashBytes()) == 0 {
			if err := env.RestoreHash(n.passphrase); err != nil {
				return nil, txError(settlement.TxBadAuth, nil)
			}
		}
		if !verifySignatures(env.FeeSignatures, env.FeeBumpHash())[env.FeeSource] {
			return nil, txError(settlement.TxBadAuth, nil)
		}
	}

	work := n.state.clone()
	codes := make([]string, 0, len(tx.Operations))
	var payments []settlement.PaymentRecord
	for _, op := range tx.Operations {
		opSource := op.SourceAccount()
		if opSource == "" {
			opSource = tx.Source
		}
		code, paid := work.apply(op, opSource, signed)
		if code != "" {
			codes = append(codes, code)
			// A failed transaction still consumes its sequence number.
			source.sequence = tx.Sequence
			return nil, txError(settlement.TxFailed, codes)
		}
		codes = append(codes, settlement.OpSuccess)
		payments = append(payments, paid...)
	}

	if src, ok := work.accounts[tx.Source]; ok {
		src.sequence = tx.Sequence
	}
	work.ledger++
	n.state = work
	n.txs[hash] = &settlement.TransactionRecord{
		Hash:      hash,
		Ledger:    work.ledger,
		Source:    tx.Source,
		Memo:      tx.Memo,
		CreatedAt: n.now(),
		Payments:  payments,
	}
	return &settlement.SubmitResult{Hash: hash, Ledger: work.ledger}, nil
}

func (n *Network) GetTransaction(_ context.Context, hash string) (*settlement.TransactionRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.txs[hash]
	if !ok {
		return nil, &settlement.NetworkError{Status: http.StatusNotFound, Title: "Resource Missing"}
	}
	out := *rec
	out.Payments = append([]settlement.PaymentRecord(nil), rec.Payments...)
	return &out, nil
}

// FindStrictReceivePaths returns every way, through at most two intermediate
// assets, to deliver destAmount of destAsset from one of sourceAssets,
// cheapest first.
func (n *Network) FindStrictReceivePaths(_ context.Context, sourceAssets []settlement.Asset, destAsset settlement.Asset, destAmount decimal.Decimal) ([]settlement.PathRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var intermediates []settlement.Asset
	seen := map[settlement.Asset]bool{}
	for _, o := range n.state.offers {
		for _, a := range []settlement.Asset{o.selling, o.buying} {
			if !seen[a] {
				seen[a] = true
				intermediates = append(intermediates, a)
			}
		}
	}
	sort.Slice(intermediates, func(i, j int) bool { return intermediates[i].String() < intermediates[j].String() })

	var records []settlement.PathRecord
	try := func(chain []settlement.Asset) {
		if _, amount, code := n.state.plan(chain, destAmount, ""); code == "" {
			path := []settlement.Asset{}
			if len(chain) > 2 {
				path = append(path, chain[1:len(chain)-1]...)
			}
			records = append(records, settlement.PathRecord{
				SourceAsset:  chain[0],
				SourceAmount: amount,
				DestAsset:    destAsset,
				DestAmount:   destAmount,
				Path:         path,
			})
		}
	}
	for _, src := range sourceAssets {
		if src == destAsset {
			try([]settlement.Asset{src})
			continue
		}
		try([]settlement.Asset{src, destAsset})
		for _, x := range intermediates {
			if x == src || x == destAsset {
				continue
			}
			try([]settlement.Asset{src, x, destAsset})
			for _, y := range intermediates {
				if y == src || y == destAsset || y == x {
					continue
				}
				try([]settlement.Asset{src, x, y, destAsset})
			}
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SourceAmount.LessThan(records[j].SourceAmount)
	})
	return records, nil
}

func verifySignatures(sigs []settlement.DecoratedSignature, message []byte) map[string]bool {
	signed := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		if settlement.Verify(s.Signer, message, s.Signature) {
			signed[s.Signer] = true
		}
	}
	return signed
}

func txError(code string, opCodes []string) *settlement.NetworkError {
	return &settlement.NetworkError{
		Status:          http.StatusBadRequest,
		Title:           "Transaction Failed",
		TransactionCode: code,
		OperationCodes:  opCodes,
	}
}
