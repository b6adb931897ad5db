package memory

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

type trustline struct {
	balance    decimal.Decimal
	limit      *decimal.Decimal
	authorized bool
}

type account struct {
	address      string
	sequence     int64
	masterWeight int
	signers      map[string]int
	thresholds   settlement.Thresholds
	flags        settlement.AccountFlags
	homeDomain   string
	lines        map[settlement.Asset]*trustline
}

type offer struct {
	id      int64
	seller  string
	selling settlement.Asset
	buying  settlement.Asset
	amount  decimal.Decimal
	price   settlement.Price
}

// state is the whole ledger. Transactions are applied to a clone that
// replaces the previous state only when every operation succeeds.
type state struct {
	ledger      int64
	accounts    map[string]*account
	offers      map[int64]*offer
	nextOfferID int64
}

func newState() *state {
	return &state{
		ledger:      1,
		accounts:    make(map[string]*account),
		offers:      make(map[int64]*offer),
		nextOfferID: 1,
	}
}

func (s *state) clone() *state {
	c := &state{
		ledger:      s.ledger,
		accounts:    make(map[string]*account, len(s.accounts)),
		offers:      make(map[int64]*offer, len(s.offers)),
		nextOfferID: s.nextOfferID,
	}
	for k, a := range s.accounts {
		na := *a
		na.signers = make(map[string]int, len(a.signers))
		for sk, w := range a.signers {
			na.signers[sk] = w
		}
		na.lines = make(map[settlement.Asset]*trustline, len(a.lines))
		for asset, l := range a.lines {
			nl := *l
			na.lines[asset] = &nl
		}
		c.accounts[k] = &na
	}
	for id, o := range s.offers {
		no := *o
		c.offers[id] = &no
	}
	return c
}

func (s *state) newAccount(address string) *account {
	a := &account{
		address:      address,
		sequence:     s.ledger << 32,
		masterWeight: 1,
		signers:      make(map[string]int),
		lines:        make(map[settlement.Asset]*trustline),
	}
	s.accounts[address] = a
	return a
}

// debit takes amount of asset from address. Issuers hold their own asset
// without limit.
func (s *state) debit(address string, asset settlement.Asset, amount decimal.Decimal) string {
	if address == asset.Issuer {
		return ""
	}
	a, ok := s.accounts[address]
	if !ok {
		return settlement.OpNoDestination
	}
	l, ok := a.lines[asset]
	if !ok {
		return settlement.OpSrcNoTrust
	}
	if !l.authorized {
		return settlement.OpSrcNotAuth
	}
	if l.balance.LessThan(amount) {
		return settlement.OpUnderfunded
	}
	l.balance = l.balance.Sub(amount)
	return ""
}

// credit gives amount of asset to address.
func (s *state) credit(address string, asset settlement.Asset, amount decimal.Decimal) string {
	if address == asset.Issuer {
		return ""
	}
	a, ok := s.accounts[address]
	if !ok {
		return settlement.OpNoDestination
	}
	l, ok := a.lines[asset]
	if !ok {
		return settlement.OpNoTrust
	}
	if !l.authorized {
		return settlement.OpNotAuthorized
	}
	next := l.balance.Add(amount)
	if l.limit != nil && next.GreaterThan(*l.limit) {
		return settlement.OpLineFull
	}
	l.balance = next
	return ""
}

// available is how much of asset address can give.
func (s *state) available(address string, asset settlement.Asset) (decimal.Decimal, bool) {
	if address == asset.Issuer {
		return decimal.Decimal{}, true
	}
	a, ok := s.accounts[address]
	if !ok {
		return decimal.Zero, false
	}
	l, ok := a.lines[asset]
	if !ok || !l.authorized {
		return decimal.Zero, false
	}
	return l.balance, false
}

// headroom is how much of asset address can still receive. Unlimited is
// reported with the second result.
func (s *state) headroom(address string, asset settlement.Asset) (decimal.Decimal, bool) {
	if address == asset.Issuer {
		return decimal.Zero, true
	}
	a, ok := s.accounts[address]
	if !ok {
		return decimal.Zero, false
	}
	l, ok := a.lines[asset]
	if !ok || !l.authorized {
		return decimal.Zero, false
	}
	if l.limit == nil {
		return decimal.Zero, true
	}
	return l.limit.Sub(l.balance), false
}

func (s *state) offersOf(seller string) int {
	n := 0
	for _, o := range s.offers {
		if o.seller == seller {
			n++
		}
	}
	return n
}

func (s *state) findOffer(seller string, selling, buying settlement.Asset) *offer {
	for _, o := range s.offers {
		if o.seller == seller && o.selling == selling && o.buying == buying {
			return o
		}
	}
	return nil
}

// book returns the offers selling asset for buying, best price first.
func (s *state) book(selling, buying settlement.Asset) []*offer {
	var out []*offer
	for _, o := range s.offers {
		if o.selling == selling && o.buying == buying && o.amount.IsPositive() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].price.Decimal(), out[j].price.Decimal()
		if !pi.Equal(pj) {
			return pi.LessThan(pj)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (s *state) entry(a *account) *settlement.AccountEntry {
	e := &settlement.AccountEntry{
		Address:    a.address,
		Sequence:   a.sequence,
		Thresholds: a.thresholds,
		Flags:      a.flags,
		HomeDomain: a.homeDomain,
		Signers:    []settlement.Signer{{Key: a.address, Weight: a.masterWeight}},
	}
	for k, w := range a.signers {
		e.Signers = append(e.Signers, settlement.Signer{Key: k, Weight: w})
	}
	sort.Slice(e.Signers[1:], func(i, j int) bool { return e.Signers[i+1].Key < e.Signers[j+1].Key })
	for asset, l := range a.lines {
		b := settlement.Balance{Asset: asset, Balance: l.balance, Authorized: l.authorized}
		if l.limit != nil {
			limit := *l.limit
			b.Limit = &limit
		}
		e.Balances = append(e.Balances, b)
	}
	sort.Slice(e.Balances, func(i, j int) bool { return e.Balances[i].Asset.String() < e.Balances[j].Asset.String() })
	return e
}
