package memory

import (
	"github.com/shopspring/decimal"

	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

type thresholdLevel int

const (
	levelLow thresholdLevel = iota
	levelMed
	levelHigh
)

func (a *account) required(level thresholdLevel) int {
	var t int
	switch level {
	case levelLow:
		t = a.thresholds.Low
	case levelMed:
		t = a.thresholds.Med
	default:
		t = a.thresholds.High
	}
	if t < 1 {
		t = 1
	}
	return t
}

func (a *account) weight(signed map[string]bool) int {
	w := 0
	if signed[a.address] {
		w += a.masterWeight
	}
	for key, kw := range a.signers {
		if signed[key] {
			w += kw
		}
	}
	return w
}

func operationLevel(op settlement.Operation) thresholdLevel {
	switch o := op.(type) {
	case *settlement.SetTrustLineFlags:
		return levelLow
	case *settlement.AccountMerge:
		return levelHigh
	case *settlement.SetOptions:
		if o.Signer != nil || o.MasterWeight != nil || o.LowThreshold != nil || o.MedThreshold != nil || o.HighThreshold != nil {
			return levelHigh
		}
	}
	return levelMed
}

func (s *state) authorized(address string, level thresholdLevel, signed map[string]bool) bool {
	a, ok := s.accounts[address]
	if !ok {
		return false
	}
	return a.weight(signed) >= a.required(level)
}

// apply runs op against s and returns the result code and the payments made.
func (s *state) apply(op settlement.Operation, source string, signed map[string]bool) (string, []settlement.PaymentRecord) {
	if _, ok := s.accounts[source]; !ok {
		return settlement.OpNoDestination, nil
	}
	if !s.authorized(source, operationLevel(op), signed) {
		return settlement.OpBadAuth, nil
	}

	switch o := op.(type) {
	case *settlement.CreateAccount:
		if _, exists := s.accounts[o.Destination]; exists {
			return settlement.OpAlreadyExists, nil
		}
		if _, err := settlement.ParseAddress(o.Destination); err != nil {
			return settlement.OpMalformed, nil
		}
		s.newAccount(o.Destination)
		return "", nil

	case *settlement.SetOptions:
		a := s.accounts[source]
		a.flags |= o.SetFlags
		if o.HomeDomain != "" {
			a.homeDomain = o.HomeDomain
		}
		if o.Signer != nil {
			if o.Signer.Key == source {
				return settlement.OpMalformed, nil
			}
			if o.Signer.Weight == 0 {
				delete(a.signers, o.Signer.Key)
			} else {
				a.signers[o.Signer.Key] = o.Signer.Weight
			}
		}
		if o.MasterWeight != nil {
			a.masterWeight = *o.MasterWeight
		}
		if o.LowThreshold != nil {
			a.thresholds.Low = *o.LowThreshold
		}
		if o.MedThreshold != nil {
			a.thresholds.Med = *o.MedThreshold
		}
		if o.HighThreshold != nil {
			a.thresholds.High = *o.HighThreshold
		}
		return "", nil

	case *settlement.ChangeTrust:
		return s.changeTrust(source, o), nil

	case *settlement.SetTrustLineFlags:
		if source != o.Asset.Issuer {
			return settlement.OpMalformed, nil
		}
		trustor, ok := s.accounts[o.Trustor]
		if !ok {
			return settlement.OpNoTrust, nil
		}
		l, ok := trustor.lines[o.Asset]
		if !ok {
			return settlement.OpNoTrust, nil
		}
		l.authorized = o.Authorized
		return "", nil

	case *settlement.Payment:
		if !o.Amount.IsPositive() {
			return settlement.OpMalformed, nil
		}
		if _, ok := s.accounts[o.Destination]; !ok {
			return settlement.OpNoDestination, nil
		}
		if code := s.debit(source, o.Asset, o.Amount); code != "" {
			return code, nil
		}
		if code := s.credit(o.Destination, o.Asset, o.Amount); code != "" {
			return code, nil
		}
		return "", []settlement.PaymentRecord{{From: source, To: o.Destination, Asset: o.Asset, Amount: o.Amount}}

	case *settlement.PathPaymentStrictReceive:
		return s.pathPayment(source, o)

	case *settlement.ManageSellOffer:
		return s.manageOffer(source, o), nil

	case *settlement.AccountMerge:
		if _, ok := s.accounts[o.Destination]; !ok || o.Destination == source {
			return settlement.OpNoDestination, nil
		}
		if len(s.accounts[source].lines) > 0 || s.offersOf(source) > 0 {
			return settlement.OpHasSubEntries, nil
		}
		delete(s.accounts, source)
		return "", nil
	}
	return settlement.OpMalformed, nil
}

func (s *state) changeTrust(source string, o *settlement.ChangeTrust) string {
	if source == o.Asset.Issuer {
		return settlement.OpMalformed
	}
	issuer, ok := s.accounts[o.Asset.Issuer]
	if !ok {
		return settlement.OpNoIssuer
	}
	a := s.accounts[source]
	l, exists := a.lines[o.Asset]

	if o.Limit != nil && o.Limit.IsZero() {
		if !exists {
			return ""
		}
		if l.balance.IsPositive() {
			return settlement.OpInvalidLimit
		}
		for _, of := range s.offers {
			if of.seller == source && (of.selling == o.Asset || of.buying == o.Asset) {
				return settlement.OpCannotDelete
			}
		}
		delete(a.lines, o.Asset)
		return ""
	}
	if o.Limit != nil && o.Limit.IsNegative() {
		return settlement.OpMalformed
	}
	if exists {
		if o.Limit != nil && o.Limit.LessThan(l.balance) {
			return settlement.OpInvalidLimit
		}
		l.limit = copyLimit(o.Limit)
		return ""
	}
	a.lines[o.Asset] = &trustline{
		balance:    decimal.Zero,
		limit:      copyLimit(o.Limit),
		authorized: issuer.flags&settlement.AuthRequired == 0,
	}
	return ""
}

func copyLimit(limit *decimal.Decimal) *decimal.Decimal {
	if limit == nil {
		return nil
	}
	l := *limit
	return &l
}

func (s *state) manageOffer(seller string, o *settlement.ManageSellOffer) string {
	if o.Amount.IsNegative() || o.Price.N <= 0 || o.Price.D <= 0 || o.Selling == o.Buying {
		return settlement.OpMalformed
	}
	existing := s.findOffer(seller, o.Selling, o.Buying)
	if o.Amount.IsZero() {
		if existing != nil {
			delete(s.offers, existing.id)
		}
		return ""
	}
	if _, unlimited := s.available(seller, o.Selling); !unlimited {
		if l, ok := s.accounts[seller].lines[o.Selling]; !ok || !l.authorized {
			return settlement.OpSrcNoTrust
		}
	}
	if _, unlimited := s.headroom(seller, o.Buying); !unlimited {
		if l, ok := s.accounts[seller].lines[o.Buying]; !ok || !l.authorized {
			return settlement.OpNoTrust
		}
	}
	if existing != nil {
		existing.amount = o.Amount
		existing.price = o.Price
		return ""
	}
	id := s.nextOfferID
	s.nextOfferID++
	s.offers[id] = &offer{id: id, seller: seller, selling: o.Selling, buying: o.Buying, amount: o.Amount, price: o.Price}
	return ""
}

type fill struct {
	offer *offer
	take  decimal.Decimal // of the offer's selling asset
	cost  decimal.Decimal // of the offer's buying asset
}

// plan walks chain backwards from the destination, crossing the best offers
// of each pair. It returns the fills per hop and the source amount needed.
func (s *state) plan(chain []settlement.Asset, destAmount decimal.Decimal, exclude string) ([][]fill, decimal.Decimal, string) {
	hops := make([][]fill, len(chain)-1)
	need := destAmount
	for i := len(chain) - 2; i >= 0; i-- {
		sell, buy := chain[i+1], chain[i]
		remaining := need
		total := decimal.Zero
		for _, o := range s.book(sell, buy) {
			if !remaining.IsPositive() {
				break
			}
			if o.seller == exclude {
				continue
			}
			price := o.price.Decimal()
			capacity := o.amount
			if avail, unlimited := s.available(o.seller, sell); !unlimited {
				capacity = decimal.Min(capacity, avail)
			}
			if head, unlimited := s.headroom(o.seller, buy); !unlimited {
				capacity = decimal.Min(capacity, head.Div(price).Truncate(settlement.AmountPrecision))
			}
			if !capacity.IsPositive() {
				continue
			}
			take := decimal.Min(remaining, capacity)
			cost := take.Mul(price).RoundCeil(settlement.AmountPrecision)
			hops[i] = append(hops[i], fill{offer: o, take: take, cost: cost})
			remaining = remaining.Sub(take)
			total = total.Add(cost)
		}
		if remaining.IsPositive() {
			return nil, decimal.Zero, settlement.OpTooFewOffers
		}
		need = total
	}
	return hops, need, ""
}

func (s *state) pathPayment(source string, o *settlement.PathPaymentStrictReceive) (string, []settlement.PaymentRecord) {
	if !o.DestAmount.IsPositive() || !o.SendMax.IsPositive() {
		return settlement.OpMalformed, nil
	}
	if _, ok := s.accounts[o.Destination]; !ok {
		return settlement.OpNoDestination, nil
	}
	chain := append(append([]settlement.Asset{o.SendAsset}, o.Path...), o.DestAsset)
	hops, sourceAmount, code := s.plan(chain, o.DestAmount, source)
	if code != "" {
		return code, nil
	}
	if sourceAmount.GreaterThan(o.SendMax) {
		return settlement.OpOverSourceMax, nil
	}
	if code := s.debit(source, o.SendAsset, sourceAmount); code != "" {
		return code, nil
	}
	for i, hop := range hops {
		for _, f := range hop {
			if code := s.credit(f.offer.seller, chain[i], f.cost); code != "" {
				return code, nil
			}
			if code := s.debit(f.offer.seller, chain[i+1], f.take); code != "" {
				return settlement.OpTooFewOffers, nil
			}
			f.offer.amount = f.offer.amount.Sub(f.take)
			if !f.offer.amount.IsPositive() {
				delete(s.offers, f.offer.id)
			}
		}
	}
	if code := s.credit(o.Destination, o.DestAsset, o.DestAmount); code != "" {
		return code, nil
	}
	return "", []settlement.PaymentRecord{{From: source, To: o.Destination, Asset: o.DestAsset, Amount: o.DestAmount}}
}
