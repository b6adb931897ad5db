package settlement

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// PathQuote is the cheapest known way to deliver DestAmount of DestAsset.
type PathQuote struct {
	SourceAsset  Asset           `json:"source_asset"`
	SourceAmount decimal.Decimal `json:"source_amount"`
	DestAsset    Asset           `json:"dest_asset"`
	DestAmount   decimal.Decimal `json:"dest_amount"`
	Path         []Asset         `json:"path"`
}

type QuoteInput struct {
	DestCode   string
	DestIssuer string
	Amount     decimal.Decimal
	// Retry polls the ledger for a while when no path exists yet, as happens
	// right after a trustline is created.
	Retry bool
}

// QuotePath finds the cheapest path from the local asset. It returns false
// when there is none.
func (c *Client) QuotePath(ctx context.Context, cur Currency, in QuoteInput) (*PathQuote, bool, error) {
	dest := Asset{Code: in.DestCode, Issuer: in.DestIssuer}
	attempts := 1
	if in.Retry && c.cfg.QuoteRetries > 0 {
		attempts += c.cfg.QuoteRetries
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.QuoteRetryInterval); err != nil {
				return nil, false, err
			}
		}
		records, err := c.network.FindStrictReceivePaths(ctx, []Asset{cur.Asset()}, dest, in.Amount)
		if err != nil {
			var ne *NetworkError
			if errors.As(err, &ne) && ne.Status == 404 {
				continue
			}
			return nil, false, settlementErrorf(err, "failed to find payment paths")
		}
		if quote := cheapest(records); quote != nil {
			return quote, true, nil
		}
	}
	return nil, false, nil
}

func cheapest(records []PathRecord) *PathQuote {
	if len(records) == 0 {
		return nil
	}
	sorted := make([]PathRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SourceAmount.LessThan(sorted[j].SourceAmount)
	})
	best := sorted[0]
	return &PathQuote{
		SourceAsset:  best.SourceAsset,
		SourceAmount: best.SourceAmount,
		DestAsset:    best.DestAsset,
		DestAmount:   best.DestAmount,
		Path:         best.Path,
	}
}
