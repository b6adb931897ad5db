// Package horizon reaches a Horizon style REST settlement ledger.
package horizon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// Client implements settlement.Network over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "horizon"),
	}
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

func (c *Client) LoadAccount(ctx context.Context, address string) (*settlement.AccountEntry, error) {
	var entry settlement.AccountEntry
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(address), nil, &entry)
	if err != nil {
		if ne, ok := err.(*settlement.NetworkError); ok && ne.Status == http.StatusNotFound {
			return nil, settlement.ErrAccountNotFound{Address: address}
		}
		return nil, err
	}
	return &entry, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, env *settlement.Envelope) (*settlement.SubmitResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	var result settlement.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/transactions", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) FindStrictReceivePaths(ctx context.Context, sourceAssets []settlement.Asset, destAsset settlement.Asset, destAmount decimal.Decimal) ([]settlement.PathRecord, error) {
	sources := make([]string, len(sourceAssets))
	for i, a := range sourceAssets {
		sources[i] = a.String()
	}
	q := url.Values{}
	q.Set("source_assets", strings.Join(sources, ","))
	q.Set("destination_asset_code", destAsset.Code)
	q.Set("destination_asset_issuer", destAsset.Issuer)
	q.Set("destination_amount", destAmount.String())

	var page struct {
		Embedded struct {
			Records []settlement.PathRecord `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.do(ctx, http.MethodGet, "/paths/strict-receive?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return page.Embedded.Records, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*settlement.TransactionRecord, error) {
	var rec settlement.TransactionRecord
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(hash), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// do sends the request and decodes a 2xx response into out. Other responses
// become a *settlement.NetworkError; transport failures have status 0.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &settlement.NetworkError{Title: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &settlement.NetworkError{Status: resp.StatusCode, Title: "failed to read response", Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode ledger response: %w", err)
		}
		return nil
	}

	ne := &settlement.NetworkError{Status: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	var p problem
	if json.Unmarshal(data, &p) == nil {
		ne.Title = p.Title
		ne.TransactionCode = p.Extras.ResultCodes.Transaction
		ne.OperationCodes = p.Extras.ResultCodes.Operations
	}
	if ne.Title == "" {
		ne.Title = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug("Ledger request failed", "method", method, "path", path, "status", resp.StatusCode,
		"tx_code", ne.TransactionCode, "op_codes", ne.OperationCodes)
	return ne
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
