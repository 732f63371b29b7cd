// Package oracle converts currency-denominated order amounts into native and
// USD terms using an external price API fronted by a Redis quote cache and a
// distributed rate limiter.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the REST client for the price API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a price API client.
//
// baseURL is the API root, e.g. "https://price-api.mintlake.xyz".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type quoteResponse struct {
	// Per-unit prices for one whole token of the currency.
	NativePrice string `json:"nativePrice"`
	USDPrice    string `json:"usdPrice"`
}

// UnitPrices fetches the native and USD per-unit prices of a currency at the
// given timestamp. Empty strings mean the API has no quote for the pair.
func (c *Client) UnitPrices(ctx context.Context, currency string, timestamp int64) (nativePerUnit, usdPerUnit string, err error) {
	params := url.Values{}
	params.Set("currency", currency)
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))

	body, err := c.doGet(ctx, "/v1/prices?"+params.Encode())
	if err != nil {
		return "", "", fmt.Errorf("oracle: get prices %s: %w", currency, err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("oracle: decode prices: %w", err)
	}
	return resp.NativePrice, resp.USDPrice, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
