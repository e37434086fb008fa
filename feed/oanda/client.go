// Package oanda reads current prices from the OANDA v20 REST API.
package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// BaseURL maps an environment name to its REST endpoint.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "practice", "demo":
		return PracticeURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Client represents an OANDA API client
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

// NewClient creates a pricing client for one account.
func NewClient(token, accountID, env string) (*Client, error) {
	if token == "" {
		return nil, errors.New("oanda: missing token")
	}
	if accountID == "" {
		return nil, errors.New("oanda: missing account id")
	}
	base, err := BaseURL(env)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    base,
		token:      token,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type priceBucket struct {
	Price string `json:"price"`
}

type clientPrice struct {
	Instrument string        `json:"instrument"`
	Time       string        `json:"time"`
	Tradeable  bool          `json:"tradeable"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

type pricingResponse struct {
	Prices []clientPrice `json:"prices"`
}

// FetchQuotes returns the mid of the best bid and ask for every
// instrument, in one request. Instruments with an unreadable book are
// left out and reported in the error.
func (c *Client) FetchQuotes(ctx context.Context, instruments []string) (map[string]float64, error) {
	if len(instruments) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("instruments", strings.Join(instruments, ","))
	apiURL := fmt.Sprintf("%s/v3/accounts/%s/pricing?%s", c.baseURL, url.PathEscape(c.accountID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp pricingResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(map[string]float64, len(apiResp.Prices))
	var errs []error
	for _, p := range apiResp.Prices {
		mid, err := p.mid()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Instrument, err))
			continue
		}
		out[p.Instrument] = mid
	}
	return out, errors.Join(errs...)
}

func (p clientPrice) mid() (float64, error) {
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return 0, errors.New("empty order book")
	}
	bid, err := strconv.ParseFloat(p.Bids[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(p.Asks[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ask: %w", err)
	}
	return (bid + ask) / 2, nil
}
