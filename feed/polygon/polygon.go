// Package polygon reads last-trade prices for equities from Polygon.io.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	log "github.com/sirupsen/logrus"
)

// DefaultSymbolTimeout bounds each per-symbol request.
const DefaultSymbolTimeout = 5 * time.Second

type lastTrader interface {
	GetLastTrade(ctx context.Context, params *models.GetLastTradeParams, options ...models.RequestOption) (*models.GetLastTradeResponse, error)
}

// Fetcher queries one ticker per request, all in parallel, each with its
// own deadline.
type Fetcher struct {
	client  lastTrader
	timeout time.Duration
}

func New(apiKey string) (*Fetcher, error) {
	if apiKey == "" {
		return nil, errors.New("polygon: missing api key")
	}
	return &Fetcher{client: polygonrest.New(apiKey), timeout: DefaultSymbolTimeout}, nil
}

func (f *Fetcher) WithTimeout(d time.Duration) *Fetcher {
	if d > 0 {
		f.timeout = d
	}
	return f
}

func (f *Fetcher) FetchQuotes(ctx context.Context, tickers []string) (map[string]float64, error) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		out  = make(map[string]float64, len(tickers))
		errs []error
	)

	for _, ticker := range tickers {
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			price, err := f.lastPrice(ctx, ticker)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
				return
			}
			out[ticker] = price
		}(ticker)
	}
	wg.Wait()

	return out, errors.Join(errs...)
}

func (f *Fetcher) lastPrice(ctx context.Context, ticker string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	log.Debugf("fetching polygon last trade for %s", ticker)
	resp, err := f.client.GetLastTrade(ctx, &models.GetLastTradeParams{Ticker: ticker})
	if err != nil {
		return 0, err
	}
	if resp == nil || resp.Results.Price <= 0 {
		return 0, errors.New("no trade price")
	}
	return resp.Results.Price, nil
}
