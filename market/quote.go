package market

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Source says where a quote came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceCache     Source = "cache"
	SourceSynthetic Source = "synthetic"
)

// Quote is what the cache hands out. Price is always positive.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	AgeMillis int64     `json:"age_ms"`
	Source    Source    `json:"source"`
}

// Pricer is the read side of the price cache.
type Pricer interface {
	GetPrice(symbol string) Quote
}

// Fetcher pulls real prices for a batch of symbols. It may return a
// partial map together with an error when some symbols failed.
type Fetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbols []string) (map[string]float64, error)

func (f FetcherFunc) FetchQuotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	return f(ctx, symbols)
}

const (
	synthWavePct   = 0.02
	synthJitterPct = 0.001
	minPrice       = 0.01
)

// SyntheticPrice derives a plausible price from base: a slow oscillation
// of ±2% over each hour plus ±0.1% noise, rounded to cents.
func SyntheticPrice(base float64, now time.Time, rng *rand.Rand) float64 {
	if base <= 0 {
		base = DefaultBasePrice
	}
	hourFrac := float64(now.Unix()%3600) / 3600
	wave := math.Sin(hourFrac*2*math.Pi) * base * synthWavePct
	jitter := (rng.Float64()*2 - 1) * base * synthJitterPct

	p := math.Round((base+wave+jitter)*100) / 100
	if p < minPrice {
		p = minPrice
	}
	return p
}
