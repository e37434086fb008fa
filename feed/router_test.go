package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/market"
)

func table() market.InstrumentTable {
	return market.InstrumentTable{
		"AAPL": {Symbol: "AAPL", BasePrice: 185, Feed: "stocks"},
		"TSLA": {Symbol: "TSLA", BasePrice: 250, Feed: "stocks"},
		"GOLD": {Symbol: "GOLD", BasePrice: 2050, Feed: "fx", FeedSymbol: "XAU_USD"},
		"IAM":  {Symbol: "IAM", BasePrice: 130},
	}
}

func TestRouterMapsRemoteSymbols(t *testing.T) {
	t.Parallel()

	var seen []string
	fx := market.FetcherFunc(func(_ context.Context, symbols []string) (map[string]float64, error) {
		seen = symbols
		return map[string]float64{"XAU_USD": 2071.5}, nil
	})
	r := NewRouter(table()).
		Register("stocks", Static{"AAPL": 187, "TSLA": 251}).
		Register("fx", fx)

	got, err := r.FetchQuotes(context.Background(), []string{"AAPL", "TSLA", "GOLD", "IAM"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAPL": 187, "TSLA": 251, "GOLD": 2071.5}, got)
	assert.Equal(t, []string{"XAU_USD"}, seen)
	assert.Equal(t, []string{"fx", "stocks"}, r.Feeds())
}

func TestRouterFansOutSharedFeedSymbol(t *testing.T) {
	t.Parallel()

	var seen []string
	fx := market.FetcherFunc(func(_ context.Context, symbols []string) (map[string]float64, error) {
		seen = symbols
		return map[string]float64{"XAU_USD": 2071.5}, nil
	})
	instruments := table()
	instruments["XAU"] = market.Instrument{Symbol: "XAU", BasePrice: 2050, Feed: "fx", FeedSymbol: "XAU_USD"}
	r := NewRouter(instruments).Register("fx", fx)

	got, err := r.FetchQuotes(context.Background(), []string{"GOLD", "XAU"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"GOLD": 2071.5, "XAU": 2071.5}, got)
	assert.Equal(t, []string{"XAU_USD"}, seen, "shared symbol is requested once")
}

func TestRouterIsolatesFailingFeed(t *testing.T) {
	t.Parallel()

	r := NewRouter(table()).
		Register("stocks", Static{"AAPL": 187}).
		Register("fx", Failing{})

	got, err := r.FetchQuotes(context.Background(), []string{"AAPL", "GOLD"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "fx:")
	assert.Equal(t, map[string]float64{"AAPL": 187}, got)
}

func TestRouterRunsFeedsConcurrently(t *testing.T) {
	t.Parallel()

	var inflight, peak atomic.Int32
	slow := market.FetcherFunc(func(_ context.Context, symbols []string) (map[string]float64, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inflight.Add(-1)
		out := map[string]float64{}
		for _, s := range symbols {
			out[s] = 1
		}
		return out, nil
	})
	r := NewRouter(table()).Register("stocks", slow).Register("fx", slow)

	got, err := r.FetchQuotes(context.Background(), []string{"AAPL", "GOLD"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), peak.Load())
}

func TestRouterSkipsUnroutedSymbols(t *testing.T) {
	t.Parallel()

	got, err := NewRouter(table()).FetchQuotes(context.Background(), []string{"IAM", "AAPL"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFailingCustomError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := Failing{Err: boom}.FetchQuotes(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}
