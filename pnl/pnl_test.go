package pnl

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/store/memory"
)

var t0 = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

type marks map[string]float64

func (m marks) GetPrice(symbol string) market.Quote {
	return market.Quote{Symbol: symbol, Price: m[symbol], Source: market.SourceLive}
}

func fill(id, symbol string, side ledger.Side, qty, price float64, sec int) ledger.Trade {
	return ledger.Trade{
		ID:          id,
		ChallengeID: "C1",
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		Price:       price,
		ExecutedAt:  t0.Add(time.Duration(sec) * time.Second),
	}
}

func scenario() []ledger.Trade {
	return []ledger.Trade{
		fill("T1", "AAPL", ledger.Buy, 10, 100, 0),
		fill("T2", "AAPL", ledger.Buy, 5, 110, 1),
		fill("T3", "AAPL", ledger.Sell, 8, 90, 2),
	}
}

func TestRound2(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.01, Round2(1.005))
	assert.Equal(t, -1.01, Round2(-1.005))
	assert.Equal(t, -106.67, Round2(-106.666666))
	assert.Equal(t, 0.0, Round2(0.004))
}

func TestRealizedPnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		trades []ledger.Trade
		want   float64
	}{
		{name: "no trades", want: 0},
		{name: "open only", trades: []ledger.Trade{fill("1", "AAPL", ledger.Buy, 1, 100, 0)}, want: 0},
		{name: "averaged partial close", trades: scenario(), want: (90 - 1550.0/15) * 8},
		{
			name: "long round trip",
			trades: []ledger.Trade{
				fill("1", "TSLA", ledger.Buy, 3, 250, 0),
				fill("2", "TSLA", ledger.Sell, 3, 260, 1),
			},
			want: 30,
		},
		{
			name: "short round trip",
			trades: []ledger.Trade{
				fill("1", "GOLD", ledger.Sell, 2, 2000, 0),
				fill("2", "GOLD", ledger.Buy, 2, 1950, 1),
			},
			want: 100,
		},
		{
			name: "flip books only the closed part",
			trades: []ledger.Trade{
				fill("1", "ETH-USD", ledger.Buy, 10, 100, 0),
				fill("2", "ETH-USD", ledger.Sell, 15, 120, 1),
				fill("3", "ETH-USD", ledger.Buy, 5, 110, 2),
			},
			want: 200 + 50,
		},
		{
			name: "symbols are independent",
			trades: []ledger.Trade{
				fill("1", "AAPL", ledger.Buy, 1, 100, 0),
				fill("2", "TSLA", ledger.Sell, 1, 200, 1),
				fill("3", "AAPL", ledger.Sell, 1, 90, 2),
				fill("4", "TSLA", ledger.Buy, 1, 210, 3),
			},
			want: -10 - 10,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, RealizedPnL(tt.trades), 1e-9)
		})
	}
}

func TestRealizedPnLIsPathDependent(t *testing.T) {
	t.Parallel()

	// both paths end flat, so final positions alone cannot tell them apart
	a := []ledger.Trade{
		fill("1", "AAPL", ledger.Buy, 1, 100, 0),
		fill("2", "AAPL", ledger.Sell, 1, 120, 1),
	}
	b := []ledger.Trade{
		fill("1", "AAPL", ledger.Buy, 1, 100, 0),
		fill("2", "AAPL", ledger.Sell, 1, 80, 1),
	}
	assert.Equal(t, ledger.Replay(a), ledger.Replay(b))
	assert.NotEqual(t, RealizedPnL(a), RealizedPnL(b))
}

func TestUnrealizedPnL(t *testing.T) {
	t.Parallel()

	positions := ledger.Replay([]ledger.Trade{
		fill("1", "AAPL", ledger.Buy, 10, 100, 0),
		fill("2", "GOLD", ledger.Sell, 2, 2000, 1),
		fill("3", "TSLA", ledger.Buy, 1, 250, 2),
		fill("4", "TSLA", ledger.Sell, 1, 250, 3),
	})
	total, details := UnrealizedPnL(positions, marks{"AAPL": 95, "GOLD": 1990, "TSLA": 1})

	assert.InDelta(t, -50+20, total, 1e-9)
	require.Len(t, details, 2, "flat positions are not marked")
	assert.Equal(t, "AAPL", details[0].Symbol)
	assert.Equal(t, -50.0, details[0].UnrealizedPnL)
	assert.Equal(t, -5.0, details[0].PnLPercent)
	assert.Equal(t, ledger.Short, details[1].Side)
	assert.Equal(t, 20.0, details[1].UnrealizedPnL)
	assert.Equal(t, 0.5, details[1].PnLPercent)
	assert.Equal(t, market.SourceLive, details[1].PriceSource)
}

func newCalculator(t *testing.T, trades []ledger.Trade, prices market.Pricer) (*Calculator, store.Stores) {
	t.Helper()
	stores := memory.New()
	ctx := context.Background()

	c, err := challenge.New("C1", 10000, t0)
	require.NoError(t, err)
	require.NoError(t, stores.Challenges.Create(ctx, c))
	require.NoError(t, stores.Trades.AppendBatch(ctx, trades))

	calc := NewCalculator(stores.Trades, stores.Challenges, prices).WithClock(func() time.Time { return t0 })
	return calc, stores
}

func TestCalculateEquityEndToEnd(t *testing.T) {
	t.Parallel()

	calc, _ := newCalculator(t, scenario(), marks{"AAPL": 95})

	snap, err := calc.CalculateEquity(context.Background(), "C1")
	require.NoError(t, err)

	assert.Equal(t, -106.67, snap.RealizedPnL)
	assert.Equal(t, -58.33, snap.UnrealizedPnL)
	assert.Equal(t, 9835.0, snap.Equity)
	assert.Equal(t, 9893.33, snap.Balance)
	assert.Equal(t, -165.0, snap.TotalPnL)
	assert.Equal(t, -1.65, snap.TotalPnLPercent)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, 7.0, snap.Positions[0].Qty)
	assert.Equal(t, 103.33, snap.Positions[0].EntryPrice)

	// equity consistency after rounding
	assert.InDelta(t, snap.StartBalance+snap.RealizedPnL+snap.UnrealizedPnL, snap.Equity, 0.01)
}

// randomTrades opens each sequence with a long flipped short, then adds
// n seeded trades whose quantities routinely cross zero.
func randomTrades(seed int64, n int) []ledger.Trade {
	rng := rand.New(rand.NewSource(seed))
	symbols := []string{"AAPL", "TSLA", "GOLD"}

	trades := []ledger.Trade{
		fill("F1", "AAPL", ledger.Buy, 5, 100, 0),
		fill("F2", "AAPL", ledger.Sell, 8, 104, 1),
	}
	for i := 0; i < n; i++ {
		side := ledger.Buy
		if rng.Intn(2) == 0 {
			side = ledger.Sell
		}
		qty := float64(rng.Intn(20) + 1)
		price := float64(rng.Intn(10000)+5000) / 100
		trades = append(trades, fill(fmt.Sprintf("R%03d", i), symbols[rng.Intn(len(symbols))], side, qty, price, i+2))
	}
	return trades
}

func TestEquityConsistentForRandomSequences(t *testing.T) {
	t.Parallel()

	for seed := int64(1); seed <= 25; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			t.Parallel()

			trades := randomTrades(seed, 60)
			prices := marks{"AAPL": 97.25, "TSLA": 121.5, "GOLD": 64.1}
			calc, _ := newCalculator(t, trades, prices)

			snap, err := calc.CalculateEquity(context.Background(), "C1")
			require.NoError(t, err)

			assert.InDelta(t, snap.StartBalance+snap.RealizedPnL+snap.UnrealizedPnL, snap.Equity, 0.02)
			assert.InDelta(t, snap.StartBalance+snap.RealizedPnL, snap.Balance, 0.01)

			// total PnL is cash in and out plus the open book at the mark,
			// whatever the cost method
			cash := 0.0
			net := map[string]float64{}
			for _, tr := range trades {
				cash -= tr.SignedQty() * tr.Price
				net[tr.Symbol] += tr.SignedQty()
			}
			for sym, q := range net {
				cash += q * prices[sym]
			}
			assert.InDelta(t, cash, snap.TotalPnL, 0.02)

			for _, p := range snap.Positions {
				assert.Equal(t, net[p.Symbol], p.Qty, p.Symbol)
			}
		})
	}
}

func TestCalculateEquityNoTrades(t *testing.T) {
	t.Parallel()

	calc, _ := newCalculator(t, nil, marks{})
	snap, err := calc.CalculateEquity(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Equity)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.NotNil(t, snap.Positions)
	assert.Empty(t, snap.Positions)
}

func TestCalculateEquityUnknownChallenge(t *testing.T) {
	t.Parallel()

	calc, _ := newCalculator(t, nil, marks{})
	_, err := calc.CalculateEquity(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshEquityPersists(t *testing.T) {
	t.Parallel()

	calc, stores := newCalculator(t, scenario(), marks{"AAPL": 95})
	snap, err := calc.RefreshEquity(context.Background(), "C1")
	require.NoError(t, err)

	c, err := stores.Challenges.Get(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, snap.Equity, c.Equity)
	assert.Equal(t, challenge.Active, c.Status)
}

func TestSnapshotZeroStartBalance(t *testing.T) {
	t.Parallel()

	snap := Snapshot("C1", 0, 10, 5, nil, t0)
	assert.Equal(t, 0.0, snap.TotalPnLPercent)
	assert.Equal(t, 15.0, snap.Equity)
}
