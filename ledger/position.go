package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Epsilon is the quantity below which a position counts as flat.
const Epsilon = 1e-6

type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
	Flat  PositionSide = "flat"
)

// Position is the net holding in one symbol. Qty is signed: positive is
// long, negative is short.
type Position struct {
	Symbol        string       `json:"symbol"`
	Qty           float64      `json:"qty"`
	AvgEntryPrice float64      `json:"avg_entry_price"`
	TotalCost     float64      `json:"total_cost"`
	Side          PositionSide `json:"side"`
}

func (p Position) IsOpen() bool {
	return math.Abs(p.Qty) > Epsilon
}

func sideOf(qty float64) PositionSide {
	switch {
	case qty > Epsilon:
		return Long
	case qty < -Epsilon:
		return Short
	default:
		return Flat
	}
}

// Replay folds trades, in the order given, into one position per symbol.
// It is pure: the same trades always yield the same positions.
func Replay(trades []Trade) map[string]Position {
	positions := make(map[string]Position)
	for _, t := range trades {
		positions[t.Symbol] = apply(positions[t.Symbol], t)
	}
	return positions
}

func apply(p Position, t Trade) Position {
	p.Symbol = t.Symbol
	signed := t.SignedQty()

	extending := (p.Qty >= 0 && t.Side == Buy) || (p.Qty <= 0 && t.Side == Sell)
	if extending {
		p.TotalCost += t.Qty * t.Price
		p.Qty += signed
		if p.Qty != 0 {
			p.AvgEntryPrice = math.Abs(p.TotalCost / p.Qty)
		}
		p.Side = sideOf(p.Qty)
		return p
	}

	remaining := p.Qty + signed
	switch {
	case math.Abs(remaining) < Epsilon:
		p.Qty, p.AvgEntryPrice, p.TotalCost = 0, 0, 0
	case (remaining > 0) == (p.Qty > 0):
		// partial close keeps the entry price
		p.Qty = remaining
		p.TotalCost = p.AvgEntryPrice * math.Abs(remaining)
	default:
		// closed through zero: the excess opens at the fill price
		p.Qty = remaining
		p.AvgEntryPrice = t.Price
		p.TotalCost = t.Price * math.Abs(remaining)
	}
	p.Side = sideOf(p.Qty)
	return p
}

// OpenPositions returns the non-flat positions sorted by symbol.
func OpenPositions(positions map[string]Position) []Position {
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ClosingTrade builds the opposite-side fill that flattens p at price.
func ClosingTrade(challengeID string, p Position, price float64, at time.Time, reason string) Trade {
	side := Sell
	if p.Qty < 0 {
		side = Buy
	}
	return Trade{
		ChallengeID: challengeID,
		Symbol:      p.Symbol,
		Side:        side,
		Qty:         math.Abs(p.Qty),
		Price:       price,
		ExecutedAt:  at,
		Reason:      reason,
	}
}

// Ledger computes positions from a persisted trade log.
type Ledger struct {
	trades TradeSource
}

func New(trades TradeSource) *Ledger {
	return &Ledger{trades: trades}
}

// ComputePositions replays every trade of the challenge. A challenge with
// no trades yields an empty map.
func (l *Ledger) ComputePositions(ctx context.Context, challengeID string) (map[string]Position, error) {
	trades, err := l.trades.ListByChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list trades for %s: %w", challengeID, err)
	}
	return Replay(trades), nil
}

// Trades exposes the raw log so callers replaying it for other purposes
// (realized PnL) read the same snapshot.
func (l *Ledger) Trades(ctx context.Context, challengeID string) ([]Trade, error) {
	trades, err := l.trades.ListByChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list trades for %s: %w", challengeID, err)
	}
	return trades, nil
}
