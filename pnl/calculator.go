package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
)

// EquitySnapshot is the challenge's account value at AsOf. Money fields
// are rounded to cents; the arithmetic behind them is not.
type EquitySnapshot struct {
	ChallengeID     string        `json:"challenge_id"`
	StartBalance    float64       `json:"start_balance"`
	Equity          float64       `json:"equity"`
	Balance         float64       `json:"balance"`
	RealizedPnL     float64       `json:"realized_pnl"`
	UnrealizedPnL   float64       `json:"unrealized_pnl"`
	TotalPnL        float64       `json:"total_pnl"`
	TotalPnLPercent float64       `json:"total_pnl_percent"`
	Positions       []PositionPnL `json:"positions"`
	AsOf            time.Time     `json:"as_of"`
}

// Snapshot assembles equity from its parts, rounding only the outputs.
func Snapshot(challengeID string, start, realized, unrealized float64, positions []PositionPnL, at time.Time) EquitySnapshot {
	equity := start + realized + unrealized
	total := realized + unrealized
	pct := 0.0
	if start > 0 {
		pct = total / start * 100
	}
	if positions == nil {
		positions = []PositionPnL{}
	}
	return EquitySnapshot{
		ChallengeID:     challengeID,
		StartBalance:    Round2(start),
		Equity:          Round2(equity),
		Balance:         Round2(start + realized),
		RealizedPnL:     Round2(realized),
		UnrealizedPnL:   Round2(unrealized),
		TotalPnL:        Round2(total),
		TotalPnLPercent: Round2(pct),
		Positions:       positions,
		AsOf:            at,
	}
}

// Calculator computes equity on demand from the persisted trade log.
type Calculator struct {
	trades     ledger.TradeSource
	challenges challenge.Store
	prices     market.Pricer
	now        func() time.Time
}

func NewCalculator(trades ledger.TradeSource, challenges challenge.Store, prices market.Pricer) *Calculator {
	return &Calculator{
		trades:     trades,
		challenges: challenges,
		prices:     prices,
		now:        time.Now,
	}
}

// WithClock overrides the AsOf timestamp source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// CalculateEquity fails with the store's not-found error for an unknown
// challenge; it never substitutes a default.
func (c *Calculator) CalculateEquity(ctx context.Context, challengeID string) (EquitySnapshot, error) {
	_, snap, err := c.calculate(ctx, challengeID)
	return snap, err
}

func (c *Calculator) calculate(ctx context.Context, challengeID string) (*challenge.Challenge, EquitySnapshot, error) {
	ch, err := c.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, EquitySnapshot{}, fmt.Errorf("calculate equity %s: %w", challengeID, err)
	}
	snap, err := c.EquityOf(ctx, ch)
	return ch, snap, err
}

// EquityOf computes equity for a challenge the caller already loaded.
func (c *Calculator) EquityOf(ctx context.Context, ch *challenge.Challenge) (EquitySnapshot, error) {
	trades, err := c.trades.ListByChallenge(ctx, ch.ID)
	if err != nil {
		return EquitySnapshot{}, fmt.Errorf("calculate equity %s: list trades: %w", ch.ID, err)
	}

	positions := ledger.Replay(trades)
	realized := RealizedPnL(trades)
	unrealized, details := UnrealizedPnL(positions, c.prices)

	return Snapshot(ch.ID, ch.StartBalance, realized, unrealized, details, c.now().UTC()), nil
}

// RefreshEquity recomputes equity and stores it on the challenge. Only
// the equity is written; a status change made since the read survives.
func (c *Calculator) RefreshEquity(ctx context.Context, challengeID string) (EquitySnapshot, error) {
	_, snap, err := c.calculate(ctx, challengeID)
	if err != nil {
		return EquitySnapshot{}, err
	}
	if err := c.challenges.SaveEquity(ctx, challengeID, snap.Equity, snap.AsOf); err != nil {
		return EquitySnapshot{}, fmt.Errorf("save equity for %s: %w", challengeID, err)
	}
	return snap, nil
}
