// Package desk admits and places trades for challenges, running the risk
// watchdog around every fill.
package desk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/id"
	"github.com/rustyeddy/challenger/journal"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/metrics"
	"github.com/rustyeddy/challenger/pnl"
	"github.com/rustyeddy/challenger/risk"
	"github.com/rustyeddy/challenger/store"
)

// CommissionRate is charged on notional. It is reported with each fill
// but not deducted from equity.
const CommissionRate = 0.001

var (
	ErrInvalidOrder   = errors.New("invalid order")
	ErrTradingBlocked = errors.New("trading blocked: loss limit breached")
	ErrNoPrice        = errors.New("no usable price")
	ErrNotActive      = errors.New("challenge is not active")
)

// Order is a user request to trade. A zero Price fills at the cached quote.
type Order struct {
	ChallengeID string      `json:"challenge_id"`
	Symbol      string      `json:"symbol"`
	Side        ledger.Side `json:"side"`
	Qty         float64     `json:"qty"`
	Price       float64     `json:"price,omitempty"`
}

func (o Order) Validate() error {
	switch {
	case o.ChallengeID == "":
		return fmt.Errorf("%w: challenge id is required", ErrInvalidOrder)
	case strings.TrimSpace(o.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case o.Side != ledger.Buy && o.Side != ledger.Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case !(o.Qty > 0) || math.IsInf(o.Qty, 0):
		return fmt.Errorf("%w: qty must be positive", ErrInvalidOrder)
	case o.Price < 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0):
		return fmt.Errorf("%w: price must not be negative", ErrInvalidOrder)
	}
	return nil
}

// Fill is the outcome of an accepted order.
type Fill struct {
	Trade           ledger.Trade       `json:"trade"`
	Commission      float64            `json:"commission"`
	PriceSource     market.Source      `json:"price_source"`
	Equity          pnl.EquitySnapshot `json:"equity"`
	Watchdog        risk.ExecuteResult `json:"watchdog"`
	ChallengeStatus challenge.Status   `json:"challenge_status"`
}

// CloseResult is the outcome of CloseAll.
type CloseResult struct {
	ChallengeID string             `json:"challenge_id"`
	Closed      []ledger.Trade     `json:"closed"`
	Equity      pnl.EquitySnapshot `json:"equity"`
}

type Desk struct {
	trades     store.TradeStore
	challenges store.ChallengeStore
	prices     market.Pricer
	watchdog   *risk.Watchdog
	ledger     *ledger.Ledger

	journal journal.Journal
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Desk)

func WithClock(now func() time.Time) Option {
	return func(d *Desk) { d.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Desk) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Desk) { d.metrics = m }
}

func WithJournal(j journal.Journal) Option {
	return func(d *Desk) {
		if j != nil {
			d.journal = j
		}
	}
}

func New(trades store.TradeStore, challenges store.ChallengeStore, prices market.Pricer, wd *risk.Watchdog, opts ...Option) *Desk {
	d := &Desk{
		trades:     trades,
		challenges: challenges,
		prices:     prices,
		watchdog:   wd,
		ledger:     ledger.New(trades),
		journal:    journal.Nop{},
		log:        logrus.WithField("component", "desk"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OpenChallenge funds a new active challenge.
func (d *Desk) OpenChallenge(ctx context.Context, balance float64) (*challenge.Challenge, error) {
	now := d.now()
	c, err := challenge.New(id.NewAt(now), balance, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if err := d.challenges.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}
	d.log.WithFields(logrus.Fields{"challenge_id": c.ID, "balance": balance}).Info("challenge opened")
	return c, nil
}

// PlaceTrade admits, prices and records an order, then runs the watchdog
// so a fill that breaks a rule liquidates immediately. A failed challenge
// is rejected with challenge.ErrChallengeFailed; a challenge currently in
// breach but not yet executed is rejected with ErrTradingBlocked.
func (d *Desk) PlaceTrade(ctx context.Context, o Order) (Fill, error) {
	if err := o.Validate(); err != nil {
		d.metrics.TradeRejected("invalid")
		return Fill{}, err
	}
	log := d.log.WithFields(logrus.Fields{"challenge_id": o.ChallengeID, "symbol": o.Symbol})

	trade, source, err := d.admit(ctx, o)
	if err != nil {
		return Fill{}, err
	}
	d.metrics.TradePlaced()
	log.WithFields(logrus.Fields{
		"side":  trade.Side,
		"qty":   trade.Qty,
		"price": trade.Price,
	}).Info("trade placed")

	fill := Fill{
		Trade:       trade,
		Commission:  pnl.Round2(trade.Qty * trade.Price * CommissionRate),
		PriceSource: source,
	}

	res, err := d.watchdog.Execute(ctx, o.ChallengeID)
	if err != nil {
		// the trade stands; the next sweep re-checks
		log.WithError(err).Error("post-trade watchdog failed")
	}
	fill.Watchdog = res
	fill.ChallengeStatus = res.ChallengeStatus

	// the trade is booked; errors from here on are logged only
	snap, err := d.watchdog.Calculator().CalculateEquity(ctx, o.ChallengeID)
	if err != nil {
		log.WithError(err).Error("post-trade equity failed")
	} else {
		fill.Equity = snap
	}
	if fill.ChallengeStatus == "" {
		if c, err := d.challenges.Get(ctx, o.ChallengeID); err == nil {
			fill.ChallengeStatus = c.Status
		}
	}
	return fill, nil
}

// admit runs the checks and appends the trade under the challenge lock,
// so a concurrent watchdog cannot liquidate between check and append.
func (d *Desk) admit(ctx context.Context, o Order) (ledger.Trade, market.Source, error) {
	defer d.watchdog.Locks().Guard(o.ChallengeID)()

	c, err := d.challenges.Get(ctx, o.ChallengeID)
	if err != nil {
		return ledger.Trade{}, "", fmt.Errorf("place trade: %w", err)
	}
	if err := c.CanTrade(); err != nil {
		d.metrics.TradeRejected("failed")
		return ledger.Trade{}, "", err
	}

	st, err := d.watchdog.Status(ctx, o.ChallengeID)
	if err != nil {
		return ledger.Trade{}, "", err
	}
	if !st.CanTrade {
		d.metrics.TradeRejected("blocked")
		return ledger.Trade{}, "", fmt.Errorf("%w: %s", ErrTradingBlocked, firstCode(st.Violations))
	}

	price, source := o.Price, market.Source("")
	if price == 0 {
		q := d.prices.GetPrice(o.Symbol)
		price, source = q.Price, q.Source
	}
	if !(price > 0) {
		d.metrics.TradeRejected("no_price")
		return ledger.Trade{}, "", fmt.Errorf("%w for %s", ErrNoPrice, o.Symbol)
	}

	now := d.now()
	t := ledger.Trade{
		ID:          id.NewAt(now),
		ChallengeID: o.ChallengeID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Qty:         o.Qty,
		Price:       price,
		ExecutedAt:  now.UTC(),
	}
	if err := d.trades.Append(ctx, t); err != nil {
		return ledger.Trade{}, "", fmt.Errorf("append trade: %w", err)
	}
	return t, source, nil
}

// CloseAll flattens every open position at the cached price. Only an
// active challenge may use it. The challenge lock is held through the
// equity refresh so a concurrent watchdog run lands before or after it.
func (d *Desk) CloseAll(ctx context.Context, challengeID string) (CloseResult, error) {
	defer d.watchdog.Locks().Guard(challengeID)()

	closed, err := d.closeAll(ctx, challengeID)
	if err != nil {
		return CloseResult{}, err
	}

	snap, err := d.watchdog.Calculator().RefreshEquity(ctx, challengeID)
	if err != nil {
		return CloseResult{}, err
	}
	d.metrics.ClosedAll(len(closed))
	d.log.WithFields(logrus.Fields{
		"challenge_id": challengeID,
		"closed":       len(closed),
		"equity":       snap.Equity,
	}).Info("closed all positions")

	if len(closed) > 0 {
		err := d.journal.RecordAction(journal.ActionRecord{
			ChallengeID:     challengeID,
			Time:            d.now(),
			Action:          ledger.ReasonCloseAll,
			ClosedPositions: len(closed),
			Equity:          snap.Equity,
		})
		if err != nil {
			d.log.WithError(err).Warn("journal action write failed")
		}
	}
	return CloseResult{ChallengeID: challengeID, Closed: closed, Equity: snap}, nil
}

func (d *Desk) closeAll(ctx context.Context, challengeID string) ([]ledger.Trade, error) {
	c, err := d.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("close all: %w", err)
	}
	if err := c.CanTrade(); err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, c.Status)
	}

	positions, err := d.ledger.ComputePositions(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	closed := []ledger.Trade{}
	for _, p := range ledger.OpenPositions(positions) {
		q := d.prices.GetPrice(p.Symbol)
		t := ledger.ClosingTrade(challengeID, p, q.Price, now.UTC(), ledger.ReasonCloseAll)
		t.ID = id.NewAt(now)
		closed = append(closed, t)
	}
	if err := d.trades.AppendBatch(ctx, closed); err != nil {
		return nil, fmt.Errorf("close all %s: %w", challengeID, err)
	}
	return closed, nil
}

// OpenPositions marks the challenge's open positions to the cache.
func (d *Desk) OpenPositions(ctx context.Context, challengeID string) ([]pnl.PositionPnL, error) {
	snap, err := d.watchdog.Calculator().CalculateEquity(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	return snap.Positions, nil
}

func firstCode(vs []risk.Violation) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0].Code
}
