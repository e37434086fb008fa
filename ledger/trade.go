// Package ledger reconstructs open positions from a challenge's trade log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts any case ("BUY", "Sell").
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown side %q (want buy|sell)", s)
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Reasons attached to trades the system generates itself.
const (
	ReasonLiquidation = "LIQUIDATION"
	ReasonCloseAll    = "CLOSE_ALL"
)

// Trade is one immutable fill in the append-only log.
type Trade struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challenge_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	ExecutedAt  time.Time `json:"executed_at"`
	Reason      string    `json:"reason,omitempty"`
}

var ErrInvalidTrade = errors.New("invalid trade")

func (t Trade) Validate() error {
	switch {
	case t.ChallengeID == "":
		return fmt.Errorf("%w: challenge id is required", ErrInvalidTrade)
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	case t.Side != Buy && t.Side != Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, t.Side)
	case t.Qty <= 0:
		return fmt.Errorf("%w: qty must be positive", ErrInvalidTrade)
	case t.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	}
	return nil
}

// SignedQty is +qty for buys and -qty for sells.
func (t Trade) SignedQty() float64 {
	if t.Side == Sell {
		return -t.Qty
	}
	return t.Qty
}

// TradeSource lists a challenge's trades in execution order
// (ascending ExecutedAt, ties broken by ID).
type TradeSource interface {
	ListByChallenge(ctx context.Context, challengeID string) ([]Trade, error)
}
