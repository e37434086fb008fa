// Package store defines the persistence contracts for challenges, trades
// and daily metrics. Implementations live in the memory, sqlite and
// postgres subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)

// TradeStore is the append-only trade log. Trades are never updated or
// deleted.
type TradeStore interface {
	ledger.TradeSource

	// Append stores one trade. Returns ErrDuplicateKey if the ID exists.
	Append(ctx context.Context, t ledger.Trade) error

	// AppendBatch stores all trades or none.
	AppendBatch(ctx context.Context, trades []ledger.Trade) error
}

type ChallengeStore interface {
	challenge.Store

	// Create stores a new challenge. Returns ErrDuplicateKey if the ID exists.
	Create(ctx context.Context, c *challenge.Challenge) error

	// ListByStatus returns challenges in the given status ordered by creation.
	ListByStatus(ctx context.Context, status challenge.Status) ([]*challenge.Challenge, error)
}

type DailyMetricStore interface {
	challenge.DailyMetrics

	// ListByChallenge returns every recorded day, oldest first.
	ListByChallenge(ctx context.Context, challengeID string) ([]*challenge.DailyMetric, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Trades     TradeStore
	Challenges ChallengeStore
	Daily      DailyMetricStore
	Close      func() error
}

// ValidateTrade checks a trade before it is persisted.
func ValidateTrade(t ledger.Trade) error {
	if t.ID == "" {
		return fmt.Errorf("%w: trade id is required", ErrInvalidInput)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ValidateChallenge checks a challenge before it is persisted.
func ValidateChallenge(c *challenge.Challenge) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: challenge id is required", ErrInvalidInput)
	}
	if c.StartBalance <= 0 {
		return fmt.Errorf("%w: start balance must be positive", ErrInvalidInput)
	}
	return nil
}
