// Package challenge holds the funded-trader challenge and its lifecycle.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	Active Status = "active"
	Failed Status = "failed"
	Passed Status = "passed"
)

var (
	ErrChallengeFailed   = errors.New("challenge failed: trading locked")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Challenge is one evaluation account. Status moves only from active to
// failed or passed, and never back.
type Challenge struct {
	ID           string     `json:"id"`
	StartBalance float64    `json:"start_balance"`
	Equity       float64    `json:"equity"`
	Status       Status     `json:"status"`
	FailReason   string     `json:"fail_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	PassedAt     *time.Time `json:"passed_at,omitempty"`
}

// New opens an active challenge funded with balance.
func New(id string, balance float64, now time.Time) (*Challenge, error) {
	if id == "" {
		return nil, errors.New("challenge id is required")
	}
	if balance <= 0 {
		return nil, fmt.Errorf("start balance must be positive, got %v", balance)
	}
	now = now.UTC()
	return &Challenge{
		ID:           id,
		StartBalance: balance,
		Equity:       balance,
		Status:       Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (c *Challenge) IsActive() bool { return c.Status == Active }

// Fail locks the challenge. reason is the rule code that broke.
func (c *Challenge) Fail(at time.Time, reason string) error {
	if c.Status != Active {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, Failed)
	}
	at = at.UTC()
	c.Status = Failed
	c.FailReason = reason
	c.FailedAt = &at
	c.UpdatedAt = at
	return nil
}

func (c *Challenge) Pass(at time.Time) error {
	if c.Status != Active {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, Passed)
	}
	at = at.UTC()
	c.Status = Passed
	c.PassedAt = &at
	c.UpdatedAt = at
	return nil
}

// CanTrade is the admission check for new trades. A failed challenge is
// locked; a passed one keeps trading.
func (c *Challenge) CanTrade() error {
	if c.Status == Failed {
		return ErrChallengeFailed
	}
	return nil
}

// Store is the slice of challenge persistence the engine needs.
type Store interface {
	Get(ctx context.Context, id string) (*Challenge, error)
	Save(ctx context.Context, c *Challenge) error

	// SaveEquity writes only the equity and update time, leaving status
	// and transition fields as they are in the store.
	SaveEquity(ctx context.Context, id string, equity float64, at time.Time) error
}
