// Package journal keeps an append-only record of challenge equity and
// watchdog actions, for audit and equity-curve plots.
package journal

import "time"

// EquityRecord is one point on a challenge's equity curve.
type EquityRecord struct {
	ChallengeID   string    `json:"challenge_id"`
	Time          time.Time `json:"time"`
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	DangerLevel   float64   `json:"danger_level"`
	Status        string    `json:"status"`
}

// ActionRecord is a state-changing watchdog or desk action.
type ActionRecord struct {
	ChallengeID     string    `json:"challenge_id"`
	Time            time.Time `json:"time"`
	Action          string    `json:"action"`
	Reason          string    `json:"reason,omitempty"`
	ClosedPositions int       `json:"closed_positions"`
	Equity          float64   `json:"equity"`
}

type Journal interface {
	RecordEquity(EquityRecord) error
	RecordAction(ActionRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEquity(EquityRecord) error { return nil }
func (Nop) RecordAction(ActionRecord) error { return nil }
func (Nop) Close() error                    { return nil }
