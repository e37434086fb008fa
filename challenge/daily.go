package challenge

import (
	"context"
	"time"
)

// DailyMetric anchors the daily-loss rule. DayStartEquity is fixed by the
// first evaluation of the day; the remaining fields track the day so far.
type DailyMetric struct {
	ChallengeID            string    `json:"challenge_id"`
	Day                    time.Time `json:"day"`
	DayStartEquity         float64   `json:"day_start_equity"`
	DayEndEquity           *float64  `json:"day_end_equity,omitempty"`
	DayPnL                 *float64  `json:"day_pnl,omitempty"`
	MaxIntradayDrawdownPct *float64  `json:"max_intraday_drawdown_pct,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Day truncates t to midnight of its calendar day in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey is the storage form of a day.
func DayKey(day time.Time) string {
	return day.Format("2006-01-02")
}

// Observe folds the latest equity into the end-of-day fields.
func (m *DailyMetric) Observe(equity float64) {
	end := equity
	pnl := equity - m.DayStartEquity
	m.DayEndEquity = &end
	m.DayPnL = &pnl

	if m.DayStartEquity <= 0 {
		return
	}
	dd := (m.DayStartEquity - equity) / m.DayStartEquity * 100
	if dd < 0 {
		dd = 0
	}
	if m.MaxIntradayDrawdownPct == nil || dd > *m.MaxIntradayDrawdownPct {
		m.MaxIntradayDrawdownPct = &dd
	}
}

// DailyMetrics persists one DailyMetric per challenge and day.
type DailyMetrics interface {
	// GetOrCreate returns the row for (challengeID, day), creating it with
	// startEquity when absent. An existing row is never overwritten.
	GetOrCreate(ctx context.Context, challengeID string, day time.Time, startEquity float64) (*DailyMetric, error)
	// Find returns the row for (challengeID, day), or nil when the day has
	// not been seen yet.
	Find(ctx context.Context, challengeID string, day time.Time) (*DailyMetric, error)
	Update(ctx context.Context, m *DailyMetric) error
}
