package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		balance float64
		wantErr bool
	}{
		{name: "valid", id: "C1", balance: 10000},
		{name: "missing id", id: "", balance: 10000, wantErr: true},
		{name: "zero balance", id: "C1", balance: 0, wantErr: true},
		{name: "negative balance", id: "C1", balance: -5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.id, tt.balance, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Active, c.Status)
			assert.Equal(t, tt.balance, c.Equity)
			assert.Nil(t, c.FailedAt)
			assert.Nil(t, c.PassedAt)
		})
	}
}

func TestTransitionsAreWriteOnce(t *testing.T) {
	t.Parallel()

	c, err := New("C1", 10000, now)
	require.NoError(t, err)

	require.NoError(t, c.Fail(now.Add(time.Hour), "DAILY_LOSS_EXCEEDED"))
	assert.Equal(t, Failed, c.Status)
	assert.Equal(t, "DAILY_LOSS_EXCEEDED", c.FailReason)
	require.NotNil(t, c.FailedAt)
	first := *c.FailedAt

	assert.ErrorIs(t, c.Fail(now.Add(2*time.Hour), "MAX_DRAWDOWN_EXCEEDED"), ErrInvalidTransition)
	assert.ErrorIs(t, c.Pass(now.Add(2*time.Hour)), ErrInvalidTransition)
	assert.Equal(t, first, *c.FailedAt)
	assert.Equal(t, "DAILY_LOSS_EXCEEDED", c.FailReason)

	p, err := New("C2", 10000, now)
	require.NoError(t, err)
	require.NoError(t, p.Pass(now))
	assert.Equal(t, Passed, p.Status)
	assert.ErrorIs(t, p.Fail(now, "x"), ErrInvalidTransition)
	assert.ErrorIs(t, p.Pass(now), ErrInvalidTransition)
}

func TestCanTrade(t *testing.T) {
	t.Parallel()

	c, _ := New("C1", 10000, now)
	assert.NoError(t, c.CanTrade())

	require.NoError(t, c.Pass(now))
	assert.NoError(t, c.CanTrade(), "passed challenges keep trading")

	f, _ := New("C2", 10000, now)
	require.NoError(t, f.Fail(now, "MAX_DRAWDOWN_EXCEEDED"))
	assert.ErrorIs(t, f.CanTrade(), ErrChallengeFailed)
}

func TestDay(t *testing.T) {
	t.Parallel()

	late := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-06-01", DayKey(Day(late, nil)))

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	early := time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-06-01", DayKey(Day(early, ny)))
}

func TestDailyMetricObserve(t *testing.T) {
	t.Parallel()

	m := &DailyMetric{ChallengeID: "C1", DayStartEquity: 10000}
	m.Observe(9800)
	m.Observe(9900)

	require.NotNil(t, m.DayEndEquity)
	assert.Equal(t, 9900.0, *m.DayEndEquity)
	assert.Equal(t, -100.0, *m.DayPnL)
	assert.InDelta(t, 2.0, *m.MaxIntradayDrawdownPct, 1e-9)

	m.Observe(10100)
	assert.InDelta(t, 2.0, *m.MaxIntradayDrawdownPct, 1e-9)
	assert.Equal(t, 100.0, *m.DayPnL)
}
