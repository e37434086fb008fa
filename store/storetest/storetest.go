// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/store"
)

var base = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func newTrade(id, challengeID, symbol string, side ledger.Side, qty, price float64, at time.Time) ledger.Trade {
	return ledger.Trade{
		ID:          id,
		ChallengeID: challengeID,
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		Price:       price,
		ExecutedAt:  at,
	}
}

// TradeStore exercises a store.TradeStore. newStore must return an empty
// store each call.
func TradeStore(t *testing.T, newStore func(t *testing.T) store.TradeStore) {
	t.Run("append and list in execution order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, newTrade("T2", "C1", "AAPL", ledger.Sell, 1, 101, base.Add(time.Minute))))
		require.NoError(t, s.Append(ctx, newTrade("T1", "C1", "AAPL", ledger.Buy, 2, 100, base)))
		require.NoError(t, s.Append(ctx, newTrade("T0", "C1", "TSLA", ledger.Buy, 1, 250, base.Add(time.Minute))))
		require.NoError(t, s.Append(ctx, newTrade("X1", "C2", "AAPL", ledger.Buy, 9, 100, base)))

		got, err := s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "T1", got[0].ID)
		assert.Equal(t, "T0", got[1].ID, "ties on executed_at break by id")
		assert.Equal(t, "T2", got[2].ID)

		assert.Equal(t, ledger.Sell, got[2].Side)
		assert.Equal(t, 1.0, got[2].Qty)
		assert.Equal(t, 101.0, got[2].Price)
		assert.True(t, got[0].ExecutedAt.Equal(base))
	})

	t.Run("reason round trips", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tr := newTrade("T1", "C1", "AAPL", ledger.Sell, 1, 99, base)
		tr.Reason = ledger.ReasonLiquidation
		require.NoError(t, s.Append(ctx, tr))

		got, err := s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, ledger.ReasonLiquidation, got[0].Reason)
	})

	t.Run("empty challenge", func(t *testing.T) {
		s := newStore(t)
		got, err := s.ListByChallenge(context.Background(), "nope")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, newTrade("T1", "C1", "AAPL", ledger.Buy, 1, 100, base)))
		err := s.Append(ctx, newTrade("T1", "C1", "AAPL", ledger.Buy, 1, 100, base))
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("invalid trade", func(t *testing.T) {
		s := newStore(t)
		err := s.Append(context.Background(), newTrade("T1", "C1", "AAPL", ledger.Buy, 0, 100, base))
		assert.ErrorIs(t, err, store.ErrInvalidInput)
		err = s.Append(context.Background(), newTrade("", "C1", "AAPL", ledger.Buy, 1, 100, base))
		assert.ErrorIs(t, err, store.ErrInvalidInput)
	})

	t.Run("batch is atomic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, newTrade("T1", "C1", "AAPL", ledger.Buy, 1, 100, base)))

		err := s.AppendBatch(ctx, []ledger.Trade{
			newTrade("B1", "C1", "TSLA", ledger.Buy, 1, 250, base.Add(time.Second)),
			newTrade("T1", "C1", "AAPL", ledger.Sell, 1, 100, base.Add(time.Second)),
		})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)

		got, err := s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		assert.Len(t, got, 1)

		require.NoError(t, s.AppendBatch(ctx, []ledger.Trade{
			newTrade("B1", "C1", "TSLA", ledger.Buy, 1, 250, base.Add(time.Second)),
			newTrade("B2", "C1", "AAPL", ledger.Sell, 1, 100, base.Add(time.Second)),
		}))
		got, err = s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		assert.Len(t, got, 3)

		require.NoError(t, s.AppendBatch(ctx, nil))
	})

	t.Run("many trades stay ordered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 9; i >= 0; i-- {
			tr := newTrade(fmt.Sprintf("T%02d", i), "C1", "AAPL", ledger.Buy, 1, 100, base.Add(time.Duration(i)*time.Millisecond))
			require.NoError(t, s.Append(ctx, tr))
		}
		got, err := s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		for i, tr := range got {
			assert.Equal(t, fmt.Sprintf("T%02d", i), tr.ID)
		}
	})
}

// ChallengeStore exercises a store.ChallengeStore.
func ChallengeStore(t *testing.T, newStore func(t *testing.T) store.ChallengeStore) {
	t.Run("create get save", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c, err := challenge.New("C1", 10000, base)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, c))
		assert.ErrorIs(t, s.Create(ctx, c), store.ErrDuplicateKey)

		got, err := s.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, challenge.Active, got.Status)
		assert.Equal(t, 10000.0, got.StartBalance)
		assert.Equal(t, 10000.0, got.Equity)
		assert.Nil(t, got.FailedAt)
		assert.True(t, got.CreatedAt.Equal(base))

		got.Equity = 9400
		require.NoError(t, got.Fail(base.Add(time.Hour), "DAILY_LOSS_EXCEEDED"))
		require.NoError(t, s.Save(ctx, got))

		again, err := s.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, challenge.Failed, again.Status)
		assert.Equal(t, 9400.0, again.Equity)
		assert.Equal(t, "DAILY_LOSS_EXCEEDED", again.FailReason)
		require.NotNil(t, again.FailedAt)
		assert.True(t, again.FailedAt.Equal(base.Add(time.Hour)))
		assert.Nil(t, again.PassedAt)
	})

	t.Run("save equity keeps status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c, err := challenge.New("C1", 10000, base)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, c))

		stale, err := s.Get(ctx, "C1")
		require.NoError(t, err)

		failed, err := s.Get(ctx, "C1")
		require.NoError(t, err)
		require.NoError(t, failed.Fail(base.Add(time.Hour), "DAILY_LOSS_EXCEEDED"))
		require.NoError(t, s.Save(ctx, failed))

		require.NoError(t, s.SaveEquity(ctx, stale.ID, 9350, base.Add(2*time.Hour)))

		got, err := s.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, 9350.0, got.Equity)
		assert.Equal(t, challenge.Failed, got.Status)
		assert.Equal(t, "DAILY_LOSS_EXCEEDED", got.FailReason)
		require.NotNil(t, got.FailedAt)
		assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Hour)))

		assert.ErrorIs(t, s.SaveEquity(ctx, "missing", 1, base), store.ErrNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		c, _ := challenge.New("missing", 1, base)
		assert.ErrorIs(t, s.Save(context.Background(), c), store.ErrNotFound)
	})

	t.Run("invalid", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Create(context.Background(), &challenge.Challenge{ID: "C1"}), store.ErrInvalidInput)
	})

	t.Run("list by status", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, id := range []string{"A", "B", "C"} {
			c, _ := challenge.New(id, 5000, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.Create(ctx, c))
		}
		b, _ := s.Get(ctx, "B")
		require.NoError(t, b.Pass(base.Add(time.Hour)))
		require.NoError(t, s.Save(ctx, b))

		active, err := s.ListByStatus(ctx, challenge.Active)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "A", active[0].ID)
		assert.Equal(t, "C", active[1].ID)

		passed, err := s.ListByStatus(ctx, challenge.Passed)
		require.NoError(t, err)
		require.Len(t, passed, 1)
		require.NotNil(t, passed[0].PassedAt)
	})
}

// DailyMetricStore exercises a store.DailyMetricStore.
func DailyMetricStore(t *testing.T, newStore func(t *testing.T) store.DailyMetricStore) {
	day := challenge.Day(base, time.UTC)

	t.Run("first writer wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m, err := s.GetOrCreate(ctx, "C1", day, 10000)
		require.NoError(t, err)
		assert.Equal(t, 10000.0, m.DayStartEquity)
		assert.Nil(t, m.DayEndEquity)

		m, err = s.GetOrCreate(ctx, "C1", day, 9000)
		require.NoError(t, err)
		assert.Equal(t, 10000.0, m.DayStartEquity)

		next, err := s.GetOrCreate(ctx, "C1", day.AddDate(0, 0, 1), 9000)
		require.NoError(t, err)
		assert.Equal(t, 9000.0, next.DayStartEquity)
	})

	t.Run("update end of day", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m, err := s.GetOrCreate(ctx, "C1", day, 10000)
		require.NoError(t, err)
		m.Observe(9700)
		m.DayStartEquity = 1
		require.NoError(t, s.Update(ctx, m))

		got, err := s.GetOrCreate(ctx, "C1", day, 0)
		require.NoError(t, err)
		assert.Equal(t, 10000.0, got.DayStartEquity, "update never moves the baseline")
		require.NotNil(t, got.DayEndEquity)
		assert.Equal(t, 9700.0, *got.DayEndEquity)
		assert.Equal(t, -300.0, *got.DayPnL)
		assert.InDelta(t, 3.0, *got.MaxIntradayDrawdownPct, 1e-9)
	})

	t.Run("find", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m, err := s.Find(ctx, "C1", day)
		require.NoError(t, err)
		assert.Nil(t, m, "unseen day")

		_, err = s.GetOrCreate(ctx, "C1", day, 10000)
		require.NoError(t, err)

		m, err = s.Find(ctx, "C1", day)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, 10000.0, m.DayStartEquity)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), &challenge.DailyMetric{ChallengeID: "C1", Day: day})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.GetOrCreate(ctx, "C1", day.AddDate(0, 0, 1), 9900)
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, "C1", day, 10000)
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, "C2", day, 1)
		require.NoError(t, err)

		got, err := s.ListByChallenge(ctx, "C1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, challenge.DayKey(day), challenge.DayKey(got[0].Day))
		assert.Equal(t, 9900.0, got[1].DayStartEquity)
	})
}
