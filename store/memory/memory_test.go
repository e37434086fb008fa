package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/store/storetest"
)

func TestTradeStore(t *testing.T) {
	storetest.TradeStore(t, func(*testing.T) store.TradeStore { return NewTradeStore() })
}

func TestChallengeStore(t *testing.T) {
	storetest.ChallengeStore(t, func(*testing.T) store.ChallengeStore { return NewChallengeStore() })
}

func TestDailyMetricStore(t *testing.T) {
	storetest.DailyMetricStore(t, func(*testing.T) store.DailyMetricStore { return NewDailyMetricStore() })
}

func TestChallengeStoreReturnsCopies(t *testing.T) {
	s := NewChallengeStore()
	ctx := context.Background()
	c, err := challenge.New("C1", 100, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, c))

	c.Equity = 1
	got, err := s.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Equity)

	got.Status = challenge.Failed
	again, _ := s.Get(ctx, "C1")
	assert.Equal(t, challenge.Active, again.Status)
}
