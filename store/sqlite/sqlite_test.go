package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/store/storetest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "challenger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTradeStore(t *testing.T) {
	storetest.TradeStore(t, func(t *testing.T) store.TradeStore { return NewTradeStore(newTestDB(t)) })
}

func TestChallengeStore(t *testing.T) {
	storetest.ChallengeStore(t, func(t *testing.T) store.ChallengeStore { return NewChallengeStore(newTestDB(t)) })
}

func TestDailyMetricStore(t *testing.T) {
	storetest.DailyMetricStore(t, func(t *testing.T) store.DailyMetricStore { return NewDailyMetricStore(newTestDB(t)) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "challenger.db")
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)

	db, err := Open(path)
	require.NoError(t, err)
	stores := db.Stores()
	c, err := challenge.New("C1", 10000, at)
	require.NoError(t, err)
	require.NoError(t, stores.Challenges.Create(ctx, c))
	require.NoError(t, stores.Trades.Append(ctx, ledger.Trade{
		ID: "T1", ChallengeID: "C1", Symbol: "AAPL", Side: ledger.Buy, Qty: 1, Price: 100, ExecutedAt: at,
	}))
	require.NoError(t, stores.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := NewChallengeStore(db).Get(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(at), "nanosecond timestamps survive")

	trades, err := NewTradeStore(db).ListByChallenge(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ExecutedAt.Equal(at))
}
