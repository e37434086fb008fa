package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/desk"
	"github.com/rustyeddy/challenger/journal"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/risk"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreConfig{Type: "memory"}
	cfg.Journal = config.JournalConfig{Type: "none"}
	cfg.Watchdog.SweepInterval = "0"
	cfg.Watchdog.LockChallenges = true
	cfg.Prices.Watchlist = []string{"AAPL", "TSLA"}
	return cfg
}

func TestNewMemory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Watchdog.Locks())
	assert.Equal(t, risk.DefaultRules(), a.Watchdog.Rules())
	assert.Empty(t, a.Feeds.Feeds())
	assert.IsType(t, journal.Nop{}, a.Journal)

	// no feeds: the cache serves synthetic prices
	q := a.Prices.GetPrice("AAPL")
	assert.Equal(t, market.SourceSynthetic, q.Source)
	assert.Greater(t, q.Price, 0.0)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Type = "redis"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewSkipsFeedsWithoutCredentials(t *testing.T) {
	t.Setenv("CHALLENGER_TEST_OANDA", "")
	t.Setenv("CHALLENGER_TEST_POLYGON", "")

	cfg := memoryConfig()
	cfg.Feeds.Oanda = config.OandaConfig{Enabled: true, Env: "practice", AccountID: "101-001-1", TokenEnv: "CHALLENGER_TEST_OANDA"}
	cfg.Feeds.Polygon = config.PolygonConfig{Enabled: true, APIKeyEnv: "CHALLENGER_TEST_POLYGON", Timeout: "1s"}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.Feeds.Feeds())
	assert.Nil(t, a.oanda)
}

func TestNewRegistersOanda(t *testing.T) {
	t.Setenv("CHALLENGER_TEST_OANDA", "token")

	cfg := memoryConfig()
	cfg.Feeds.Oanda = config.OandaConfig{Enabled: true, Env: "practice", AccountID: "101-001-1", TokenEnv: "CHALLENGER_TEST_OANDA"}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, []string{market.FeedOanda}, a.Feeds.Feeds())
	assert.NotNil(t, a.oanda)
}

func TestNewPostgresNeedsDSN(t *testing.T) {
	t.Setenv("CHALLENGER_TEST_DSN", "")

	cfg := memoryConfig()
	cfg.Store = config.StoreConfig{Type: "postgres", DSNEnv: "CHALLENGER_TEST_DSN"}
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "CHALLENGER_TEST_DSN")
}

func TestNewSQLiteWithJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig()
	cfg.Store = config.StoreConfig{Type: "sqlite", Path: filepath.Join(dir, "store.db")}
	cfg.Journal = config.JournalConfig{
		Type:        "csv",
		EquityFile:  filepath.Join(dir, "equity.csv"),
		ActionsFile: filepath.Join(dir, "actions.csv"),
	}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	c, err := a.Desk.OpenChallenge(context.Background(), 5000)
	require.NoError(t, err)
	got, err := a.Stores.Challenges.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, got.StartBalance)
	assert.FileExists(t, cfg.Journal.EquityFile)

	require.NoError(t, a.Close())
}

func TestSweepLiquidatesBreachedChallenges(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Prices.Set("AAPL", 100))
	require.NoError(t, a.Prices.Set("TSLA", 250))

	breached, err := a.Desk.OpenChallenge(ctx, 10000)
	require.NoError(t, err)
	healthy, err := a.Desk.OpenChallenge(ctx, 10000)
	require.NoError(t, err)

	_, err = a.Desk.PlaceTrade(ctx, orderFor(breached.ID, "AAPL", 100))
	require.NoError(t, err)
	_, err = a.Desk.PlaceTrade(ctx, orderFor(healthy.ID, "TSLA", 1))
	require.NoError(t, err)

	require.NoError(t, a.Prices.Set("AAPL", 92))

	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := a.Stores.Challenges.Get(ctx, breached.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Failed, got.Status)
	assert.Equal(t, risk.CodeDailyLoss, got.FailReason)

	got, err = a.Stores.Challenges.Get(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.Active, got.Status)

	// the failed challenge drops out of the next sweep
	n, err = a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Desk.OpenChallenge(context.Background(), 10000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigureLogging(t *testing.T) {
	defer func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	require.NoError(t, ConfigureLogging(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "loud"}))
}

func orderFor(challengeID, symbol string, qty float64) desk.Order {
	return desk.Order{ChallengeID: challengeID, Symbol: symbol, Side: ledger.Buy, Qty: qty}
}
