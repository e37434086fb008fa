package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/journal"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/metrics"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/store/memory"
)

var t0 = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

type marks struct {
	mu sync.Mutex
	p  map[string]float64
}

func newMarks(p map[string]float64) *marks { return &marks{p: p} }

func (m *marks) GetPrice(symbol string) market.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return market.Quote{Symbol: symbol, Price: m.p[symbol], Timestamp: t0, Source: market.SourceLive}
}

func (m *marks) set(symbol string, price float64) {
	m.mu.Lock()
	m.p[symbol] = price
	m.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	equity  []journal.EquityRecord
	actions []journal.ActionRecord
}

func (r *recorder) RecordEquity(e journal.EquityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity = append(r.equity, e)
	return nil
}

func (r *recorder) RecordAction(a journal.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *recorder) Close() error { return nil }

type fixture struct {
	stores  store.Stores
	prices  *marks
	journal *recorder
	metrics *metrics.Metrics
	wd      *Watchdog
}

// newFixture funds C1 with 10000 and opens 100 AAPL at 100, so every
// dollar on the AAPL mark moves equity by 100.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		stores:  memory.New(),
		prices:  newMarks(map[string]float64{"AAPL": 100, "TSLA": 250}),
		journal: &recorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	c, err := challenge.New("C1", 10000, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.stores.Challenges.Create(ctx, c))
	require.NoError(t, f.stores.Trades.Append(ctx, ledger.Trade{
		ID: "T1", ChallengeID: "C1", Symbol: "AAPL", Side: ledger.Buy,
		Qty: 100, Price: 100, ExecutedAt: t0.Add(-time.Minute),
	}))

	opts = append([]Option{
		WithClock(func() time.Time { return t0 }),
		WithJournal(f.journal),
		WithMetrics(f.metrics),
	}, opts...)
	f.wd = NewWatchdog(f.stores.Trades, f.stores.Challenges, f.stores.Daily, f.prices, opts...)
	return f
}

func (f *fixture) seedDay(t *testing.T, startEquity float64) {
	t.Helper()
	_, err := f.stores.Daily.GetOrCreate(context.Background(), "C1", challenge.Day(t0, time.UTC), startEquity)
	require.NoError(t, err)
}

func (f *fixture) challenge(t *testing.T) *challenge.Challenge {
	t.Helper()
	c, err := f.stores.Challenges.Get(context.Background(), "C1")
	require.NoError(t, err)
	return c
}

func (f *fixture) positions(t *testing.T) []ledger.Position {
	t.Helper()
	ps, err := ledger.New(f.stores.Trades).ComputePositions(context.Background(), "C1")
	require.NoError(t, err)
	return ledger.OpenPositions(ps)
}

func TestExecuteHealthy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, ActionNone, res.ActionTaken)
	assert.Equal(t, challenge.Active, res.ChallengeStatus)
	assert.Equal(t, 10000.0, res.Equity)

	// first check of the day fixes the baseline
	dm, err := f.stores.Daily.Find(context.Background(), "C1", challenge.Day(t0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, dm)
	assert.Equal(t, 10000.0, dm.DayStartEquity)
	require.NotNil(t, dm.DayEndEquity)
	assert.Equal(t, 10000.0, *dm.DayEndEquity)

	assert.Len(t, f.journal.equity, 1)
	assert.Empty(t, f.journal.actions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WatchdogEvaluations.WithLabelValues(StatusHealthy)))
}

func TestExecuteDailyLossLiquidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedDay(t, 10000)
	require.NoError(t, f.stores.Trades.Append(ctx, ledger.Trade{
		ID: "T2", ChallengeID: "C1", Symbol: "TSLA", Side: ledger.Sell,
		Qty: 2, Price: 250, ExecutedAt: t0.Add(-30 * time.Second),
	}))
	f.prices.set("AAPL", 94)

	res, err := f.wd.Execute(ctx, "C1")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ActionForceClose, res.ActionTaken)
	assert.Equal(t, CodeDailyLoss, res.FailReason)
	assert.Equal(t, challenge.Failed, res.ChallengeStatus)
	assert.Equal(t, 9400.0, res.Equity)
	require.Len(t, res.ClosedPositions, 2)

	aapl, tsla := res.ClosedPositions[0], res.ClosedPositions[1]
	assert.Equal(t, ledger.Sell, aapl.Side)
	assert.Equal(t, 100.0, aapl.Qty)
	assert.Equal(t, 94.0, aapl.Price)
	assert.Equal(t, ledger.ReasonLiquidation, aapl.Reason)
	assert.NotEmpty(t, aapl.ID)
	assert.Equal(t, ledger.Buy, tsla.Side, "short closes with a buy")
	assert.Equal(t, 2.0, tsla.Qty)

	assert.Empty(t, f.positions(t), "every position is flat after liquidation")

	c := f.challenge(t)
	assert.Equal(t, challenge.Failed, c.Status)
	assert.Equal(t, CodeDailyLoss, c.FailReason)
	require.NotNil(t, c.FailedAt)
	assert.Equal(t, t0, *c.FailedAt)
	assert.Equal(t, 9400.0, c.Equity)

	require.Len(t, f.journal.actions, 1)
	assert.Equal(t, ActionForceClose, f.journal.actions[0].Action)
	assert.Equal(t, 2, f.journal.actions[0].ClosedPositions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Liquidations))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PositionsClosed.WithLabelValues("liquidation")))
}

func TestExecuteDrawdownWithoutDailyBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDay(t, 9300)
	f.prices.set("AAPL", 89)

	res, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	assert.Equal(t, ActionForceClose, res.ActionTaken)
	assert.Equal(t, CodeMaxDrawdown, res.FailReason)
	require.NotNil(t, res.Assessment)
	assert.Equal(t, []string{CodeMaxDrawdown}, codes(res.Assessment.Violations))
	assert.Equal(t, challenge.Failed, f.challenge(t).Status)
	assert.Empty(t, f.positions(t))
}

func TestExecuteProfitTargetPasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.prices.set("AAPL", 110)

	res, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, ActionPassed, res.ActionTaken)
	assert.Empty(t, res.ClosedPositions)
	assert.Equal(t, 11000.0, res.Equity)

	c := f.challenge(t)
	assert.Equal(t, challenge.Passed, c.Status)
	require.NotNil(t, c.PassedAt)
	assert.Nil(t, c.FailedAt)

	open := f.positions(t)
	require.Len(t, open, 1, "winning positions stay open")
	assert.Equal(t, 100.0, open[0].Qty)
}

func TestExecuteTerminalIsSideEffectFree(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedDay(t, 10000)
	f.prices.set("AAPL", 94)

	_, err := f.wd.Execute(ctx, "C1")
	require.NoError(t, err)
	trades, err := f.stores.Trades.ListByChallenge(ctx, "C1")
	require.NoError(t, err)
	before := f.challenge(t)

	// prices recover; the failure is permanent
	f.prices.set("AAPL", 200)
	res, err := f.wd.Execute(ctx, "C1")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ActionNone, res.ActionTaken)
	assert.Equal(t, CodeDailyLoss, res.FailReason)
	assert.Equal(t, challenge.Failed, res.ChallengeStatus)

	after, err := f.stores.Trades.ListByChallenge(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, trades, after)
	assert.Equal(t, before, f.challenge(t))
	assert.ErrorIs(t, f.challenge(t).CanTrade(), challenge.ErrChallengeFailed)
	assert.Len(t, f.journal.actions, 1)
}

func TestExecuteUnknownChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.wd.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ms, err := f.stores.Daily.ListByChallenge(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, ms)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WatchdogEvaluations.WithLabelValues("error")))
}

func TestStatusIsReadOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.prices.set("AAPL", 91.5)

	r, err := f.wd.Status(ctx, "C1")
	require.NoError(t, err)

	// unseen day: measured against current equity
	assert.Equal(t, StatusWarning, r.Status)
	assert.Equal(t, 0.0, r.Metrics.DailyLoss)
	assert.Equal(t, 85.0, r.Metrics.DrawdownDangerPct)
	assert.True(t, r.CanTrade)
	assert.False(t, r.IsHealthy)

	dm, err := f.stores.Daily.Find(ctx, "C1", challenge.Day(t0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, dm, "status never creates the baseline")
	assert.Empty(t, f.journal.equity)
}

func TestStatusReportsBreachWithoutActing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDay(t, 10000)
	f.prices.set("AAPL", 94)

	r, err := f.wd.Status(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusViolated, r.Status)
	assert.False(t, r.CanTrade)
	assert.Equal(t, []string{CodeDailyLoss}, codes(r.Violations))
	assert.Equal(t, LevelCritical, r.Level)

	assert.Equal(t, challenge.Active, f.challenge(t).Status)
	assert.Len(t, f.positions(t), 1)
}

func TestStatusFailedIsLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDay(t, 10000)
	f.prices.set("AAPL", 94)
	_, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	r, err := f.wd.Status(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, r.Status)
	assert.False(t, r.CanTrade)
	assert.Equal(t, CodeDailyLoss, r.FailReason)
	assert.Equal(t, 100.0, r.DangerLevel)
}

func TestStatusPassedStaysTradable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.prices.set("AAPL", 110)
	_, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	r, err := f.wd.Status(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, r.Status)
	assert.True(t, r.CanTrade)
}

func TestDailyBaselineUsesLocation(t *testing.T) {
	t.Parallel()

	// 14:00 UTC on May 6 is already May 7 in Tokyo
	tokyo := time.FixedZone("JST", 9*3600)
	f := newFixture(t, WithLocation(tokyo))
	_, err := f.wd.Execute(context.Background(), "C1")
	require.NoError(t, err)

	ms, err := f.stores.Daily.ListByChallenge(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "2024-05-07", challenge.DayKey(ms[0].Day))
}

// gatedChallenges holds the first two Gets until both have arrived, or
// until a short timeout when only one ever does.
type gatedChallenges struct {
	challenge.Store

	mu    sync.Mutex
	calls int
	both  chan struct{}
}

func (g *gatedChallenges) Get(ctx context.Context, id string) (*challenge.Challenge, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	if n == 2 {
		close(g.both)
	}
	g.mu.Unlock()

	if n <= 2 {
		select {
		case <-g.both:
		case <-time.After(250 * time.Millisecond):
		}
	}
	return g.Store.Get(ctx, id)
}

func raceExecute(t *testing.T, opts ...Option) []ExecuteResult {
	t.Helper()

	f := newFixture(t)
	f.seedDay(t, 10000)
	f.prices.set("AAPL", 94)

	gated := &gatedChallenges{Store: f.stores.Challenges, both: make(chan struct{})}
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	wd := NewWatchdog(f.stores.Trades, gated, f.stores.Daily, f.prices, opts...)

	results := make([]ExecuteResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := wd.Execute(context.Background(), "C1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	return results
}

func countActions(results []ExecuteResult, action string) int {
	n := 0
	for _, r := range results {
		if r.ActionTaken == action {
			n++
		}
	}
	return n
}

// Without locks, two executions that read the challenge before either
// saves both act on the same breach.
func TestConcurrentExecuteRacesWithoutLocks(t *testing.T) {
	t.Parallel()

	results := raceExecute(t)
	assert.Equal(t, 2, countActions(results, ActionForceClose))
}

func TestConcurrentExecuteWithLocks(t *testing.T) {
	t.Parallel()

	results := raceExecute(t, WithChallengeLocks(NewKeyedMutex()))
	assert.Equal(t, 1, countActions(results, ActionForceClose))
	assert.Equal(t, 1, countActions(results, ActionNone))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	t.Parallel()

	k := NewKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()

	// other keys are independent
	k.Lock("b")()

	select {
	case <-done:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)

	var nilLocks *KeyedMutex
	nilLocks.Guard("x")()
}
