package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/id"
	"github.com/rustyeddy/challenger/journal"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
	"github.com/rustyeddy/challenger/metrics"
	"github.com/rustyeddy/challenger/pnl"
	"github.com/rustyeddy/challenger/store"
)

// Actions recorded by Execute.
const (
	ActionNone       = "NONE"
	ActionForceClose = "FORCE_CLOSE_AND_FAIL"
	ActionPassed     = "CHALLENGE_PASSED"
)

// Result statuses.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusViolated = "violated"
	StatusLocked   = "locked"
	StatusFailed   = "failed"
	StatusPassed   = "passed"
)

// StatusReport is the side-effect free view used for polling.
type StatusReport struct {
	ChallengeID     string             `json:"challenge_id"`
	Status          string             `json:"status"`
	ChallengeStatus challenge.Status   `json:"challenge_status"`
	FailReason      string             `json:"fail_reason,omitempty"`
	DangerLevel     float64            `json:"danger_level"`
	Level           Level              `json:"level"`
	Metrics         Metrics            `json:"metrics"`
	Warnings        []Warning          `json:"warnings"`
	Violations      []Violation        `json:"violations"`
	CanTrade        bool               `json:"can_trade"`
	IsHealthy       bool               `json:"is_healthy"`
	Equity          pnl.EquitySnapshot `json:"equity"`
}

// ExecuteResult reports what Execute did.
type ExecuteResult struct {
	ChallengeID     string           `json:"challenge_id"`
	Status          string           `json:"status"`
	ActionTaken     string           `json:"action_taken"`
	FailReason      string           `json:"fail_reason,omitempty"`
	ClosedPositions []ledger.Trade   `json:"closed_positions,omitempty"`
	ChallengeStatus challenge.Status `json:"challenge_status"`
	Equity          float64          `json:"equity"`
	Assessment      *Assessment      `json:"assessment,omitempty"`
}

// Watchdog enforces the challenge rules. It has no timer of its own; it
// runs when asked, after a trade or from a periodic sweep.
type Watchdog struct {
	rules      Rules
	trades     store.TradeStore
	challenges challenge.Store
	daily      challenge.DailyMetrics
	prices     market.Pricer
	calc       *pnl.Calculator
	ledger     *ledger.Ledger

	journal journal.Journal
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	locks   *KeyedMutex
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Watchdog)

func WithRules(r Rules) Option {
	return func(w *Watchdog) { w.rules = r }
}

func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithLocation sets the zone whose calendar days bound the daily-loss rule.
func WithLocation(loc *time.Location) Option {
	return func(w *Watchdog) {
		if loc != nil {
			w.loc = loc
		}
	}
}

func WithJournal(j journal.Journal) Option {
	return func(w *Watchdog) {
		if j != nil {
			w.journal = j
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watchdog) { w.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watchdog) { w.metrics = m }
}

// WithChallengeLocks serializes Execute per challenge. Without it two
// concurrent executions may both act on the same breach.
func WithChallengeLocks(k *KeyedMutex) Option {
	return func(w *Watchdog) { w.locks = k }
}

func NewWatchdog(trades store.TradeStore, challenges challenge.Store, daily challenge.DailyMetrics, prices market.Pricer, opts ...Option) *Watchdog {
	w := &Watchdog{
		rules:      DefaultRules(),
		trades:     trades,
		challenges: challenges,
		daily:      daily,
		prices:     prices,
		ledger:     ledger.New(trades),
		journal:    journal.Nop{},
		log:        logrus.WithField("component", "watchdog"),
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.calc = pnl.NewCalculator(trades, challenges, prices).WithClock(w.now)
	return w
}

func (w *Watchdog) Rules() Rules { return w.rules }

// Locks returns the per-challenge locks, or nil when locking is off.
func (w *Watchdog) Locks() *KeyedMutex { return w.locks }

// Calculator exposes the equity calculator the watchdog evaluates with.
func (w *Watchdog) Calculator() *pnl.Calculator { return w.calc }

// Status evaluates the rules without writing anything. A day not seen yet
// is measured against the current equity, as Execute would record it.
func (w *Watchdog) Status(ctx context.Context, challengeID string) (StatusReport, error) {
	ch, err := w.challenges.Get(ctx, challengeID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("watchdog status %s: %w", challengeID, err)
	}

	r := StatusReport{
		ChallengeID:     ch.ID,
		ChallengeStatus: ch.Status,
		FailReason:      ch.FailReason,
		Warnings:        []Warning{},
		Violations:      []Violation{},
	}
	if ch.Status == challenge.Failed {
		r.Status = StatusLocked
		r.DangerLevel = 100
		r.Level = LevelFor(100)
		r.Metrics.CurrentEquity = ch.Equity
		r.Metrics.InitialBalance = ch.StartBalance
		return r, nil
	}

	snap, err := w.calc.EquityOf(ctx, ch)
	if err != nil {
		return StatusReport{}, err
	}
	dayStart := snap.Equity
	dm, err := w.daily.Find(ctx, ch.ID, challenge.Day(w.now(), w.loc))
	if err != nil {
		return StatusReport{}, fmt.Errorf("watchdog status %s: %w", challengeID, err)
	}
	if dm != nil {
		dayStart = dm.DayStartEquity
	}

	a := Evaluate(w.rules, ch.StartBalance, dayStart, snap.Equity)
	r.Equity = snap
	r.Metrics = a.Metrics
	r.Warnings = a.Warnings
	r.Violations = a.Violations
	r.DangerLevel = a.DangerLevel
	r.Level = a.Level
	r.CanTrade = !a.ShouldFail
	r.IsHealthy = !a.ShouldFail && len(a.Warnings) == 0

	switch {
	case a.ShouldFail:
		r.Status = StatusViolated
	case ch.Status == challenge.Passed:
		r.Status = StatusPassed
	case len(a.Warnings) > 0:
		r.Status = StatusWarning
	default:
		r.Status = StatusHealthy
	}
	return r, nil
}

// Execute evaluates the rules and acts on them. A loss breach liquidates
// every open position at the cached price and fails the challenge; reaching
// the profit target passes it and leaves positions open. A challenge that
// is no longer active is reported as is, with no side effects.
func (w *Watchdog) Execute(ctx context.Context, challengeID string) (ExecuteResult, error) {
	defer w.locks.Guard(challengeID)()

	res, err := w.execute(ctx, challengeID)
	if err != nil {
		w.metrics.Evaluation("error")
		return res, err
	}
	w.metrics.Evaluation(res.Status)
	return res, nil
}

func (w *Watchdog) execute(ctx context.Context, challengeID string) (ExecuteResult, error) {
	log := w.log.WithField("challenge_id", challengeID)

	ch, err := w.challenges.Get(ctx, challengeID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("watchdog execute %s: %w", challengeID, err)
	}
	if !ch.IsActive() {
		return ExecuteResult{
			ChallengeID:     ch.ID,
			Status:          string(ch.Status),
			ActionTaken:     ActionNone,
			FailReason:      ch.FailReason,
			ChallengeStatus: ch.Status,
			Equity:          ch.Equity,
		}, nil
	}

	snap, err := w.calc.EquityOf(ctx, ch)
	if err != nil {
		return ExecuteResult{}, err
	}
	now := w.now()

	dm, err := w.daily.GetOrCreate(ctx, ch.ID, challenge.Day(now, w.loc), snap.Equity)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("daily baseline %s: %w", challengeID, err)
	}

	a := Evaluate(w.rules, ch.StartBalance, dm.DayStartEquity, snap.Equity)
	res := ExecuteResult{
		ChallengeID: ch.ID,
		ActionTaken: ActionNone,
		Equity:      snap.Equity,
		Assessment:  &a,
	}

	switch {
	case a.ShouldFail:
		closed, err := w.liquidate(ctx, ch.ID, now)
		if err != nil {
			return ExecuteResult{}, err
		}
		if err := ch.Fail(now, a.FailReason); err != nil {
			return ExecuteResult{}, err
		}
		res.Status = StatusFailed
		res.ActionTaken = ActionForceClose
		res.FailReason = a.FailReason
		res.ClosedPositions = closed
		w.metrics.Liquidated(len(closed))
		log.WithFields(logrus.Fields{
			"reason": a.FailReason,
			"equity": snap.Equity,
			"closed": len(closed),
		}).Warn("challenge failed, positions liquidated")

	case a.ShouldPass:
		if err := ch.Pass(now); err != nil {
			return ExecuteResult{}, err
		}
		res.Status = StatusPassed
		res.ActionTaken = ActionPassed
		log.WithField("equity", snap.Equity).Info("challenge passed")

	case len(a.Warnings) > 0:
		res.Status = StatusWarning
		log.WithField("danger", a.DangerLevel).Debug("challenge approaching a limit")

	default:
		res.Status = StatusHealthy
	}

	ch.Equity = snap.Equity
	ch.UpdatedAt = now.UTC()
	if err := w.challenges.Save(ctx, ch); err != nil {
		return ExecuteResult{}, fmt.Errorf("save challenge %s: %w", challengeID, err)
	}
	res.ChallengeStatus = ch.Status

	dm.Observe(snap.Equity)
	if err := w.daily.Update(ctx, dm); err != nil {
		log.WithError(err).Warn("daily metric update failed")
	}

	w.record(ch, snap, a, res, now)
	return res, nil
}

// liquidate closes every open position in one batch so a failure leaves
// the log untouched.
func (w *Watchdog) liquidate(ctx context.Context, challengeID string, now time.Time) ([]ledger.Trade, error) {
	positions, err := w.ledger.ComputePositions(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	var closing []ledger.Trade
	for _, p := range ledger.OpenPositions(positions) {
		q := w.prices.GetPrice(p.Symbol)
		t := ledger.ClosingTrade(challengeID, p, q.Price, now.UTC(), ledger.ReasonLiquidation)
		t.ID = id.NewAt(now)
		closing = append(closing, t)
	}
	if err := w.trades.AppendBatch(ctx, closing); err != nil {
		return nil, fmt.Errorf("liquidate %s: %w", challengeID, err)
	}
	return closing, nil
}

// record writes the journal. Journal errors are logged, never returned:
// the challenge state is already persisted.
func (w *Watchdog) record(ch *challenge.Challenge, snap pnl.EquitySnapshot, a Assessment, res ExecuteResult, now time.Time) {
	log := w.log.WithField("challenge_id", ch.ID)

	err := w.journal.RecordEquity(journal.EquityRecord{
		ChallengeID:   ch.ID,
		Time:          now,
		Balance:       snap.Balance,
		Equity:        snap.Equity,
		RealizedPnL:   snap.RealizedPnL,
		UnrealizedPnL: snap.UnrealizedPnL,
		DangerLevel:   a.DangerLevel,
		Status:        string(ch.Status),
	})
	if err != nil {
		log.WithError(err).Warn("journal equity write failed")
	}

	if res.ActionTaken == ActionNone {
		return
	}
	err = w.journal.RecordAction(journal.ActionRecord{
		ChallengeID:     ch.ID,
		Time:            now,
		Action:          res.ActionTaken,
		Reason:          res.FailReason,
		ClosedPositions: len(res.ClosedPositions),
		Equity:          snap.Equity,
	})
	if err != nil {
		log.WithError(err).Warn("journal action write failed")
	}
}
