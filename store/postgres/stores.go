package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/store"
)

// TradeStore implements store.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ store.TradeStore = (*TradeStore)(nil)

const insertTrade = `
	INSERT INTO trades (id, challenge_id, symbol, side, qty, price, executed_at, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func tradeArgs(t ledger.Trade) []any {
	return []any{t.ID, t.ChallengeID, t.Symbol, string(t.Side), t.Qty, t.Price, t.ExecutedAt.UTC(), t.Reason}
}

func (s *TradeStore) Append(ctx context.Context, t ledger.Trade) error {
	if err := store.ValidateTrade(t); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertTrade, tradeArgs(t)...); err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// AppendBatch adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) AppendBatch(ctx context.Context, trades []ledger.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if err := store.ValidateTrade(t); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		if _, err := tx.Exec(ctx, insertTrade, tradeArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return store.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *TradeStore) ListByChallenge(ctx context.Context, challengeID string) ([]ledger.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, challenge_id, symbol, side, qty, price, executed_at, reason
		FROM trades
		WHERE challenge_id = $1
		ORDER BY executed_at ASC, id ASC
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		var (
			t    ledger.Trade
			side string
		)
		if err := rows.Scan(&t.ID, &t.ChallengeID, &t.Symbol, &side, &t.Qty, &t.Price, &t.ExecutedAt, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = ledger.Side(side)
		t.ExecutedAt = t.ExecutedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// ChallengeStore implements store.ChallengeStore using PostgreSQL.
type ChallengeStore struct {
	pool *Pool
}

func NewChallengeStore(pool *Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

var _ store.ChallengeStore = (*ChallengeStore)(nil)

const challengeColumns = `id, start_balance, equity, status, fail_reason, created_at, updated_at, failed_at, passed_at`

func (s *ChallengeStore) Create(ctx context.Context, c *challenge.Challenge) error {
	if err := store.ValidateChallenge(c); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.StartBalance, c.Equity, string(c.Status), c.FailReason,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.FailedAt, c.PassedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (*challenge.Challenge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	c, err := scanChallenge(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return c, nil
}

func (s *ChallengeStore) Save(ctx context.Context, c *challenge.Challenge) error {
	if err := store.ValidateChallenge(c); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET equity = $2, status = $3, fail_reason = $4, updated_at = $5, failed_at = $6, passed_at = $7
		WHERE id = $1
	`, c.ID, c.Equity, string(c.Status), c.FailReason, c.UpdatedAt.UTC(), c.FailedAt, c.PassedAt)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ChallengeStore) SaveEquity(ctx context.Context, id string, equity float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET equity = $2, updated_at = $3 WHERE id = $1`,
		id, equity, at.UTC())
	if err != nil {
		return fmt.Errorf("update equity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ChallengeStore) ListByStatus(ctx context.Context, status challenge.Status) ([]*challenge.Challenge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []*challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	var (
		c      challenge.Challenge
		status string
	)
	err := row.Scan(&c.ID, &c.StartBalance, &c.Equity, &status, &c.FailReason,
		&c.CreatedAt, &c.UpdatedAt, &c.FailedAt, &c.PassedAt)
	if err != nil {
		return nil, err
	}
	c.Status = challenge.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.FailedAt != nil {
		t := c.FailedAt.UTC()
		c.FailedAt = &t
	}
	if c.PassedAt != nil {
		t := c.PassedAt.UTC()
		c.PassedAt = &t
	}
	return &c, nil
}

// DailyMetricStore implements store.DailyMetricStore using PostgreSQL.
type DailyMetricStore struct {
	pool *Pool
}

func NewDailyMetricStore(pool *Pool) *DailyMetricStore {
	return &DailyMetricStore{pool: pool}
}

var _ store.DailyMetricStore = (*DailyMetricStore)(nil)

const dailyColumns = `challenge_id, day::text, day_start_equity, day_end_equity, day_pnl, max_intraday_drawdown_pct, created_at`

// GetOrCreate relies on the primary key so concurrent first checks of a
// day agree on one baseline.
func (s *DailyMetricStore) GetOrCreate(ctx context.Context, challengeID string, day time.Time, startEquity float64) (*challenge.DailyMetric, error) {
	if challengeID == "" {
		return nil, store.ErrInvalidInput
	}
	key := dateOf(day)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_metrics (challenge_id, day, day_start_equity)
		VALUES ($1, $2, $3)
		ON CONFLICT (challenge_id, day) DO NOTHING
	`, challengeID, key, startEquity)
	if err != nil {
		return nil, fmt.Errorf("insert daily metric: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = $1 AND day = $2
	`, challengeID, key)
	m, err := scanDaily(row, day.Location())
	if err != nil {
		return nil, fmt.Errorf("get daily metric: %w", err)
	}
	return m, nil
}

func (s *DailyMetricStore) Find(ctx context.Context, challengeID string, day time.Time) (*challenge.DailyMetric, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = $1 AND day = $2
	`, challengeID, dateOf(day))
	m, err := scanDaily(row, day.Location())
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find daily metric: %w", err)
	}
	return m, nil
}

func (s *DailyMetricStore) Update(ctx context.Context, m *challenge.DailyMetric) error {
	if m == nil {
		return store.ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE daily_metrics
		SET day_end_equity = $3, day_pnl = $4, max_intraday_drawdown_pct = $5
		WHERE challenge_id = $1 AND day = $2
	`, m.ChallengeID, dateOf(m.Day), m.DayEndEquity, m.DayPnL, m.MaxIntradayDrawdownPct)
	if err != nil {
		return fmt.Errorf("update daily metric: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DailyMetricStore) ListByChallenge(ctx context.Context, challengeID string) ([]*challenge.DailyMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = $1
		ORDER BY day ASC
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list daily metrics: %w", err)
	}
	defer rows.Close()

	var out []*challenge.DailyMetric
	for rows.Next() {
		m, err := scanDaily(rows, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// dateOf carries the calendar date of day as UTC midnight, which is what
// pgx encodes into a DATE.
func dateOf(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func scanDaily(row pgx.Row, loc *time.Location) (*challenge.DailyMetric, error) {
	var (
		m   challenge.DailyMetric
		day string
	)
	err := row.Scan(&m.ChallengeID, &day, &m.DayStartEquity, &m.DayEndEquity, &m.DayPnL,
		&m.MaxIntradayDrawdownPct, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil, fmt.Errorf("parse day %q: %w", day, err)
	}
	m.Day = d
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
