package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/store"
)

// DailyMetricStore implements store.DailyMetricStore using SQLite.
type DailyMetricStore struct {
	db  *DB
	now func() time.Time
}

func NewDailyMetricStore(db *DB) *DailyMetricStore {
	return &DailyMetricStore{db: db, now: time.Now}
}

var _ store.DailyMetricStore = (*DailyMetricStore)(nil)

const dailyColumns = `challenge_id, day, day_start_equity, day_end_equity, day_pnl, max_intraday_drawdown_pct, created_at`

func (s *DailyMetricStore) GetOrCreate(ctx context.Context, challengeID string, day time.Time, startEquity float64) (*challenge.DailyMetric, error) {
	if challengeID == "" {
		return nil, store.ErrInvalidInput
	}
	key := challenge.DayKey(day)

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO daily_metrics (challenge_id, day, day_start_equity, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (challenge_id, day) DO NOTHING`,
		challengeID, key, startEquity, nanos(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert daily metric: %w", err)
	}

	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = ? AND day = ?`, challengeID, key)
	m, err := scanDaily(row, day.Location())
	if err != nil {
		return nil, fmt.Errorf("get daily metric: %w", err)
	}
	return m, nil
}

func (s *DailyMetricStore) Find(ctx context.Context, challengeID string, day time.Time) (*challenge.DailyMetric, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = ? AND day = ?`, challengeID, challenge.DayKey(day))
	m, err := scanDaily(row, day.Location())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find daily metric: %w", err)
	}
	return m, nil
}

func (s *DailyMetricStore) Update(ctx context.Context, m *challenge.DailyMetric) error {
	if m == nil {
		return store.ErrInvalidInput
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE daily_metrics
		SET day_end_equity = ?, day_pnl = ?, max_intraday_drawdown_pct = ?
		WHERE challenge_id = ? AND day = ?`,
		nullFloat(m.DayEndEquity), nullFloat(m.DayPnL), nullFloat(m.MaxIntradayDrawdownPct),
		m.ChallengeID, challenge.DayKey(m.Day),
	)
	if err != nil {
		return fmt.Errorf("update daily metric: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DailyMetricStore) ListByChallenge(ctx context.Context, challengeID string) ([]*challenge.DailyMetric, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_metrics
		WHERE challenge_id = ?
		ORDER BY day ASC`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list daily metrics: %w", err)
	}
	defer rows.Close()

	var out []*challenge.DailyMetric
	for rows.Next() {
		m, err := scanDaily(rows, time.UTC)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanDaily(row scanner, loc *time.Location) (*challenge.DailyMetric, error) {
	var (
		m            challenge.DailyMetric
		day          string
		end, pnl, dd sql.NullFloat64
		created      int64
	)
	if err := row.Scan(&m.ChallengeID, &day, &m.DayStartEquity, &end, &pnl, &dd, &created); err != nil {
		return nil, err
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil, fmt.Errorf("parse day %q: %w", day, err)
	}
	m.Day = d
	m.DayEndEquity = floatPtr(end)
	m.DayPnL = floatPtr(pnl)
	m.MaxIntradayDrawdownPct = floatPtr(dd)
	m.CreatedAt = fromNanos(created)
	return &m, nil
}
