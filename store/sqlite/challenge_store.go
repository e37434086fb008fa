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

// ChallengeStore implements store.ChallengeStore using SQLite.
type ChallengeStore struct {
	db *DB
}

func NewChallengeStore(db *DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

var _ store.ChallengeStore = (*ChallengeStore)(nil)

const challengeColumns = `id, start_balance, equity, status, fail_reason, created_at, updated_at, failed_at, passed_at`

func (s *ChallengeStore) Create(ctx context.Context, c *challenge.Challenge) error {
	if err := store.ValidateChallenge(c); err != nil {
		return err
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartBalance, c.Equity, string(c.Status), c.FailReason,
		nanos(c.CreatedAt), nanos(c.UpdatedAt), nullNanos(c.FailedAt), nullNanos(c.PassedAt),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (*challenge.Challenge, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id)
	c, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE challenges
		SET equity = ?, status = ?, fail_reason = ?, updated_at = ?, failed_at = ?, passed_at = ?
		WHERE id = ?`,
		c.Equity, string(c.Status), c.FailReason, nanos(c.UpdatedAt),
		nullNanos(c.FailedAt), nullNanos(c.PassedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
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

func (s *ChallengeStore) SaveEquity(ctx context.Context, id string, equity float64, at time.Time) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE challenges SET equity = ?, updated_at = ? WHERE id = ?`,
		equity, nanos(at), id,
	)
	if err != nil {
		return fmt.Errorf("update equity: %w", err)
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

func (s *ChallengeStore) ListByStatus(ctx context.Context, status challenge.Status) ([]*challenge.Challenge, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE status = ?
		ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []*challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row scanner) (*challenge.Challenge, error) {
	var (
		c                  challenge.Challenge
		status             string
		created, updated   int64
		failedAt, passedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.StartBalance, &c.Equity, &status, &c.FailReason,
		&created, &updated, &failedAt, &passedAt)
	if err != nil {
		return nil, err
	}
	c.Status = challenge.Status(status)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	c.FailedAt = timePtr(failedAt)
	c.PassedAt = timePtr(passedAt)
	return &c, nil
}
