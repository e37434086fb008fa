package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal database at path. The tables do
// not collide with the store's, so both may share one file.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordEquity(e EquityRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO equity_curve
		(challenge_id, time, balance, equity, realized_pnl, unrealized_pnl, danger_level, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ChallengeID, e.Time.UnixNano(), e.Balance, e.Equity,
		e.RealizedPnL, e.UnrealizedPnL, e.DangerLevel, e.Status,
	)
	return err
}

func (j *SQLite) RecordAction(a ActionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO watchdog_actions
		(challenge_id, time, action, reason, closed_positions, equity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ChallengeID, a.Time.UnixNano(), a.Action, a.Reason, a.ClosedPositions, a.Equity,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
