package sqlite

import (
	"context"
	"fmt"

	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/store"
)

// TradeStore implements store.TradeStore using SQLite.
type TradeStore struct {
	db *DB
}

func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

var _ store.TradeStore = (*TradeStore)(nil)

const insertTrade = `
	INSERT INTO trades (id, challenge_id, symbol, side, qty, price, executed_at, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *TradeStore) Append(ctx context.Context, t ledger.Trade) error {
	if err := store.ValidateTrade(t); err != nil {
		return err
	}
	return insert(ctx, s.db.db, t)
}

func insert(ctx context.Context, ex execer, t ledger.Trade) error {
	_, err := ex.ExecContext(ctx, insertTrade,
		t.ID, t.ChallengeID, t.Symbol, string(t.Side), t.Qty, t.Price, nanos(t.ExecutedAt), t.Reason,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// AppendBatch inserts every trade in one transaction.
func (s *TradeStore) AppendBatch(ctx context.Context, trades []ledger.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if err := store.ValidateTrade(t); err != nil {
			return err
		}
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trades {
		if err := insert(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *TradeStore) ListByChallenge(ctx context.Context, challengeID string) ([]ledger.Trade, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, challenge_id, symbol, side, qty, price, executed_at, reason
		FROM trades
		WHERE challenge_id = ?
		ORDER BY executed_at ASC, id ASC`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		var (
			t    ledger.Trade
			side string
			at   int64
		)
		if err := rows.Scan(&t.ID, &t.ChallengeID, &t.Symbol, &side, &t.Qty, &t.Price, &at, &t.Reason); err != nil {
			return nil, err
		}
		t.Side = ledger.Side(side)
		t.ExecutedAt = fromNanos(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
