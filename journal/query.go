package journal

import (
	"time"
)

// ListEquity returns a challenge's equity curve, oldest first.
func (j *SQLite) ListEquity(challengeID string) ([]EquityRecord, error) {
	rows, err := j.db.Query(`
		SELECT challenge_id, time, balance, equity, realized_pnl, unrealized_pnl, danger_level, status
		FROM equity_curve
		WHERE challenge_id = ?
		ORDER BY time ASC, rowid ASC`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquityRecord
	for rows.Next() {
		var (
			rec EquityRecord
			ns  int64
		)
		if err := rows.Scan(
			&rec.ChallengeID,
			&ns,
			&rec.Balance,
			&rec.Equity,
			&rec.RealizedPnL,
			&rec.UnrealizedPnL,
			&rec.DangerLevel,
			&rec.Status,
		); err != nil {
			return nil, err
		}
		rec.Time = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActions returns the actions taken on a challenge, oldest first.
func (j *SQLite) ListActions(challengeID string) ([]ActionRecord, error) {
	rows, err := j.db.Query(`
		SELECT challenge_id, time, action, reason, closed_positions, equity
		FROM watchdog_actions
		WHERE challenge_id = ?
		ORDER BY time ASC, rowid ASC`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			rec ActionRecord
			ns  int64
		)
		if err := rows.Scan(
			&rec.ChallengeID,
			&ns,
			&rec.Action,
			&rec.Reason,
			&rec.ClosedPositions,
			&rec.Equity,
		); err != nil {
			return nil, err
		}
		rec.Time = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
