package journal

// Schema times are unix nanoseconds so rows sort exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS equity_curve (
	challenge_id TEXT NOT NULL,
	time INTEGER NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	danger_level REAL NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watchdog_actions (
	challenge_id TEXT NOT NULL,
	time INTEGER NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	closed_positions INTEGER NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_curve_challenge_time ON equity_curve(challenge_id, time);
CREATE INDEX IF NOT EXISTS idx_watchdog_actions_challenge_time ON watchdog_actions(challenge_id, time);
`
