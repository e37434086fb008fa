// store/sqlite/schema.go
package sqlite

// Timestamps are unix nanoseconds so ORDER BY is exact.
const Schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id TEXT PRIMARY KEY,
	start_balance REAL NOT NULL,
	equity REAL NOT NULL,
	status TEXT NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	failed_at INTEGER,
	passed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_challenges_status ON challenges(status, created_at);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	challenge_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	qty REAL NOT NULL CHECK (qty > 0),
	price REAL NOT NULL CHECK (price > 0),
	executed_at INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_challenge ON trades(challenge_id, executed_at, id);

CREATE TABLE IF NOT EXISTS daily_metrics (
	challenge_id TEXT NOT NULL,
	day TEXT NOT NULL,
	day_start_equity REAL NOT NULL,
	day_end_equity REAL,
	day_pnl REAL,
	max_intraday_drawdown_pct REAL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (challenge_id, day)
);
`
