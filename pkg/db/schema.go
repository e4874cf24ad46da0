package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS strategy_instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    strategy_type TEXT NOT NULL,
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    parameters TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_instance_id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL DEFAULT '',
    state_data TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trade_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts DATETIME NOT NULL,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    strategy TEXT NOT NULL,
    real_pnl REAL DEFAULT 0,
    message TEXT
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    strategy TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    entry_time DATETIME,
    exit_time DATETIME NOT NULL,
    fee REAL DEFAULT 0,
    gross_pnl REAL DEFAULT 0,
    pnl REAL DEFAULT 0,
    reason TEXT
);

CREATE TABLE IF NOT EXISTS optimization_runs (
    id TEXT PRIMARY KEY,
    strategy_type TEXT NOT NULL,
    combinations INTEGER NOT NULL,
    failed INTEGER DEFAULT 0,
    in_sample_bars INTEGER DEFAULT 0,
    out_sample_bars INTEGER DEFAULT 0,
    best_key TEXT,
    in_sample_net REAL DEFAULT 0,
    out_sample_net REAL DEFAULT 0,
    overfit BOOLEAN DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS optimization_results (
    run_id TEXT NOT NULL,
    sample TEXT NOT NULL,
    param_key TEXT NOT NULL,
    params TEXT NOT NULL,
    net_pnl REAL DEFAULT 0,
    max_drawdown REAL DEFAULT 0,
    reward_risk REAL DEFAULT 0,
    trades INTEGER DEFAULT 0,
    win_rate REAL DEFAULT 0,
    avg_holding_seconds REAL DEFAULT 0,
    error TEXT,
    PRIMARY KEY (run_id, sample, param_key),
    FOREIGN KEY(run_id) REFERENCES optimization_runs(id)
);

CREATE TABLE IF NOT EXISTS reconciliation_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts DATETIME NOT NULL,
    reason TEXT,
    shadow_qty REAL DEFAULT 0,
    real_qty REAL DEFAULT 0,
    cost_basis REAL DEFAULT 0,
    market REAL DEFAULT 0,
    anchor TEXT,
    synced BOOLEAN DEFAULT 0,
    stale BOOLEAN DEFAULT 0,
    error TEXT
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "strategy_states", "instance_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "gross_pnl", "REAL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
