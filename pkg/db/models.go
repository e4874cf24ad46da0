package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("db: not found")

// TradeLogRow is one append-only trade log entry.
type TradeLogRow struct {
	Time     time.Time
	Symbol   string
	Action   string
	Price    float64
	Qty      float64
	Strategy string
	RealPnL  float64
	Message  string
}

// InsertTradeLogSQL is the statement used by batched trade log writers.
const InsertTradeLogSQL = `
	INSERT INTO trade_log (ts, symbol, action, price, qty, strategy, real_pnl, message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// TradeLogArgs returns the InsertTradeLogSQL arguments for r.
func TradeLogArgs(r TradeLogRow) []any {
	return []any{r.Time.UTC(), r.Symbol, r.Action, r.Price, r.Qty, r.Strategy, r.RealPnL, r.Message}
}

// Trade is one realized round trip.
type Trade struct {
	ID         string
	Strategy   string
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	Fee        float64
	GrossPnL   float64
	PnL        float64
	Reason     string
}

// InsertTradeSQL is the statement used by batched trade writers.
const InsertTradeSQL = `
	INSERT OR IGNORE INTO trades (
		id, strategy, symbol, side, qty, entry_price, exit_price, entry_time, exit_time, fee, gross_pnl, pnl, reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// TradeArgs returns the InsertTradeSQL arguments for t.
func TradeArgs(t Trade) []any {
	return []any{
		t.ID, t.Strategy, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice,
		t.EntryTime.UTC(), t.ExitTime.UTC(), t.Fee, t.GrossPnL, t.PnL, t.Reason,
	}
}

// StrategyState is a persisted strategy snapshot.
type StrategyState struct {
	StrategyID string
	InstanceID string
	Data       string
	UpdatedAt  time.Time
}

// OptimizationRun summarizes one optimizer sweep.
type OptimizationRun struct {
	ID            string
	StrategyType  string
	Combinations  int
	Failed        int
	InSampleBars  int
	OutSampleBars int
	BestKey       string
	InSampleNet   float64
	OutSampleNet  float64
	Overfit       bool
	CreatedAt     time.Time
}

// OptimizationResult is one parameter combination's metrics on one sample.
type OptimizationResult struct {
	RunID             string
	Sample            string
	ParamKey          string
	Params            string
	NetPnL            float64
	MaxDrawdown       float64
	RewardRisk        float64
	Trades            int
	WinRate           float64
	AvgHoldingSeconds float64
	Error             string
}

// ReconciliationReport is the audit row for one shadow/broker comparison.
type ReconciliationReport struct {
	ID        int64
	Time      time.Time
	Reason    string
	ShadowQty float64
	RealQty   float64
	CostBasis float64
	Market    float64
	Anchor    string
	Synced    bool
	Stale     bool
	Error     string
}

// InsertTradeLog appends rows in one transaction.
func (d *Database) InsertTradeLog(ctx context.Context, rows ...TradeLogRow) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, InsertTradeLogSQL, TradeLogArgs(r)...); err != nil {
			return fmt.Errorf("insert trade log: %w", err)
		}
	}
	return tx.Commit()
}

// ListTradeLog returns the most recent rows, newest first.
func (d *Database) ListTradeLog(ctx context.Context, limit int) ([]TradeLogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ts, symbol, action, price, qty, strategy, real_pnl, COALESCE(message, '')
		FROM trade_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeLogRow
	for rows.Next() {
		var r TradeLogRow
		if err := rows.Scan(&r.Time, &r.Symbol, &r.Action, &r.Price, &r.Qty, &r.Strategy, &r.RealPnL, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertTrade stores a round trip; duplicates by ID are ignored.
func (d *Database) InsertTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, InsertTradeSQL, TradeArgs(t)...)
	return err
}

// ListTrades returns the most recent round trips, newest first.
func (d *Database) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy, symbol, side, qty, entry_price, exit_price, entry_time, exit_time,
		       fee, gross_pnl, pnl, COALESCE(reason, '')
		FROM trades ORDER BY exit_time DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t     Trade
			entry sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Strategy, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.ExitPrice,
			&entry, &t.ExitTime, &t.Fee, &t.GrossPnL, &t.PnL, &t.Reason); err != nil {
			return nil, err
		}
		if entry.Valid {
			t.EntryTime = entry.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveStrategyState upserts a strategy snapshot.
func (d *Database) SaveStrategyState(ctx context.Context, s StrategyState) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_states (strategy_instance_id, instance_id, state_data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_instance_id) DO UPDATE SET
			instance_id = excluded.instance_id,
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, s.StrategyID, s.InstanceID, s.Data)
	return err
}

// LoadStrategyState returns ErrNotFound when no snapshot exists.
func (d *Database) LoadStrategyState(ctx context.Context, strategyID string) (*StrategyState, error) {
	var s StrategyState
	err := d.DB.QueryRowContext(ctx, `
		SELECT strategy_instance_id, instance_id, state_data, updated_at
		FROM strategy_states WHERE strategy_instance_id = ?
	`, strategyID).Scan(&s.StrategyID, &s.InstanceID, &s.Data, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteStrategyState drops a snapshot that failed its trust check.
func (d *Database) DeleteStrategyState(ctx context.Context, strategyID string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM strategy_states WHERE strategy_instance_id = ?`, strategyID)
	return err
}

// SaveOptimization stores a run and all of its result rows atomically.
func (d *Database) SaveOptimization(ctx context.Context, run OptimizationRun, results []OptimizationResult) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO optimization_runs (
			id, strategy_type, combinations, failed, in_sample_bars, out_sample_bars,
			best_key, in_sample_net, out_sample_net, overfit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StrategyType, run.Combinations, run.Failed, run.InSampleBars, run.OutSampleBars,
		run.BestKey, run.InSampleNet, run.OutSampleNet, run.Overfit); err != nil {
		return fmt.Errorf("insert optimization run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO optimization_results (
			run_id, sample, param_key, params, net_pnl, max_drawdown, reward_risk,
			trades, win_rate, avg_holding_seconds, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, run.ID, r.Sample, r.ParamKey, r.Params, r.NetPnL, r.MaxDrawdown,
			r.RewardRisk, r.Trades, r.WinRate, r.AvgHoldingSeconds, r.Error); err != nil {
			return fmt.Errorf("insert optimization result %s: %w", r.ParamKey, err)
		}
	}
	return tx.Commit()
}

// ListOptimizationRuns returns recent runs, newest first.
func (d *Database) ListOptimizationRuns(ctx context.Context, limit int) ([]OptimizationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_type, combinations, failed, in_sample_bars, out_sample_bars,
		       COALESCE(best_key, ''), in_sample_net, out_sample_net, overfit, created_at
		FROM optimization_runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OptimizationRun
	for rows.Next() {
		var r OptimizationRun
		if err := rows.Scan(&r.ID, &r.StrategyType, &r.Combinations, &r.Failed, &r.InSampleBars, &r.OutSampleBars,
			&r.BestKey, &r.InSampleNet, &r.OutSampleNet, &r.Overfit, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOptimizationResults returns a run's rows ordered by reward/risk.
func (d *Database) ListOptimizationResults(ctx context.Context, runID string) ([]OptimizationResult, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT run_id, sample, param_key, params, net_pnl, max_drawdown, reward_risk,
		       trades, win_rate, avg_holding_seconds, COALESCE(error, '')
		FROM optimization_results WHERE run_id = ?
		ORDER BY sample, reward_risk DESC, net_pnl DESC, param_key
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OptimizationResult
	for rows.Next() {
		var r OptimizationResult
		if err := rows.Scan(&r.RunID, &r.Sample, &r.ParamKey, &r.Params, &r.NetPnL, &r.MaxDrawdown, &r.RewardRisk,
			&r.Trades, &r.WinRate, &r.AvgHoldingSeconds, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveReconciliationReport appends an audit row.
func (d *Database) SaveReconciliationReport(ctx context.Context, r ReconciliationReport) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (
			ts, reason, shadow_qty, real_qty, cost_basis, market, anchor, synced, stale, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Time.UTC(), r.Reason, r.ShadowQty, r.RealQty, r.CostBasis, r.Market, r.Anchor, r.Synced, r.Stale, r.Error)
	return err
}

// ListReconciliationReports returns recent reports, newest first.
func (d *Database) ListReconciliationReports(ctx context.Context, limit int) ([]ReconciliationReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, COALESCE(reason, ''), shadow_qty, real_qty, cost_basis, market,
		       COALESCE(anchor, ''), synced, stale, COALESCE(error, '')
		FROM reconciliation_reports ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconciliationReport
	for rows.Next() {
		var r ReconciliationReport
		if err := rows.Scan(&r.ID, &r.Time, &r.Reason, &r.ShadowQty, &r.RealQty, &r.CostBasis, &r.Market,
			&r.Anchor, &r.Synced, &r.Stale, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
