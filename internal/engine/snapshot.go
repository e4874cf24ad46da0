package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"futures-core/pkg/db"
)

const qtyTolerance = 1e-4

// startup warms the strategy, adopts the broker position and then decides
// whether the saved snapshot can be trusted.
func (e *Engine) startup(ctx context.Context) {
	if n := len(e.opts.WarmUp); n > 0 {
		e.strategy.WarmUp(e.opts.WarmUp)
		last := e.opts.WarmUp[n-1]
		e.lastPrice = last.Close
		e.logger.Info("engine: warm-up complete", zap.Int("bars", n), zap.Time("last", last.Start))
	}

	rep := e.resync(ctx, "startup")
	e.restoreSnapshot(ctx, rep.Stale, rep.RealQty)
}

// restoreSnapshot applies the stored snapshot only when it was written by this
// instance and its position equals the reconciled broker position.
func (e *Engine) restoreSnapshot(ctx context.Context, stale bool, realQty float64) {
	if e.store == nil {
		return
	}
	id := e.strategy.ID()
	row, err := e.store.LoadStrategyState(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("engine: no snapshot, starting fresh", zap.String("strategy", id))
		return
	}
	if err != nil {
		e.logger.Error("engine: load snapshot failed", zap.Error(err))
		return
	}

	var snap snapshot
	reason := ""
	switch {
	case json.Unmarshal([]byte(row.Data), &snap) != nil:
		reason = "unreadable snapshot"
	case snap.InstanceID != e.opts.InstanceID || row.InstanceID != e.opts.InstanceID:
		reason = "snapshot written by another instance"
	case stale && e.recon != nil:
		reason = "broker position unknown"
	case math.Abs(snap.Ledger.Position.Qty-realQty) > qtyTolerance:
		reason = "snapshot position differs from broker"
	}
	if reason == "" {
		if err := e.strategy.RestoreState(snap.Strategy); err != nil {
			reason = "strategy rejected snapshot: " + err.Error()
		}
	}
	if reason != "" {
		e.logger.Warn("engine: snapshot discarded",
			zap.String("strategy", id),
			zap.String("reason", reason),
			zap.Float64("snapshot_qty", snap.Ledger.Position.Qty),
			zap.Float64("real_qty", realQty))
		if err := e.store.DeleteStrategyState(ctx, id); err != nil {
			e.logger.Error("engine: delete snapshot failed", zap.Error(err))
		}
		return
	}

	e.ledger.Restore(snap.Ledger)
	e.updateLedgerMetrics()
	e.logger.Info("engine: snapshot restored",
		zap.String("strategy", id),
		zap.Float64("qty", snap.Ledger.Position.Qty),
		zap.Time("saved_at", snap.SavedAt))
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.store == nil {
		return
	}
	state, err := e.strategy.SnapshotState()
	if err != nil {
		e.logger.Error("engine: strategy snapshot failed", zap.Error(err))
		return
	}
	snap := snapshot{
		InstanceID: e.opts.InstanceID,
		Strategy:   state,
		Ledger:     e.ledger.Snapshot(),
		SavedAt:    time.Now(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.Error("engine: encode snapshot failed", zap.Error(err))
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = e.store.SaveStrategyState(saveCtx, db.StrategyState{
		StrategyID: e.strategy.ID(),
		InstanceID: e.opts.InstanceID,
		Data:       string(data),
	})
	if err != nil {
		e.logger.Error("engine: save snapshot failed", zap.Error(err))
		return
	}
	e.logger.Info("engine: snapshot saved", zap.String("strategy", e.strategy.ID()), zap.Float64("qty", snap.Ledger.Position.Qty))
}
