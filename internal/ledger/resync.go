package ledger

import (
	"math"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/model"
)

// Anchor sources reported by Resync.
const (
	AnchorShadow  = "shadow"
	AnchorGateway = "gateway"
	AnchorMarket  = "market"
	AnchorNone    = "none"
)

// ResyncInput is the broker's view gathered by reconciliation.
type ResyncInput struct {
	Qty       float64
	CostBasis float64
	Market    float64
	Time      time.Time
}

// ResyncOutcome describes what a resync changed.
type ResyncOutcome struct {
	Before       model.Position `json:"before"`
	After        model.Position `json:"after"`
	Changed      bool           `json:"changed"`
	AnchorSource string         `json:"anchor_source"`
}

// Resync replaces the shadow position with the broker's. A position without
// a usable shadow cost borrows the broker's cost basis, else the market
// price; extrema restart from that anchor. Trade history is not touched.
func (l *Ledger) Resync(in ResyncInput) ResyncOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.pos
	out := ResyncOutcome{Before: before}

	if math.Abs(in.Qty) < qtyEpsilon {
		l.pos = model.Position{Symbol: l.cfg.Symbol}
		l.openFees = 0
		out.AnchorSource = AnchorNone
	} else {
		next := model.Position{Symbol: l.cfg.Symbol, Qty: in.Qty}
		sameSide := before.Side() == next.Side()

		switch {
		case sameSide && before.HasCost:
			next.AvgCost, next.HasCost = before.AvgCost, true
			next.EntryTime, next.High, next.Low = before.EntryTime, before.High, before.Low
			out.AnchorSource = AnchorShadow
		case in.CostBasis > 0:
			next.AvgCost, next.HasCost = in.CostBasis, true
			out.AnchorSource = AnchorGateway
		case in.Market > 0:
			next.AvgCost, next.HasCost = in.Market, true
			out.AnchorSource = AnchorMarket
		default:
			out.AnchorSource = AnchorNone
		}

		if out.AnchorSource != AnchorShadow {
			next.EntryTime = in.Time
			if next.EntryTime.IsZero() {
				next.EntryTime = l.now()
			}
			next.High, next.Low = next.AvgCost, next.AvgCost
		}
		if !sameSide {
			l.openFees = 0
		}
		l.pos = next
	}

	out.After = l.pos
	out.Changed = before.Qty != l.pos.Qty || before.AvgCost != l.pos.AvgCost || before.HasCost != l.pos.HasCost
	if out.Changed {
		l.logger.Warn("ledger: resynced to broker",
			zap.Float64("shadow_qty", before.Qty),
			zap.Float64("real_qty", l.pos.Qty),
			zap.Float64("avg_cost", l.pos.AvgCost),
			zap.String("anchor", out.AnchorSource),
		)
	}
	return out
}

// Snapshot is the persisted part of the ledger.
type Snapshot struct {
	Position model.Position `json:"position"`
	OpenFees float64        `json:"open_fees"`
}

// Snapshot captures the open position.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Position: l.pos, OpenFees: l.openFees}
}

// Restore overwrites the open position. Callers must have checked the
// snapshot against the broker first.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.Position.Symbol = l.cfg.Symbol
	if s.Position.IsFlat() {
		s.Position = model.Position{Symbol: l.cfg.Symbol}
		s.OpenFees = 0
	}
	l.pos = s.Position
	l.openFees = s.OpenFees
}
