// Package ledger is the shadow ledger: the engine's own record of position,
// cost basis and realized P&L, mutated only by confirmed gateway fills or an
// explicit resync.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-core/internal/gateway"
	"futures-core/internal/model"
)

const qtyEpsilon = 1e-9

// ErrRejected matches any order the gateway refused.
var ErrRejected = errors.New("ledger: order rejected")

// RejectedError carries the gateway's rejection message.
type RejectedError struct {
	Leg     Action
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger: %s leg rejected: %s", e.Leg, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Action describes what Execute did.
type Action string

const (
	ActionNone    Action = "NOOP"
	ActionIgnored Action = "IGNORED"
	ActionOpen    Action = "OPEN"
	ActionAdd     Action = "ADD"
	ActionClose   Action = "CLOSE"
	ActionReverse Action = "REVERSE"
)

// Leg is one confirmed fill.
type Leg struct {
	Action    Action          `json:"action"`
	Direction model.Direction `json:"direction"`
	Qty       float64         `json:"qty"`
	Price     float64         `json:"price"`
	Fee       float64         `json:"fee"`
}

// TradeResult reports the outcome of one signal.
type TradeResult struct {
	Action   Action             `json:"action"`
	Signal   model.Signal       `json:"signal"`
	Legs     []Leg              `json:"legs,omitempty"`
	Trade    *model.TradeRecord `json:"trade,omitempty"`
	Position model.Position     `json:"position"`
	Reason   string             `json:"reason,omitempty"`
}

// RealizedPnL is the net P&L booked by this result, zero when nothing closed.
func (r TradeResult) RealizedPnL() float64 {
	if r.Trade == nil {
		return 0
	}
	return r.Trade.PnL
}

// Config sizes contract economics.
type Config struct {
	Symbol         string
	Strategy       string
	PointValue     float64
	FeePerContract float64
}

// Stats are session counters. Wins and losses count only round trips whose
// gross P&L is nonzero.
type Stats struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fees        float64 `json:"fees"`
}

// Ledger is safe for concurrent readers; Execute, Mark, Resync and Restore
// must come from a single writer.
type Ledger struct {
	cfg    Config
	gw     gateway.Gateway
	logger *zap.Logger
	now    func() time.Time

	mu sync.RWMutex
	// entry fees charged on the open position, attributed to the round trip on close
	openFees float64
	pos      model.Position
	trades   []model.TradeRecord
	stats    Stats
}

// New creates a flat ledger bound to gw.
func New(cfg Config, gw gateway.Gateway, logger *zap.Logger) *Ledger {
	if cfg.PointValue <= 0 {
		cfg.PointValue = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:    cfg,
		gw:     gw,
		logger: logger.With(zap.String("component", "ledger"), zap.String("symbol", cfg.Symbol)),
		now:    time.Now,
		pos:    model.Position{Symbol: cfg.Symbol},
	}
}

// Config returns the ledger's contract economics.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Position returns a copy of the current position.
func (l *Ledger) Position() model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pos
}

// Trades returns a copy of the realized round trips.
func (l *Ledger) Trades() []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Stats returns the session counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Mark widens the position extrema with bar's range.
func (l *Ledger) Mark(bar model.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos.IsFlat() {
		return
	}
	l.pos.High = math.Max(l.pos.High, bar.High)
	l.pos.Low = math.Min(l.pos.Low, bar.Low)
}

// Execute applies sig at refPrice. A nil signal is a no-op. A gateway error or
// rejection leaves the ledger as it was before the failed leg.
func (l *Ledger) Execute(ctx context.Context, sig *model.Signal, refPrice float64) (TradeResult, error) {
	if sig == nil {
		return TradeResult{Action: ActionNone, Position: l.Position()}, nil
	}
	res := TradeResult{Signal: *sig}
	pos := l.Position()

	if l.cfg.Symbol != "" && sig.Symbol != "" && sig.Symbol != l.cfg.Symbol {
		return l.ignored(res, fmt.Sprintf("symbol %s not traded by this ledger", sig.Symbol)), nil
	}
	qty := sig.Qty
	if qty <= 0 {
		qty = 1
	}

	switch sig.Direction {
	case model.Flatten:
		if pos.IsFlat() {
			res.Action = ActionNone
			res.Reason = "already flat"
			res.Position = pos
			return res, nil
		}
		res.Action = ActionClose
		return l.close(ctx, res, sig, refPrice)

	case model.Long, model.Short:
		side := pos.Side()
		switch {
		case side == model.None:
			res.Action = ActionOpen
			return l.open(ctx, res, sig, qty, refPrice, ActionOpen)
		case side == sig.Direction:
			if !sig.Manual {
				return l.ignored(res, fmt.Sprintf("already %s; adding requires a manual signal", side)), nil
			}
			res.Action = ActionAdd
			return l.open(ctx, res, sig, qty, refPrice, ActionAdd)
		default:
			// close confirmed first; a rejected open leg leaves the book flat
			res.Action = ActionReverse
			closed, err := l.close(ctx, res, sig, refPrice)
			if err != nil {
				return closed, err
			}
			return l.open(ctx, closed, sig, qty, refPrice, ActionOpen)
		}

	default:
		return l.ignored(res, fmt.Sprintf("unsupported direction %s", sig.Direction)), nil
	}
}

func (l *Ledger) ignored(res TradeResult, reason string) TradeResult {
	res.Action = ActionIgnored
	res.Reason = reason
	res.Position = l.Position()
	l.logger.Info("ledger: signal ignored", zap.String("reason", reason), zap.String("strategy", res.Signal.Strategy))
	return res
}

func (l *Ledger) submit(ctx context.Context, leg Action, dir model.Direction, qty, ref float64) (gateway.Fill, error) {
	fill, err := l.gw.Submit(ctx, dir, qty, ref)
	if err != nil {
		return fill, fmt.Errorf("ledger: submit %s %s %.0f: %w", leg, dir, qty, err)
	}
	if !fill.Accepted {
		return fill, &RejectedError{Leg: leg, Message: fill.Message}
	}
	return fill, nil
}

func (l *Ledger) close(ctx context.Context, res TradeResult, sig *model.Signal, ref float64) (TradeResult, error) {
	pos := l.Position()
	side := pos.Side()
	qty := pos.Size()

	fill, err := l.submit(ctx, ActionClose, side.Opposite(), qty, ref)
	if err != nil {
		res.Position = pos
		l.logger.Warn("ledger: close failed", zap.Error(err))
		return res, err
	}

	fee := l.cfg.FeePerContract * qty
	exitTime := l.stamp(sig)

	l.mu.Lock()
	gross := 0.0
	if l.pos.HasCost {
		gross = (fill.Price - l.pos.AvgCost) * qty * side.Sign() * l.cfg.PointValue
	}
	totalFee := l.openFees + fee
	rec := model.TradeRecord{
		ID:         uuid.NewString(),
		Strategy:   l.strategyName(sig),
		Symbol:     l.pos.Symbol,
		Direction:  side,
		Qty:        qty,
		EntryPrice: l.pos.AvgCost,
		ExitPrice:  fill.Price,
		EntryTime:  l.pos.EntryTime,
		ExitTime:   exitTime,
		Fee:        totalFee,
		GrossPnL:   gross,
		PnL:        gross - totalFee,
		Reason:     sig.Reason,
	}
	l.trades = append(l.trades, rec)
	l.stats.Trades++
	switch {
	case gross > 0:
		l.stats.Wins++
	case gross < 0:
		l.stats.Losses++
	}
	l.stats.RealizedPnL += rec.PnL
	l.stats.Fees += fee
	l.openFees = 0
	l.pos = model.Position{Symbol: l.cfg.Symbol}
	res.Position = l.pos
	l.mu.Unlock()

	res.Legs = append(res.Legs, Leg{Action: ActionClose, Direction: side.Opposite(), Qty: qty, Price: fill.Price, Fee: fee})
	res.Trade = &rec
	l.logger.Info("ledger: position closed",
		zap.String("side", side.String()),
		zap.Float64("qty", qty),
		zap.Float64("entry", rec.EntryPrice),
		zap.Float64("exit", rec.ExitPrice),
		zap.Float64("pnl", rec.PnL),
		zap.String("reason", sig.Reason),
	)
	return res, nil
}

func (l *Ledger) open(ctx context.Context, res TradeResult, sig *model.Signal, qty, ref float64, leg Action) (TradeResult, error) {
	fill, err := l.submit(ctx, leg, sig.Direction, qty, ref)
	if err != nil {
		res.Position = l.Position()
		l.logger.Warn("ledger: open failed", zap.String("leg", string(leg)), zap.Error(err))
		return res, err
	}

	fee := l.cfg.FeePerContract * qty

	l.mu.Lock()
	if l.pos.IsFlat() {
		l.pos = model.Position{
			Symbol:    l.cfg.Symbol,
			Qty:       sig.Direction.Sign() * qty,
			AvgCost:   fill.Price,
			HasCost:   true,
			EntryTime: l.stamp(sig),
			High:      fill.Price,
			Low:       fill.Price,
		}
	} else {
		oldQty := l.pos.Size()
		if l.pos.HasCost {
			l.pos.AvgCost = (oldQty*l.pos.AvgCost + qty*fill.Price) / (oldQty + qty)
		} else {
			l.pos.AvgCost = fill.Price
			l.pos.HasCost = true
		}
		l.pos.Qty += sig.Direction.Sign() * qty
		l.pos.High = math.Max(l.pos.High, fill.Price)
		l.pos.Low = math.Min(l.pos.Low, fill.Price)
	}
	l.openFees += fee
	l.stats.Fees += fee
	res.Position = l.pos
	l.mu.Unlock()

	res.Legs = append(res.Legs, Leg{Action: leg, Direction: sig.Direction, Qty: qty, Price: fill.Price, Fee: fee})
	l.logger.Info("ledger: position opened",
		zap.String("leg", string(leg)),
		zap.String("side", sig.Direction.String()),
		zap.Float64("qty", qty),
		zap.Float64("price", fill.Price),
		zap.Float64("position", res.Position.Qty),
		zap.Float64("avg_cost", res.Position.AvgCost),
	)
	return res, nil
}

func (l *Ledger) stamp(sig *model.Signal) time.Time {
	if !sig.Time.IsZero() {
		return sig.Time
	}
	return l.now()
}

func (l *Ledger) strategyName(sig *model.Signal) string {
	if sig.Strategy != "" {
		return sig.Strategy
	}
	return l.cfg.Strategy
}
