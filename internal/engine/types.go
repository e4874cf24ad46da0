// Package engine runs the live trading loop. One goroutine owns the bar
// aggregator, the strategy and the ledger; everything else talks to it through
// its inbox.
package engine

import (
	"context"
	"errors"
	"time"

	"futures-core/internal/indicators"
	"futures-core/internal/ledger"
	"futures-core/internal/model"
	"futures-core/internal/reconciliation"
	"futures-core/internal/strategy"
	"futures-core/pkg/db"
)

var (
	// ErrStopped is returned by commands sent after the loop has exited.
	ErrStopped = errors.New("engine: stopped")
	// ErrNoMarketPrice is returned when an order needs a reference price and
	// no bar or tick has been seen yet.
	ErrNoMarketPrice = errors.New("engine: no market price yet")
)

// StateStore persists strategy snapshots between runs.
type StateStore interface {
	SaveStrategyState(ctx context.Context, s db.StrategyState) error
	LoadStrategyState(ctx context.Context, strategyID string) (*db.StrategyState, error)
	DeleteStrategyState(ctx context.Context, strategyID string) error
}

// Status is a point-in-time view of the loop, safe to hand to any goroutine.
type Status struct {
	InstanceID   string                 `json:"instance_id"`
	StrategyID   string                 `json:"strategy_id"`
	Strategy     string                 `json:"strategy"`
	Symbol       string                 `json:"symbol"`
	Interval     string                 `json:"interval"`
	Running      bool                   `json:"running"`
	AutoTrading  bool                   `json:"auto_trading"`
	Position     model.Position         `json:"position"`
	Stats        ledger.Stats           `json:"stats"`
	LastPrice    float64                `json:"last_price"`
	LastBar      *model.Bar             `json:"last_bar,omitempty"`
	Indicators   *indicators.Values     `json:"indicators,omitempty"`
	LastResync   *reconciliation.Report `json:"last_resync,omitempty"`
	LastSignal   *model.Signal          `json:"last_signal,omitempty"`
	DroppedTicks uint64                 `json:"dropped_ticks"`
	StartedAt    time.Time              `json:"started_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Balance is the broker's account view. Stale is set when the broker did not
// answer in time and the numbers come from the shadow ledger.
type Balance struct {
	Equity      float64   `json:"equity"`
	Position    float64   `json:"position"`
	ShadowQty   float64   `json:"shadow_qty"`
	RealizedPnL float64   `json:"realized_pnl"`
	Stale       bool      `json:"stale"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Options configures a live engine.
type Options struct {
	Symbol         string
	Interval       time.Duration
	InstanceID     string
	AutoTrading    bool
	GatewayTimeout time.Duration
	InboxSize      int
	// WarmUp is replayed through the strategy before the first resync.
	WarmUp []model.Bar
}

// snapshot is what the engine writes to the StateStore on shutdown.
type snapshot struct {
	InstanceID string          `json:"instance_id"`
	Strategy   strategy.State  `json:"strategy"`
	Ledger     ledger.Snapshot `json:"ledger"`
	SavedAt    time.Time       `json:"saved_at"`
}

type cmdKind int

const (
	cmdAutoTrading cmdKind = iota + 1
	cmdFlatten
	cmdSync
)

type command struct {
	kind    cmdKind
	enabled bool
	reason  string
	reply   chan reply
}

type reply struct {
	trade  ledger.TradeResult
	report reconciliation.Report
	err    error
}

// envelope is one inbox message: exactly one of event or cmd is set.
type envelope struct {
	event model.Event
	cmd   *command
}
