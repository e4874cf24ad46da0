// Package backtest replays bar history through an isolated strategy, ledger
// and simulated broker, and sweeps parameter grids over it.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-core/internal/gateway"
	"futures-core/internal/ledger"
	"futures-core/internal/market"
	"futures-core/internal/model"
	"futures-core/internal/strategy"
	"futures-core/pkg/logging"
)

// SettlementReason is stamped on the final flatten at the end of the data.
const SettlementReason = "end of data"

// Config holds the contract economics shared by every run.
type Config struct {
	Symbol         string
	PointValue     float64
	FeePerContract float64
	SlippageTicks  float64
	TickSize       float64
	InitialEquity  float64
	// Speed paces the replay; 0 runs as fast as possible.
	Speed  time.Duration
	Logger *zap.Logger
}

// DefaultConfig uses the exchange defaults for the mini index future.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:         symbol,
		PointValue:     10,
		FeePerContract: 22,
		TickSize:       1,
		InitialEquity:  1_000_000,
	}
}

// Result is one run's outcome. Error is set instead of Metrics when the
// run failed.
type Result struct {
	Key     string              `json:"key"`
	Params  map[string]any      `json:"params"`
	Metrics Metrics             `json:"metrics"`
	Trades  []model.TradeRecord `json:"trades,omitempty"`
	Bars    int                 `json:"bars"`
	Error   string              `json:"error,omitempty"`
}

// Failed reports whether the run produced no metrics.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Run backtests one parameter set. Every call builds its own strategy, ledger
// and gateway so runs never share state. Any position left open after the last
// bar is flattened at its close.
func Run(ctx context.Context, build strategy.Builder, params map[string]any, bars []model.Bar, cfg Config) (Result, error) {
	res := Result{Key: ParamKey(params), Params: params, Bars: len(bars)}
	if build == nil {
		return res, errors.New("backtest: nil strategy builder")
	}
	strat, err := build(params)
	if err != nil {
		return res, fmt.Errorf("backtest: build strategy: %w", err)
	}

	logger := logging.OrNop(cfg.Logger)
	sim := gateway.NewSimulated(gateway.SimConfig{
		SlippageTicks:  cfg.SlippageTicks,
		TickSize:       cfg.TickSize,
		PointValue:     cfg.PointValue,
		FeePerContract: cfg.FeePerContract,
		InitialEquity:  cfg.InitialEquity,
	}, logger)
	led := ledger.New(ledger.Config{
		Symbol:         cfg.Symbol,
		Strategy:       strat.Name(),
		PointValue:     cfg.PointValue,
		FeePerContract: cfg.FeePerContract,
	}, sim, logger)

	replay := market.NewReplay(cfg.Speed, logger)
	err = replay.Run(ctx, bars, func(bar model.Bar) error {
		sim.SetMark(bar.Close)
		led.Mark(bar)
		sig := strat.Evaluate(bar, led.Position())
		if sig == nil {
			return nil
		}
		_, err := led.Execute(ctx, sig, bar.Close)
		// a simulated rejection is part of the run, not a failure of it
		if err != nil && !errors.Is(err, ledger.ErrRejected) {
			return err
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("backtest: %w", err)
	}

	if n := len(bars); n > 0 && !led.Position().IsFlat() {
		last := bars[n-1]
		settle := &model.Signal{
			Symbol:    last.Symbol,
			Direction: model.Flatten,
			Reason:    SettlementReason,
			Time:      last.End(),
			Strategy:  strat.Name(),
			Manual:    true,
		}
		if _, err := led.Execute(ctx, settle, last.Close); err != nil {
			return res, fmt.Errorf("backtest: settle: %w", err)
		}
	}

	res.Trades = led.Trades()
	res.Metrics = Summarize(res.Trades)
	return res, nil
}
