package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"futures-core/internal/model"
	"futures-core/internal/strategy"
	"futures-core/pkg/db"
)

// DefaultInSample is the chronological share of bars used for optimization.
const DefaultInSample = 0.7

// ErrNoViable is returned when every in-sample combination failed.
var ErrNoViable = errors.New("backtest: no viable combination")

// Split cuts bars chronologically; fraction outside (0, 1) uses DefaultInSample.
func Split(bars []model.Bar, fraction float64) (inSample, outSample []model.Bar) {
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultInSample
	}
	cut := int(float64(len(bars)) * fraction)
	return bars[:cut], bars[cut:]
}

// Rank orders results best first: reward/risk, then net P&L, then trade
// count, then parameter key. Failed runs and runs without trades go last.
func Rank(results []Result) []Result {
	ranked := append([]Result(nil), results...)
	tier := func(r Result) int {
		switch {
		case r.Failed():
			return 2
		case r.Metrics.Trades == 0:
			return 1
		default:
			return 0
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ta, tb := tier(a), tier(b); ta != tb {
			return ta < tb
		}
		if a.Metrics.RewardRisk != b.Metrics.RewardRisk {
			return a.Metrics.RewardRisk > b.Metrics.RewardRisk
		}
		if a.Metrics.NetPnL != b.Metrics.NetPnL {
			return a.Metrics.NetPnL > b.Metrics.NetPnL
		}
		if a.Metrics.Trades != b.Metrics.Trades {
			return a.Metrics.Trades > b.Metrics.Trades
		}
		return a.Key < b.Key
	})
	return ranked
}

// Best returns the top-ranked successful result.
func Best(results []Result) (Result, bool) {
	ranked := Rank(results)
	if len(ranked) == 0 || ranked[0].Failed() {
		return Result{}, false
	}
	return ranked[0], true
}

// Validation is an in-sample sweep plus one out-of-sample check of its winner.
type Validation struct {
	InSample    []Result `json:"in_sample"`
	Best        Result   `json:"best"`
	OutOfSample Result   `json:"out_of_sample"`
	Overfit     bool     `json:"overfit"`
	ISBars      int      `json:"is_bars"`
	OOSBars     int      `json:"oos_bars"`
}

// Validate optimizes on the in-sample share only, then re-runs the best
// combination once on the remainder. The result is flagged as overfit when it
// made money in sample and none out of sample.
func Validate(ctx context.Context, build strategy.Builder, combos []Combination, bars []model.Bar, fraction float64, cfg Config, workers int) (Validation, error) {
	is, oos := Split(bars, fraction)
	v := Validation{ISBars: len(is), OOSBars: len(oos)}

	results, err := Optimize(ctx, build, combos, is, cfg, workers)
	if err != nil {
		return v, err
	}
	v.InSample = results

	best, ok := Best(results)
	if !ok {
		return v, ErrNoViable
	}
	// re-run the winner in sample for its trade list
	if full, err := Run(ctx, build, best.Params, is, cfg); err == nil {
		best = full
	}
	v.Best = best

	out, err := Run(ctx, build, best.Params, oos, cfg)
	if err != nil {
		return v, fmt.Errorf("backtest: out-of-sample run: %w", err)
	}
	v.OutOfSample = out
	v.Overfit = best.Metrics.NetPnL > 0 && out.Metrics.NetPnL <= 0
	return v, nil
}

// OptimizationStore persists sweeps.
type OptimizationStore interface {
	SaveOptimization(ctx context.Context, run db.OptimizationRun, results []db.OptimizationResult) error
}

// Save writes v as one run with a result row per combination plus the
// out-of-sample row, and returns the run id.
func Save(ctx context.Context, store OptimizationStore, strategyType string, v Validation) (string, error) {
	id := uuid.NewString()
	run := db.OptimizationRun{
		ID:            id,
		StrategyType:  strategyType,
		Combinations:  len(v.InSample),
		InSampleBars:  v.ISBars,
		OutSampleBars: v.OOSBars,
		BestKey:       v.Best.Key,
		InSampleNet:   v.Best.Metrics.NetPnL,
		OutSampleNet:  v.OutOfSample.Metrics.NetPnL,
		Overfit:       v.Overfit,
		CreatedAt:     time.Now(),
	}
	rows := make([]db.OptimizationResult, 0, len(v.InSample)+1)
	for _, r := range v.InSample {
		if r.Failed() {
			run.Failed++
		}
		rows = append(rows, resultRow(id, "in_sample", r))
	}
	rows = append(rows, resultRow(id, "out_of_sample", v.OutOfSample))

	if err := store.SaveOptimization(ctx, run, rows); err != nil {
		return "", fmt.Errorf("backtest: save optimization: %w", err)
	}
	return id, nil
}

func resultRow(runID, sample string, r Result) db.OptimizationResult {
	params, _ := json.Marshal(r.Params)
	rr := r.Metrics.RewardRisk
	if math.IsInf(rr, 0) {
		// stored as the largest finite value
		rr = math.MaxFloat64
	}
	return db.OptimizationResult{
		RunID:             runID,
		Sample:            sample,
		ParamKey:          r.Key,
		Params:            string(params),
		NetPnL:            r.Metrics.NetPnL,
		MaxDrawdown:       r.Metrics.MaxDrawdown,
		RewardRisk:        rr,
		Trades:            r.Metrics.Trades,
		WinRate:           r.Metrics.WinRate,
		AvgHoldingSeconds: r.Metrics.AvgHolding.Seconds(),
		Error:             r.Error,
	}
}
