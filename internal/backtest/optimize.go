package backtest

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-core/internal/model"
	"futures-core/internal/strategy"
	"futures-core/pkg/logging"
)

// DefaultWorkers leaves one CPU for the rest of the process.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Optimize runs every combination on bars with a bounded worker pool.
// Results arrive in completion order. A combination that errors or panics
// becomes a failed Result and does not stop the sweep. Cancelling ctx stops
// the workers and returns ctx.Err() with no results.
func Optimize(ctx context.Context, build strategy.Builder, combos []Combination, bars []model.Bar, cfg Config, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	workers = min(workers, max(1, len(combos)))
	logger := logging.OrNop(cfg.Logger).Named("optimizer")
	// per-run logs would drown the sweep
	runCfg := cfg
	runCfg.Logger = nil

	jobs := make(chan Combination)
	out := make(chan Result, workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, c := range combos {
			select {
			case jobs <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for c := range jobs {
				res := runIsolated(gctx, build, c, bars, runCfg)
				if err := gctx.Err(); err != nil {
					return err
				}
				select {
				case out <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(out)
	}()

	results := make([]Result, 0, len(combos))
	for res := range out {
		results = append(results, res)
		if res.Failed() {
			logger.Warn("optimizer: combination failed", zap.String("key", res.Key), zap.String("error", res.Error))
		}
	}
	if err := <-waitErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("optimizer: sweep finished", zap.Int("combinations", len(results)), zap.Int("workers", workers))
	return results, nil
}

// runIsolated never lets a single combination take the pool down.
func runIsolated(ctx context.Context, build strategy.Builder, c Combination, bars []model.Bar, cfg Config) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Key: c.Key, Params: c.Params, Bars: len(bars), Error: fmt.Sprintf("panic: %v", r)}
			if cfg.Logger != nil {
				cfg.Logger.Debug("optimizer: panic", zap.ByteString("stack", debug.Stack()))
			}
		}
	}()
	res, err := Run(ctx, build, c.Params, bars, cfg)
	if err != nil {
		res.Error = err.Error()
	}
	res.Key = c.Key
	// keep sweep results light; the winner is re-run for its trades
	res.Trades = nil
	return res
}
