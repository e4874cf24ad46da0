package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/model"
	"futures-core/internal/strategy"
	"futures-core/pkg/db"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func bars(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			Symbol:   "MXF",
			Interval: time.Minute,
			Start:    base.Add(time.Duration(i) * time.Minute),
			Open:     c, High: c, Low: c, Close: c,
			Volume: 1,
		}
	}
	return out
}

// threshold goes long at or above enter and flattens at or below exit.
type threshold struct {
	enter, exit float64
}

func (threshold) ID() string                             { return "threshold" }
func (threshold) Name() string                           { return "threshold" }
func (threshold) WarmUp([]model.Bar)                     {}
func (threshold) SnapshotState() (strategy.State, error) { return nil, nil }
func (threshold) RestoreState(strategy.State) error      { return nil }

func (s threshold) Evaluate(bar model.Bar, pos model.Position) *model.Signal {
	sig := &model.Signal{Symbol: bar.Symbol, Qty: 1, Time: bar.End(), Strategy: "threshold"}
	switch {
	case pos.IsFlat() && bar.Close >= s.enter:
		sig.Direction, sig.Reason = model.Long, "enter"
	case pos.Side() == model.Long && bar.Close <= s.exit:
		sig.Direction, sig.Reason = model.Flatten, "exit"
	default:
		return nil
	}
	return sig
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	panic(fmt.Sprintf("unexpected %T", v))
}

func build(params map[string]any) (strategy.Strategy, error) {
	return threshold{enter: toFloat(params["enter"]), exit: toFloat(params["exit"])}, nil
}

func testConfig() Config {
	return DefaultConfig("MXF")
}

func TestRunRoundTrips(t *testing.T) {
	res, err := Run(context.Background(), build, map[string]any{"enter": 110, "exit": 100},
		bars(100, 110, 120, 105, 95, 130, 90), testConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.InDelta(t, -194.0, res.Trades[0].PnL, 1e-9)
	assert.InDelta(t, -444.0, res.Trades[1].PnL, 1e-9)

	m := res.Metrics
	assert.Equal(t, 2, m.Trades)
	assert.InDelta(t, -638.0, m.NetPnL, 1e-9)
	assert.InDelta(t, 638.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, -1.0, m.RewardRisk, 1e-9)
	assert.Equal(t, 0, m.Wins)
	assert.Equal(t, 2, m.Losses)
	assert.Equal(t, "enter=110,exit=100", res.Key)
}

func TestRunSettlesAtEndOfData(t *testing.T) {
	res, err := Run(context.Background(), build, map[string]any{"enter": 110, "exit": 50},
		bars(100, 110, 120, 105, 95, 130, 90), testConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, SettlementReason, tr.Reason)
	assert.Equal(t, 90.0, tr.ExitPrice)
	assert.InDelta(t, -244.0, tr.PnL, 1e-9)
	assert.Equal(t, 5*time.Minute, tr.Holding())
	assert.Equal(t, 5*time.Minute, res.Metrics.AvgHolding)
}

func TestRewardRiskWithoutDrawdown(t *testing.T) {
	res, err := Run(context.Background(), build, map[string]any{"enter": 110, "exit": 50}, bars(100, 120, 130), testConfig())
	require.NoError(t, err)
	assert.InDelta(t, 56.0, res.Metrics.NetPnL, 1e-9)
	assert.Zero(t, res.Metrics.MaxDrawdown)
	assert.True(t, math.IsInf(res.Metrics.RewardRisk, 1))
	assert.Equal(t, 1.0, res.Metrics.WinRate)
}

func TestRunBuilderError(t *testing.T) {
	failing := func(map[string]any) (strategy.Strategy, error) { return nil, errors.New("bad params") }
	_, err := Run(context.Background(), failing, nil, bars(100), testConfig())
	assert.ErrorContains(t, err, "bad params")
}

func TestSummarizeEmpty(t *testing.T) {
	m := Summarize(nil)
	assert.Zero(t, m.Trades)
	assert.Zero(t, m.WinRate)
	assert.True(t, math.IsInf(m.RewardRisk, 1))
}

func TestGridExpand(t *testing.T) {
	g := Grid{"exit": {90, 100, 95}, "enter": {105, 110, 115}}
	combos, err := g.Expand()
	require.NoError(t, err)
	require.Len(t, combos, 9)
	assert.Equal(t, 9, g.Size())
	assert.Equal(t, "enter=105,exit=90", combos[0].Key)
	assert.Equal(t, "enter=105,exit=100", combos[1].Key)
	assert.Equal(t, "enter=115,exit=95", combos[8].Key)

	again, err := g.Expand()
	require.NoError(t, err)
	assert.Equal(t, combos, again)

	_, err = Grid{"enter": {}}.Expand()
	assert.Error(t, err)
}

func TestParseGrid(t *testing.T) {
	f, err := ParseGrid([]byte(`
strategy:
  type: wave
  symbol: MXF
  parameters:
    bucket_minutes: 60
parameters:
  fast_window: [10, 15]
  threshold: [50, 100, 150]
in_sample: 0.7
`))
	require.NoError(t, err)
	assert.Equal(t, "wave", f.Strategy.ID)
	assert.Equal(t, 6, f.Parameters.Size())
	assert.Equal(t, 0.7, f.InSample)

	_, err = ParseGrid([]byte("parameters: {}\nin_sample: 2\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "strategy.type")
	assert.ErrorContains(t, err, "in_sample")

	_, err = ParseGrid([]byte(`
strategy:
  type: wave
parameters:
  fast_windw: [10, 15]
`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "fast_windw")
}

func sweepGrid(t *testing.T) []Combination {
	t.Helper()
	combos, err := Grid{"enter": {105, 110, 115}, "exit": {90, 100, 95}}.Expand()
	require.NoError(t, err)
	return combos
}

func byKey(results []Result) []Result {
	out := append([]Result(nil), results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func TestOptimizeMatchesSequentialRuns(t *testing.T) {
	ctx := context.Background()
	data := bars(100, 110, 120, 105, 95, 130, 90, 116, 112, 99)
	combos := sweepGrid(t)

	results, err := Optimize(ctx, build, combos, data, testConfig(), 3)
	require.NoError(t, err)
	require.Len(t, results, 9)

	got := byKey(results)
	for i, c := range combos {
		want, err := Run(ctx, build, c.Params, data, testConfig())
		require.NoError(t, err)
		assert.Equal(t, c.Key, got[i].Key)
		assert.Equal(t, want.Metrics, got[i].Metrics, c.Key)
		assert.Nil(t, got[i].Trades)
	}

	again, err := Optimize(ctx, build, combos, data, testConfig(), 2)
	require.NoError(t, err)
	assert.Equal(t, Rank(results)[0].Key, Rank(again)[0].Key)
}

func TestOptimizeIsolatesFailures(t *testing.T) {
	flaky := func(params map[string]any) (strategy.Strategy, error) {
		switch toFloat(params["enter"]) {
		case 110:
			panic("boom")
		case 115:
			return nil, errors.New("rejected params")
		}
		return build(params)
	}
	results, err := Optimize(context.Background(), flaky, sweepGrid(t), bars(100, 110, 120), testConfig(), 4)
	require.NoError(t, err)
	require.Len(t, results, 9)

	var panics, errs, ok int
	for _, r := range results {
		switch {
		case !r.Failed():
			ok++
		case r.Error == "panic: boom":
			panics++
		default:
			assert.Contains(t, r.Error, "rejected params")
			errs++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, panics)
	assert.Equal(t, 3, errs)

	best, found := Best(results)
	require.True(t, found)
	assert.False(t, best.Failed())
}

func TestOptimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Optimize(ctx, build, sweepGrid(t), bars(100, 110, 120), testConfig(), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}

func TestRank(t *testing.T) {
	results := []Result{
		{Key: "failed", Error: "x"},
		{Key: "idle", Metrics: Metrics{RewardRisk: math.Inf(1)}},
		{Key: "b", Metrics: Metrics{RewardRisk: 2, NetPnL: 100, Trades: 3}},
		{Key: "a", Metrics: Metrics{RewardRisk: 2, NetPnL: 100, Trades: 3}},
		{Key: "c", Metrics: Metrics{RewardRisk: 2, NetPnL: 100, Trades: 5}},
		{Key: "d", Metrics: Metrics{RewardRisk: 2, NetPnL: 150, Trades: 1}},
		{Key: "e", Metrics: Metrics{RewardRisk: math.Inf(1), NetPnL: 10, Trades: 1}},
	}
	var keys []string
	for _, r := range Rank(results) {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"e", "d", "c", "a", "b", "idle", "failed"}, keys)

	_, ok := Best([]Result{{Key: "x", Error: "fail"}})
	assert.False(t, ok)
}

func TestSplit(t *testing.T) {
	is, oos := Split(bars(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), 0)
	assert.Len(t, is, 7)
	assert.Len(t, oos, 3)
	assert.Equal(t, 8.0, oos[0].Close)
}

func TestValidateFlagsOverfit(t *testing.T) {
	ctx := context.Background()
	combos, err := Grid{"enter": {110}, "exit": {50}}.Expand()
	require.NoError(t, err)

	v, err := Validate(ctx, build, combos, bars(100, 120, 130, 135, 140, 100), 0.5, testConfig(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v.ISBars)
	assert.Equal(t, 3, v.OOSBars)
	assert.InDelta(t, 56.0, v.Best.Metrics.NetPnL, 1e-9)
	assert.Len(t, v.Best.Trades, 1)
	assert.InDelta(t, -394.0, v.OutOfSample.Metrics.NetPnL, 1e-9)
	assert.True(t, v.Overfit)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	id, err := Save(ctx, database, "threshold", v)
	require.NoError(t, err)
	runs, err := database.ListOptimizationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Overfit)
	assert.Equal(t, "enter=110,exit=50", runs[0].BestKey)

	rows, err := database.ListOptimizationResults(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestValidateNoViable(t *testing.T) {
	failing := func(map[string]any) (strategy.Strategy, error) { return nil, errors.New("nope") }
	combos, err := Grid{"enter": {1}}.Expand()
	require.NoError(t, err)
	_, err = Validate(context.Background(), failing, combos, bars(1, 2, 3), 0.7, testConfig(), 1)
	assert.ErrorIs(t, err, ErrNoViable)
}
