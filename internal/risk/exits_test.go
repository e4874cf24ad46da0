package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/model"
)

func bar(o, h, l, c, v float64) model.Bar {
	return model.Bar{Symbol: "MXF", Interval: time.Minute, Start: time.Unix(0, 0), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func long(entry, high, low float64) model.Position {
	return model.Position{Symbol: "MXF", Qty: 1, AvgCost: entry, HasCost: true, High: high, Low: low}
}

func short(entry, high, low float64) model.Position {
	return model.Position{Symbol: "MXF", Qty: -1, AvgCost: entry, HasCost: true, High: high, Low: low}
}

func warm(g *ExitGuard, n int, vol float64) {
	for i := 0; i < n; i++ {
		g.Observe(bar(100, 100, 100, 100, vol))
	}
}

func TestExitGuardFlatPositionNeverExits(t *testing.T) {
	g := NewExitGuard(DefaultExitConfig())
	warm(g, 20, 10)
	assert.Nil(t, g.Evaluate(bar(20000, 20000, 19000, 19000, 1000), model.Position{}))
}

func TestCircuitBreaker(t *testing.T) {
	cfg := DefaultExitConfig()

	tests := []struct {
		name    string
		samples int
		bar     model.Bar
		pos     model.Position
		fire    bool
	}{
		{"long crash on volume", 19, bar(20000, 20000, 19900, 19940, 100), long(20000, 20000, 19900), true},
		{"short squeeze on volume", 19, bar(20000, 20070, 20000, 20060, 100), short(20000, 20070, 20000), true},
		{"crash without volume", 19, bar(20000, 20000, 19900, 19940, 20), long(20000, 20000, 19900), false},
		{"volume without move", 19, bar(20000, 20010, 19990, 19990, 100), long(20000, 20010, 19990), false},
		{"not enough history", 5, bar(20000, 20000, 19900, 19940, 100), long(20000, 20000, 19900), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewExitGuard(cfg)
			warm(g, tt.samples, 10)
			d := g.Evaluate(tt.bar, tt.pos)
			if !tt.fire {
				if d != nil {
					assert.NotEqual(t, RuleCircuitBreaker, d.Rule)
				}
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, RuleCircuitBreaker, d.Rule)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestBreakerPreemptsHardStop(t *testing.T) {
	g := NewExitGuard(DefaultExitConfig())
	warm(g, 19, 10)
	d := g.Evaluate(bar(19300, 19300, 19100, 19100, 500), long(20000, 20000, 19100))
	require.NotNil(t, d)
	assert.Equal(t, RuleCircuitBreaker, d.Rule)
}

func TestHardStop(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Breaker = false
	g := NewExitGuard(cfg)

	assert.Nil(t, g.Evaluate(bar(19300, 19300, 19201, 19201, 1), long(20000, 20000, 19201)))
	d := g.Evaluate(bar(19300, 19300, 19200, 19200, 1), long(20000, 20000, 19200))
	require.NotNil(t, d)
	assert.Equal(t, RuleHardStop, d.Rule)

	d = g.Evaluate(bar(20700, 20800, 20700, 20800, 1), short(20000, 20800, 20000))
	require.NotNil(t, d)
	assert.Equal(t, RuleHardStop, d.Rule)
}

func TestTrailingStop(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Breaker = false
	g := NewExitGuard(cfg)

	// profit never reached the trigger: no trailing exit even on a deep pullback
	assert.Nil(t, g.Evaluate(bar(20100, 20100, 19900, 19900, 1), long(20000, 20299, 19900)))

	// best 20400 (trigger met), close 20150 retraced only 250
	assert.Nil(t, g.Evaluate(bar(20200, 20200, 20150, 20150, 1), long(20000, 20400, 19990)))

	d := g.Evaluate(bar(20150, 20150, 20100, 20100, 1), long(20000, 20400, 19990))
	require.NotNil(t, d)
	assert.Equal(t, RuleTrailingStop, d.Rule)

	d = g.Evaluate(bar(19650, 19700, 19650, 19700, 1), short(20000, 20010, 19400))
	require.NotNil(t, d)
	assert.Equal(t, RuleTrailingStop, d.Rule)
}

func TestExitsNeedCostBasis(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.Breaker = false
	g := NewExitGuard(cfg)
	pos := long(20000, 20000, 10000)
	pos.HasCost = false
	assert.Nil(t, g.Evaluate(bar(10000, 10000, 10000, 10000, 1), pos))
}
