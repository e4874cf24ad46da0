package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-core/internal/indicators"
	"futures-core/internal/model"
)

var base = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

// series builds one-minute bars whose closes walk by step from start.
func series(from int, n int, start, step float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = model.Bar{
			Symbol:   "MXF",
			Interval: time.Minute,
			Start:    base.Add(time.Duration(from+i) * time.Minute),
			Open:     c - step/2,
			High:     max(c, c-step/2) + 1,
			Low:      min(c, c-step/2) - 1,
			Close:    c,
			Volume:   10,
		}
	}
	return bars
}

func fastParams() WaveParams {
	p := DefaultWaveParams()
	p.BucketMinutes = 1
	p.FastWindow = 2
	p.SlowLong = 4
	p.SlowShort = 4
	p.Threshold = 1
	return p
}

func collect(t *testing.T, s Strategy, bars []model.Bar) []*model.Signal {
	t.Helper()
	var out []*model.Signal
	for _, b := range bars {
		if sig := s.Evaluate(b, model.Position{Symbol: "MXF"}); sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func TestWaveOneEntryPerWave(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)

	sigs := collect(t, w, series(0, 20, 1000, 10))
	require.Len(t, sigs, 1)
	assert.Equal(t, model.Long, sigs[0].Direction)
	assert.Equal(t, "w1", sigs[0].Strategy)
	assert.Equal(t, 1.0, sigs[0].Qty)
	assert.NotEmpty(t, sigs[0].Reason)
	assert.Equal(t, 1, w.Lock())
}

func TestWaveNoSignalDuringWarmUp(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)

	// four closed buckets are needed; the fourth bar only closes the third
	assert.Empty(t, collect(t, w, series(0, 4, 1000, 10)))
	assert.False(t, w.Indicators().Ready)
}

func TestWaveReversesAfterLockClears(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)

	bars := append(series(0, 20, 1000, 10), series(20, 20, 1180, -10)...)
	sigs := collect(t, w, bars)
	require.Len(t, sigs, 2)
	assert.Equal(t, model.Long, sigs[0].Direction)
	assert.Equal(t, model.Short, sigs[1].Direction)
	assert.Equal(t, -1, w.Lock())
}

func TestWaveDirectionSwitches(t *testing.T) {
	p := fastParams()
	p.EnableLong = false
	w, err := NewWave("w1", "MXF", p)
	require.NoError(t, err)
	assert.Empty(t, collect(t, w, series(0, 20, 1000, 10)))
}

func TestWaveADXGate(t *testing.T) {
	p := fastParams()
	p.EnableADX = true
	p.ADXPeriod = 2
	p.ADXMin = 101
	w, err := NewWave("w1", "MXF", p)
	require.NoError(t, err)
	assert.Empty(t, collect(t, w, series(0, 30, 1000, 10)))

	p.ADXMin = 0
	w, err = NewWave("w2", "MXF", p)
	require.NoError(t, err)
	assert.Len(t, collect(t, w, series(0, 30, 1000, 10)), 1)
}

func TestWaveADXMustExceedMinimum(t *testing.T) {
	p := fastParams()
	p.EnableADX = true
	p.ADXMin = 25
	w, err := NewWave("w1", "MXF", p)
	require.NoError(t, err)

	tests := []struct {
		name string
		v    indicators.Values
		want bool
	}{
		{"not ready", indicators.Values{ADX: 40}, false},
		{"at minimum", indicators.Values{ADXOK: true, ADX: 25}, false},
		{"above minimum", indicators.Values{ADXOK: true, ADX: 25.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.adxOK(tt.v))
		})
	}
}

func TestWaveExitPreemptsEntry(t *testing.T) {
	p := fastParams()
	p.Exits.Breaker = false
	p.Exits.StopLoss = 50
	w, err := NewWave("w1", "MXF", p)
	require.NoError(t, err)

	pos := model.Position{Symbol: "MXF", Qty: 1, AvgCost: 1100, HasCost: true, High: 1100, Low: 1000}
	sig := w.Evaluate(series(0, 1, 1000, 10)[0], pos)
	require.NotNil(t, sig)
	assert.Equal(t, model.Flatten, sig.Direction)
	assert.Contains(t, sig.Reason, "hard stop")
}

func TestWaveWarmUpKeepsLock(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)

	w.WarmUp(series(0, 20, 1000, 10))
	assert.Equal(t, 0, w.Lock())
	assert.True(t, w.Indicators().Ready)

	sig := w.Evaluate(series(20, 1, 1200, 10)[0], model.Position{})
	require.NotNil(t, sig)
	assert.Equal(t, model.Long, sig.Direction)
}

func TestWaveSnapshotRoundTrip(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)
	collect(t, w, series(0, 20, 1000, 10))

	st, err := w.SnapshotState()
	require.NoError(t, err)

	restored, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)
	require.NoError(t, restored.RestoreState(st))
	assert.Equal(t, 1, restored.Lock())

	assert.Error(t, restored.RestoreState(State(`{"lock":3}`)))
	assert.Error(t, restored.RestoreState(State(`not json`)))
}

func TestWaveIgnoresOtherSymbols(t *testing.T) {
	w, err := NewWave("w1", "MXF", fastParams())
	require.NoError(t, err)
	bars := series(0, 20, 1000, 10)
	for i := range bars {
		bars[i].Symbol = "TXF"
	}
	assert.Empty(t, collect(t, w, bars))
}
