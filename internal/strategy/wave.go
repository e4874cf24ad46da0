package strategy

import (
	"encoding/json"
	"fmt"

	"futures-core/internal/indicators"
	"futures-core/internal/model"
	"futures-core/internal/risk"
)

// WaveParams configures the wave strategy. Windows are in buckets, prices in points.
type WaveParams struct {
	BucketMinutes int     `yaml:"bucket_minutes"`
	FastWindow    int     `yaml:"fast_window"`
	FastType      string  `yaml:"fast_type"`
	SlowLong      int     `yaml:"slow_long"`
	SlowShort     int     `yaml:"slow_short"`
	SlowType      string  `yaml:"slow_type"`
	Threshold     float64 `yaml:"threshold"`
	Qty           float64 `yaml:"qty"`

	EnableLong  bool `yaml:"enable_long"`
	EnableShort bool `yaml:"enable_short"`

	EnableADX bool    `yaml:"enable_adx"`
	ADXPeriod int     `yaml:"adx_period"`
	ADXMin    float64 `yaml:"adx_min"`

	EnableVolLong  bool    `yaml:"enable_vol_long"`
	EnableVolShort bool    `yaml:"enable_vol_short"`
	VolPeriod      int     `yaml:"vol_period"`
	VolMultiplier  float64 `yaml:"vol_multiplier"`

	Exits risk.ExitConfig `yaml:",inline"`
}

// DefaultWaveParams mirrors the production defaults.
func DefaultWaveParams() WaveParams {
	return WaveParams{
		BucketMinutes:  60,
		FastWindow:     15,
		FastType:       string(indicators.MATypeEMA),
		SlowLong:       240,
		SlowShort:      240,
		SlowType:       string(indicators.MATypeSMA),
		Threshold:      100,
		Qty:            1,
		EnableLong:     true,
		EnableShort:    true,
		EnableADX:      false,
		ADXPeriod:      14,
		ADXMin:         25,
		EnableVolLong:  false,
		EnableVolShort: false,
		VolPeriod:      20,
		VolMultiplier:  1.5,
		Exits:          risk.DefaultExitConfig(),
	}
}

// Validate rejects parameter sets the strategy cannot run with.
func (p WaveParams) Validate() error {
	switch {
	case p.BucketMinutes <= 0:
		return fmt.Errorf("bucket_minutes must be positive")
	case p.FastWindow <= 0 || p.SlowLong <= 0 || p.SlowShort <= 0:
		return fmt.Errorf("ma windows must be positive")
	case p.Threshold < 0:
		return fmt.Errorf("threshold must not be negative")
	case p.Qty <= 0:
		return fmt.Errorf("qty must be positive")
	case p.EnableADX && p.ADXPeriod <= 0:
		return fmt.Errorf("adx_period must be positive when adx is enabled")
	case (p.EnableVolLong || p.EnableVolShort) && p.VolPeriod <= 0:
		return fmt.Errorf("vol_period must be positive when the volume filter is enabled")
	}
	return nil
}

// Wave is the MA wave state machine: a bucket-level fast/slow spread defines
// the wave, entries fire when price re-crosses the fast MA inside a wave, and
// a per-direction lock allows one entry per wave.
type Wave struct {
	id     string
	symbol string
	params WaveParams
	ind    *indicators.Engine
	exits  *risk.ExitGuard

	// +1 after a long entry, -1 after a short entry, 0 when clear
	lock       int
	lastReason string
}

type waveState struct {
	Lock       int    `json:"lock"`
	LastReason string `json:"last_reason,omitempty"`
}

// NewWave builds a wave strategy instance.
func NewWave(id, symbol string, p WaveParams) (*Wave, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("wave %s: %w", id, err)
	}
	cfg := indicators.Config{
		BucketMinutes: p.BucketMinutes,
		FastWindow:    p.FastWindow,
		FastType:      indicators.MAType(p.FastType),
		SlowLong:      p.SlowLong,
		SlowShort:     p.SlowShort,
		SlowType:      indicators.MAType(p.SlowType),
	}
	if p.EnableADX {
		cfg.ADXPeriod = p.ADXPeriod
	}
	if p.EnableVolLong || p.EnableVolShort {
		cfg.VolPeriod = p.VolPeriod
		cfg.VolMultiplier = p.VolMultiplier
	}
	return &Wave{
		id:     id,
		symbol: symbol,
		params: p,
		ind:    indicators.NewEngine(cfg),
		exits:  risk.NewExitGuard(p.Exits),
	}, nil
}

func (w *Wave) ID() string { return w.id }

func (w *Wave) Name() string {
	return fmt.Sprintf("Wave_%d_%d_%d", w.params.FastWindow, w.params.SlowLong, w.params.BucketMinutes)
}

// Params returns the parameters the instance was built with.
func (w *Wave) Params() WaveParams { return w.params }

// Lock reports the current wave-lock (+1, -1 or 0).
func (w *Wave) Lock() int { return w.lock }

func (w *Wave) Indicators() indicators.Values { return w.ind.Values() }

// Evaluate runs exits first, then the entry state machine.
func (w *Wave) Evaluate(bar model.Bar, pos model.Position) *model.Signal {
	if w.symbol != "" && bar.Symbol != "" && bar.Symbol != w.symbol {
		return nil
	}
	w.ind.Update(bar)

	if d := w.exits.Evaluate(bar, pos); d != nil {
		return w.signal(bar, model.Flatten, d.Reason)
	}

	v := w.ind.Values()
	if !v.Ready {
		return nil
	}

	trend := w.trend(v)
	w.releaseLock(trend, bar.Close, v.FastMA)

	if w.params.EnableLong && trend > 0 && w.lock != 1 && pos.Qty <= 0 &&
		bar.Close > v.FastMA && w.adxOK(v) && (!w.params.EnableVolLong || v.VolumeOK) {
		w.lock = 1
		return w.signal(bar, model.Long, fmt.Sprintf("wave long: fast %.1f - slow %.1f > %.0f, close %.0f above fast",
			v.FastMA, v.SlowLong, w.params.Threshold, bar.Close))
	}

	if w.params.EnableShort && trend < 0 && w.lock != -1 && pos.Qty >= 0 &&
		bar.Close < v.FastMA && w.adxOK(v) && (!w.params.EnableVolShort || v.VolumeOK) {
		w.lock = -1
		return w.signal(bar, model.Short, fmt.Sprintf("wave short: fast %.1f - slow %.1f < -%.0f, close %.0f below fast",
			v.FastMA, v.SlowShort, w.params.Threshold, bar.Close))
	}

	return nil
}

// trend is +1 in an up wave, -1 in a down wave, 0 when neutral.
func (w *Wave) trend(v indicators.Values) int {
	switch {
	case v.FastMA-v.SlowLong > w.params.Threshold:
		return 1
	case v.FastMA-v.SlowShort < -w.params.Threshold:
		return -1
	default:
		return 0
	}
}

func (w *Wave) releaseLock(trend int, close, fast float64) {
	switch w.lock {
	case 1:
		if trend != 1 || close < fast {
			w.lock = 0
		}
	case -1:
		if trend != -1 || close > fast {
			w.lock = 0
		}
	}
}

func (w *Wave) adxOK(v indicators.Values) bool {
	if !w.params.EnableADX {
		return true
	}
	return v.ADXOK && v.ADX > w.params.ADXMin
}

func (w *Wave) signal(bar model.Bar, dir model.Direction, reason string) *model.Signal {
	w.lastReason = reason
	return &model.Signal{
		Symbol:    bar.Symbol,
		Direction: dir,
		Qty:       w.params.Qty,
		Reason:    reason,
		Time:      bar.End(),
		Strategy:  w.id,
	}
}

// WarmUp feeds history with a flat book. The lock is left as it was before
// the replay so a restored snapshot stays authoritative.
func (w *Wave) WarmUp(history []model.Bar) {
	lock, reason := w.lock, w.lastReason
	for _, bar := range history {
		w.Evaluate(bar, model.Position{})
	}
	w.lock, w.lastReason = lock, reason
}

func (w *Wave) SnapshotState() (State, error) {
	return json.Marshal(waveState{Lock: w.lock, LastReason: w.lastReason})
}

func (w *Wave) RestoreState(data State) error {
	var st waveState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("wave %s: decode state: %w", w.id, err)
	}
	if st.Lock < -1 || st.Lock > 1 {
		return fmt.Errorf("wave %s: invalid lock %d", w.id, st.Lock)
	}
	w.lock = st.Lock
	w.lastReason = st.LastReason
	return nil
}
