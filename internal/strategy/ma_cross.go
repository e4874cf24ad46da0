package strategy

import (
	"encoding/json"
	"fmt"

	"futures-core/internal/indicators"
	"futures-core/internal/model"
	"futures-core/internal/risk"
)

// MACrossParams configures the bucket MA crossover.
type MACrossParams struct {
	BucketMinutes int     `yaml:"bucket_minutes"`
	FastPeriod    int     `yaml:"fast_period"`
	SlowPeriod    int     `yaml:"slow_period"`
	MAType        string  `yaml:"ma_type"`
	Qty           float64 `yaml:"qty"`

	Exits risk.ExitConfig `yaml:",inline"`
}

// DefaultMACrossParams returns a 10/30 SMA cross on hourly buckets.
func DefaultMACrossParams() MACrossParams {
	return MACrossParams{
		BucketMinutes: 60,
		FastPeriod:    10,
		SlowPeriod:    30,
		MAType:        string(indicators.MATypeSMA),
		Qty:           1,
		Exits:         risk.DefaultExitConfig(),
	}
}

func (p MACrossParams) Validate() error {
	switch {
	case p.BucketMinutes <= 0:
		return fmt.Errorf("bucket_minutes must be positive")
	case p.FastPeriod <= 0 || p.SlowPeriod <= 0:
		return fmt.Errorf("ma periods must be positive")
	case p.FastPeriod >= p.SlowPeriod:
		return fmt.Errorf("fast_period must be below slow_period")
	case p.Qty <= 0:
		return fmt.Errorf("qty must be positive")
	}
	return nil
}

// MACross implements a simple moving average crossover on coarse buckets.
// Generates LONG when the fast MA crosses above the slow MA (golden cross)
// and SHORT on the death cross.
type MACross struct {
	id     string
	symbol string
	params MACrossParams
	ind    *indicators.Engine
	exits  *risk.ExitGuard

	fastMA   float64
	slowMA   float64
	primed   bool
	lastSide model.Direction
}

// MACrossState is the serializable cross memory.
type MACrossState struct {
	FastMA   float64         `json:"fast_ma"`
	SlowMA   float64         `json:"slow_ma"`
	Primed   bool            `json:"primed"`
	LastSide model.Direction `json:"last_side"`
}

// NewMACross creates a new MA cross strategy.
func NewMACross(id, symbol string, p MACrossParams) (*MACross, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("ma_cross %s: %w", id, err)
	}
	kind := indicators.MAType(p.MAType)
	return &MACross{
		id:     id,
		symbol: symbol,
		params: p,
		ind: indicators.NewEngine(indicators.Config{
			BucketMinutes: p.BucketMinutes,
			FastWindow:    p.FastPeriod,
			FastType:      kind,
			SlowLong:      p.SlowPeriod,
			SlowType:      kind,
		}),
		exits: risk.NewExitGuard(p.Exits),
	}, nil
}

func (s *MACross) ID() string {
	return s.id
}

func (s *MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.params.FastPeriod, s.params.SlowPeriod)
}

func (s *MACross) Indicators() indicators.Values { return s.ind.Values() }

func (s *MACross) Evaluate(bar model.Bar, pos model.Position) *model.Signal {
	if s.symbol != "" && bar.Symbol != "" && bar.Symbol != s.symbol {
		return nil
	}
	flushed := s.ind.Update(bar)

	if d := s.exits.Evaluate(bar, pos); d != nil {
		return s.signal(bar, model.Flatten, d.Reason)
	}

	v := s.ind.Values()
	if !flushed || !v.Ready {
		return nil
	}

	oldFast, oldSlow, primed := s.fastMA, s.slowMA, s.primed
	s.fastMA, s.slowMA, s.primed = v.FastMA, v.SlowLong, true
	if !primed {
		return nil
	}

	// Golden cross: fast MA crosses above slow MA
	if oldFast <= oldSlow && s.fastMA > s.slowMA && pos.Qty <= 0 && s.lastSide != model.Long {
		s.lastSide = model.Long
		return s.signal(bar, model.Long, fmt.Sprintf("golden cross: MA%d(%.2f) > MA%d(%.2f)",
			s.params.FastPeriod, s.fastMA, s.params.SlowPeriod, s.slowMA))
	}

	// Death cross: fast MA crosses below slow MA
	if oldFast >= oldSlow && s.fastMA < s.slowMA && pos.Qty >= 0 && s.lastSide != model.Short {
		s.lastSide = model.Short
		return s.signal(bar, model.Short, fmt.Sprintf("death cross: MA%d(%.2f) < MA%d(%.2f)",
			s.params.FastPeriod, s.fastMA, s.params.SlowPeriod, s.slowMA))
	}

	return nil
}

func (s *MACross) signal(bar model.Bar, dir model.Direction, reason string) *model.Signal {
	return &model.Signal{
		Symbol:    bar.Symbol,
		Direction: dir,
		Qty:       s.params.Qty,
		Reason:    reason,
		Time:      bar.End(),
		Strategy:  s.id,
	}
}

func (s *MACross) WarmUp(history []model.Bar) {
	last := s.lastSide
	for _, bar := range history {
		s.Evaluate(bar, model.Position{})
	}
	s.lastSide = last
}

func (s *MACross) SnapshotState() (State, error) {
	return json.Marshal(MACrossState{
		FastMA:   s.fastMA,
		SlowMA:   s.slowMA,
		Primed:   s.primed,
		LastSide: s.lastSide,
	})
}

func (s *MACross) RestoreState(data State) error {
	var state MACrossState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.fastMA = state.FastMA
	s.slowMA = state.SlowMA
	s.primed = state.Primed
	s.lastSide = state.LastSide
	return nil
}
