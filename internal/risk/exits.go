package risk

import (
	"fmt"

	"futures-core/internal/model"
)

// ExitConfig enables and sizes the protective exits, in price points.
type ExitConfig struct {
	HardStop bool    `yaml:"enable_hard_stop" json:"enable_hard_stop"`
	StopLoss float64 `yaml:"stop_loss" json:"stop_loss"`

	Trailing      bool    `yaml:"enable_trailing_stop" json:"enable_trailing_stop"`
	TrailTrigger  float64 `yaml:"trailing_trigger" json:"trailing_trigger"`
	TrailDistance float64 `yaml:"trailing_dist" json:"trailing_dist"`

	Breaker              bool    `yaml:"enable_circuit_breaker" json:"enable_circuit_breaker"`
	BreakerMove          float64 `yaml:"breaker_move" json:"breaker_move"`
	BreakerVolMultiplier float64 `yaml:"breaker_vol_multiplier" json:"breaker_vol_multiplier"`
	BreakerHistory       int     `yaml:"breaker_history" json:"breaker_history"`
	BreakerMinSamples    int     `yaml:"breaker_min_samples" json:"breaker_min_samples"`
}

// DefaultExitConfig mirrors the production defaults.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		HardStop:             true,
		StopLoss:             800,
		Trailing:             true,
		TrailTrigger:         300,
		TrailDistance:        300,
		Breaker:              true,
		BreakerMove:          50,
		BreakerVolMultiplier: 3,
		BreakerHistory:       20,
		BreakerMinSamples:    10,
	}
}

// ExitRule names the guard that fired.
type ExitRule string

const (
	RuleCircuitBreaker ExitRule = "circuit_breaker"
	RuleHardStop       ExitRule = "hard_stop"
	RuleTrailingStop   ExitRule = "trailing_stop"
)

// ExitDecision asks the caller to flatten.
type ExitDecision struct {
	Rule   ExitRule
	Reason string
	Price  float64
}

// ExitGuard evaluates circuit breaker, hard stop and trailing stop, in that
// priority, against the ledger's position. It keeps a short history of
// fine-bar volumes for the breaker.
type ExitGuard struct {
	cfg  ExitConfig
	vols []float64
	next int
	n    int
}

// NewExitGuard builds a guard for cfg.
func NewExitGuard(cfg ExitConfig) *ExitGuard {
	if cfg.BreakerHistory <= 0 {
		cfg.BreakerHistory = 20
	}
	if cfg.BreakerMinSamples <= 0 {
		cfg.BreakerMinSamples = 10
	}
	return &ExitGuard{cfg: cfg, vols: make([]float64, cfg.BreakerHistory)}
}

// Config returns the effective configuration.
func (g *ExitGuard) Config() ExitConfig {
	return g.cfg
}

// Observe records bar volume for the breaker's running average.
func (g *ExitGuard) Observe(bar model.Bar) {
	g.vols[g.next] = bar.Volume
	g.next = (g.next + 1) % len(g.vols)
	if g.n < len(g.vols) {
		g.n++
	}
}

// AvgVolume is the mean of the recorded fine-bar volumes and the sample count.
func (g *ExitGuard) AvgVolume() (float64, int) {
	if g.n == 0 {
		return 0, 0
	}
	sum := 0.0
	for i := 0; i < g.n; i++ {
		sum += g.vols[i]
	}
	return sum / float64(g.n), g.n
}

// Evaluate records bar and then checks the exits.
func (g *ExitGuard) Evaluate(bar model.Bar, pos model.Position) *ExitDecision {
	g.Observe(bar)
	return g.Check(bar, pos)
}

// Check returns the highest-priority exit that fires for pos on bar, or nil.
// pos.High and pos.Low must already include bar.
func (g *ExitGuard) Check(bar model.Bar, pos model.Position) *ExitDecision {
	side := pos.Side()
	if side == model.None {
		return nil
	}

	if g.cfg.Breaker {
		if avg, n := g.AvgVolume(); n >= g.cfg.BreakerMinSamples {
			adverse := (bar.Open - bar.Close) * side.Sign()
			if adverse >= g.cfg.BreakerMove && bar.Volume > avg*g.cfg.BreakerVolMultiplier {
				return &ExitDecision{
					Rule:   RuleCircuitBreaker,
					Reason: fmt.Sprintf("circuit breaker: %.0f pts against %s on volume %.0f (avg %.1f)", adverse, side, bar.Volume, avg),
					Price:  bar.Close,
				}
			}
		}
	}

	if !pos.HasCost {
		return nil
	}
	entry := pos.AvgCost

	if g.cfg.HardStop {
		pnl := (bar.Close - entry) * side.Sign()
		if pnl <= -g.cfg.StopLoss {
			return &ExitDecision{
				Rule:   RuleHardStop,
				Reason: fmt.Sprintf("hard stop: %.0f pts from entry %.0f", pnl, entry),
				Price:  bar.Close,
			}
		}
	}

	if g.cfg.Trailing {
		switch side {
		case model.Long:
			if pos.High-entry >= g.cfg.TrailTrigger && bar.Close <= pos.High-g.cfg.TrailDistance {
				return &ExitDecision{
					Rule:   RuleTrailingStop,
					Reason: fmt.Sprintf("trailing stop: long retraced from high %.0f to %.0f", pos.High, bar.Close),
					Price:  bar.Close,
				}
			}
		case model.Short:
			if entry-pos.Low >= g.cfg.TrailTrigger && bar.Close >= pos.Low+g.cfg.TrailDistance {
				return &ExitDecision{
					Rule:   RuleTrailingStop,
					Reason: fmt.Sprintf("trailing stop: short rebounded from low %.0f to %.0f", pos.Low, bar.Close),
					Price:  bar.Close,
				}
			}
		}
	}

	return nil
}
