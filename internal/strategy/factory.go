package strategy

import (
	"bytes"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
)

// Strategy type names accepted in strategies.yaml.
const (
	TypeWave    = "wave"
	TypeMACross = "ma_cross"
)

// Builder creates a fresh, isolated strategy from parameter overrides.
type Builder func(overrides map[string]any) (Strategy, error)

// New builds a strategy from its config entry. Missing parameters take the
// variant's defaults.
func New(cfg Config) (Strategy, error) {
	switch cfg.Type {
	case TypeWave:
		p := DefaultWaveParams()
		if err := decodeParams(cfg.Parameters, &p); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.ID, err)
		}
		return NewWave(cfg.ID, cfg.Symbol, p)
	case TypeMACross:
		p := DefaultMACrossParams()
		if err := decodeParams(cfg.Parameters, &p); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.ID, err)
		}
		return NewMACross(cfg.ID, cfg.Symbol, p)
	default:
		return nil, fmt.Errorf("strategy %s: unknown type %q", cfg.ID, cfg.Type)
	}
}

// BuilderFor returns a Builder that layers overrides on top of cfg's parameters.
func BuilderFor(cfg Config) Builder {
	return func(overrides map[string]any) (Strategy, error) {
		return New(cfg.With(overrides))
	}
}

// With returns a copy of c whose parameters are merged with overrides.
func (c Config) With(overrides map[string]any) Config {
	params := make(map[string]any, len(c.Parameters)+len(overrides))
	maps.Copy(params, c.Parameters)
	maps.Copy(params, overrides)
	c.Parameters = params
	return c
}

// decodeParams maps a loose parameter map onto a typed struct through yaml,
// so the same tags serve the config file and grid overrides.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return nil
}

// CheckParameters reports unknown names or mistyped values in params for the
// given strategy type without validating their ranges.
func CheckParameters(typ string, params map[string]any) error {
	switch typ {
	case TypeWave:
		p := DefaultWaveParams()
		return decodeParams(params, &p)
	case TypeMACross:
		p := DefaultMACrossParams()
		return decodeParams(params, &p)
	default:
		return fmt.Errorf("unknown strategy type %q", typ)
	}
}
