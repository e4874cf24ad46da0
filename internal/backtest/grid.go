package backtest

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"futures-core/internal/strategy"
)

// Grid maps a parameter name to the values to sweep.
type Grid map[string][]any

// Combination is one point of a grid.
type Combination struct {
	Key    string
	Params map[string]any
}

// Expand returns the cartesian product of g. Names are sorted and the last
// name varies fastest, so the order is the same on every call.
func (g Grid) Expand() ([]Combination, error) {
	names := make([]string, 0, len(g))
	for name, values := range g {
		if len(values) == 0 {
			return nil, fmt.Errorf("grid: parameter %q has no values", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := []Combination{{Params: map[string]any{}}}
	for _, name := range names {
		next := make([]Combination, 0, len(out)*len(g[name]))
		for _, c := range out {
			for _, v := range g[name] {
				params := make(map[string]any, len(c.Params)+1)
				for k, pv := range c.Params {
					params[k] = pv
				}
				params[name] = v
				next = append(next, Combination{Params: params})
			}
		}
		out = next
	}
	for i := range out {
		out[i].Key = ParamKey(out[i].Params)
	}
	return out, nil
}

// Size is the number of combinations without expanding.
func (g Grid) Size() int {
	if len(g) == 0 {
		return 1
	}
	n := 1
	for _, v := range g {
		n *= len(v)
	}
	return n
}

// ParamKey renders params as "a=1,b=2" with sorted names.
func ParamKey(params map[string]any) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", k, params[k])
	}
	return b.String()
}

// GridFile is the optimizer's yaml input.
type GridFile struct {
	// Strategy is the base entry; grid values override its parameters.
	Strategy   strategy.Config `yaml:"strategy"`
	Parameters Grid            `yaml:"parameters"`
	// InSample is the chronological fraction used for optimization.
	InSample float64 `yaml:"in_sample"`
}

// LoadGrid reads and checks a grid file.
func LoadGrid(path string) (GridFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GridFile{}, fmt.Errorf("read grid file: %w", err)
	}
	return ParseGrid(data)
}

// ParseGrid decodes grid yaml.
func ParseGrid(data []byte) (GridFile, error) {
	var f GridFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return GridFile{}, fmt.Errorf("parse grid file: %w", err)
	}
	var errs []error
	if f.Strategy.Type == "" {
		errs = append(errs, errors.New("grid: strategy.type is required"))
	}
	if len(f.Parameters) == 0 {
		errs = append(errs, errors.New("grid: parameters is empty"))
	}
	if f.InSample < 0 || f.InSample >= 1 {
		errs = append(errs, fmt.Errorf("grid: in_sample %.2f outside [0, 1)", f.InSample))
	}
	if f.Strategy.Type != "" && len(f.Parameters) > 0 {
		sample := make(map[string]any, len(f.Parameters))
		for name, values := range f.Parameters {
			if len(values) > 0 {
				sample[name] = values[0]
			}
		}
		if err := strategy.CheckParameters(f.Strategy.Type, f.Strategy.With(sample).Parameters); err != nil {
			errs = append(errs, fmt.Errorf("grid: %w", err))
		}
	}
	if f.Strategy.ID == "" {
		f.Strategy.ID = f.Strategy.Type
	}
	return f, errors.Join(errs...)
}
