// Package optimize sweeps a strategy's parameter space: it expands parameter
// specifications into the cartesian product of combinations, runs one
// isolated engine per combination under bounded concurrency, and ranks the
// results.
package optimize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamSpec describes one parameter axis: either an explicit value set or a
// numeric range with step. Values wins when both are given.
type ParamSpec struct {
	Name   string
	Values []any

	Min  float64
	Max  float64
	Step float64
}

func (s ParamSpec) expand() ([]any, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("optimize: parameter spec without a name")
	}
	if len(s.Values) > 0 {
		return s.Values, nil
	}
	if s.Step <= 0 {
		return nil, fmt.Errorf("optimize: %s: step must be positive, got %v", s.Name, s.Step)
	}
	if s.Max < s.Min {
		return nil, fmt.Errorf("optimize: %s: max %v below min %v", s.Name, s.Max, s.Min)
	}
	var vals []any
	// half-step tolerance so Max itself is included despite float error
	for v := s.Min; v <= s.Max+s.Step/2; v += s.Step {
		vals = append(vals, v)
	}
	return vals, nil
}

// Params is one parameter combination.
type Params map[string]any

// ID is the canonical combination identifier: sorted key=value pairs joined
// with commas. Identical combinations always produce identical ids.
func (p Params) ID() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatValue(p[k])
	}
	return strings.Join(parts, ",")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	}
	return fmt.Sprintf("%v", v)
}

// Combinations expands the specs into their full cartesian product.
func Combinations(specs []ParamSpec) ([]Params, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("optimize: no parameter specs")
	}

	seen := make(map[string]bool, len(specs))
	axes := make([][]any, len(specs))
	for i, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("optimize: duplicate parameter %q", s.Name)
		}
		seen[s.Name] = true
		vals, err := s.expand()
		if err != nil {
			return nil, err
		}
		axes[i] = vals
	}

	combos := []Params{{}}
	for i, axis := range axes {
		next := make([]Params, 0, len(combos)*len(axis))
		for _, base := range combos {
			for _, v := range axis {
				p := make(Params, len(base)+1)
				for k, bv := range base {
					p[k] = bv
				}
				p[specs[i].Name] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos, nil
}
