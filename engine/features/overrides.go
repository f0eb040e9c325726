package features

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Overrides replaces default and assumed values, keyed by variant ID then
// feature name:
//
//	diabetes_012:
//	  MentHlth: 0
//	  Fruits: 0
type Overrides map[string]map[string]float64

// LoadOverrides reads an overrides file. An empty path yields no overrides.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("features: read overrides %s: %w", path, err)
	}
	var o Overrides
	if err := yaml.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("features: decode overrides %s: %w", path, err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks that every variant and feature named exists and that no
// derived feature is overridden.
func (o Overrides) Validate() error {
	for _, id := range sortedKeys(o) {
		v, err := Lookup(id)
		if err != nil {
			return fmt.Errorf("features: overrides: %w", err)
		}
		for _, name := range sortedKeys(o[id]) {
			i := v.Index(name)
			if i < 0 {
				return fmt.Errorf("features: overrides: %w: %s.%s", ErrUnknownFeature, id, name)
			}
			if v.Features[i].Kind == KindDerived {
				return fmt.Errorf("features: overrides: %s.%s is derived and cannot be overridden", id, name)
			}
		}
	}
	return nil
}

// Apply returns a copy of v with its overrides applied.
func (o Overrides) Apply(v Variant) (Variant, error) {
	out := v.Clone()
	for name, val := range o[v.ID] {
		i := out.Index(name)
		if i < 0 {
			return Variant{}, fmt.Errorf("features: %w: %s.%s", ErrUnknownFeature, v.ID, name)
		}
		if out.Features[i].Kind == KindDerived {
			return Variant{}, fmt.Errorf("features: %s.%s is derived and cannot be overridden", v.ID, name)
		}
		out.Features[i].Default = val
		out.Features[i].Rationale = "overridden by configuration"
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
