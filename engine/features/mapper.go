package features

import (
	"fmt"

	"github.com/diacheck/diacheck/engine/survey"
)

// Vector is the ordered model input.
type Vector []float64

// BMI computes body-mass index from kilograms and centimetres. It returns
// fallback instead of dividing by a non-positive height.
func BMI(weightKg, heightCm, fallback float64) float64 {
	if heightCm <= 0 {
		return fallback
	}
	m := heightCm / 100
	return weightKg / (m * m)
}

// Mapper turns survey records into vectors for one variant.
// It holds no mutable state and is safe for concurrent use.
type Mapper struct {
	variant Variant
}

// NewMapper creates a Mapper bound to a variant.
func NewMapper(v Variant) *Mapper {
	return &Mapper{variant: v.Clone()}
}

// Variant returns the bound variant.
func (m *Mapper) Variant() Variant { return m.variant.Clone() }

// Map builds the feature vector for rec.
func (m *Mapper) Map(rec survey.Record) (Vector, error) {
	vec := make(Vector, len(m.variant.Features))
	for i, f := range m.variant.Features {
		switch f.Kind {
		case KindRequested:
			vec[i] = rec.Get(f.Source, f.Default)
		case KindAssumed:
			vec[i] = f.Default
		case KindDerived:
			v, err := m.derive(f, rec)
			if err != nil {
				return nil, err
			}
			vec[i] = v
		default:
			return nil, fmt.Errorf("features: %s: unsupported kind %d", f.Name, f.Kind)
		}
	}
	return vec, nil
}

func (m *Mapper) derive(f Feature, rec survey.Record) (float64, error) {
	switch f.Name {
	case "BMI":
		weight, okW := rec.Lookup(FieldWeight)
		height, okH := rec.Lookup(FieldHeight)
		if !okW || !okH {
			return m.variant.BMIFallback, nil
		}
		return BMI(weight, height, m.variant.BMIFallback), nil
	default:
		return 0, fmt.Errorf("features: %w: no derivation for %q", ErrUnknownFeature, f.Name)
	}
}
