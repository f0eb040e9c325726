// Package features maps survey records onto the ordered feature vectors the
// classifiers were trained on. The position of every value is significant:
// a vector that is out of order still classifies, it just classifies wrong,
// so every variant's order lives in one explicit table.
package features

import (
	"errors"
	"fmt"
	"strings"
)

// Kind describes where a feature value comes from.
type Kind int

const (
	KindRequested Kind = iota // read from the request, Default when absent
	KindAssumed               // never asked; always Default
	KindDerived               // computed from other request fields
)

func (k Kind) String() string {
	switch k {
	case KindRequested:
		return "requested"
	case KindAssumed:
		return "assumed"
	case KindDerived:
		return "derived"
	default:
		return "unknown"
	}
}

// MarshalText lets YAML/JSON encoders print the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Request field names that feed derived features.
const (
	FieldWeight = "weight" // kilograms
	FieldHeight = "height" // centimetres
)

// Feature is one position of the vector.
type Feature struct {
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`
	// Source is the request field read for a requested feature. Several
	// features may share one Source; that is an alias, not a mistake.
	Source    string  `yaml:"source,omitempty" json:"source,omitempty"`
	Default   float64 `yaml:"default" json:"default"`
	Rationale string  `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

// Output selects how class probabilities become a risk score.
type Output int

const (
	// OutputRiskSum sums every class except class 0.
	OutputRiskSum Output = iota
	// OutputBinary reports the positive class and a thresholded decision.
	OutputBinary
)

// Variant binds a feature table to the model family trained on it.
type Variant struct {
	ID       string
	Features []Feature
	// BMIFallback replaces BMI when it cannot be computed.
	BMIFallback float64
	Classes     []string
	Output      Output
	// Threshold is used by OutputBinary only.
	Threshold float64
	// InferenceErrorIsClientError reports inference failures as 4xx.
	InferenceErrorIsClientError bool
}

// Sentinel errors.
var (
	ErrUnknownVariant = errors.New("unknown model variant")
	ErrUnknownFeature = errors.New("unknown feature")
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)

// Len is the vector length the variant produces.
func (v Variant) Len() int { return len(v.Features) }

// Names returns the feature names in vector order.
func (v Variant) Names() []string {
	out := make([]string, len(v.Features))
	for i, f := range v.Features {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of a feature by name, or -1.
func (v Variant) Index(name string) int {
	for i, f := range v.Features {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Aliases returns, per request field, the feature positions it fills when it
// fills more than one.
func (v Variant) Aliases() map[string][]int {
	bySource := make(map[string][]int)
	for i, f := range v.Features {
		if f.Kind == KindRequested {
			bySource[f.Source] = append(bySource[f.Source], i)
		}
	}
	out := make(map[string][]int)
	for src, idx := range bySource {
		if len(idx) > 1 {
			out[src] = idx
		}
	}
	return out
}

// Clone returns a deep copy safe to modify.
func (v Variant) Clone() Variant {
	c := v
	c.Features = append([]Feature(nil), v.Features...)
	c.Classes = append([]string(nil), v.Classes...)
	return c
}

// Check asserts that names, as recorded by a model bundle, match the
// variant's order position by position. Names compare case-insensitively.
func (v Variant) Check(names []string) error {
	if len(names) != len(v.Features) {
		return fmt.Errorf("%w: variant %s expects %d features, model has %d",
			ErrSchemaMismatch, v.ID, len(v.Features), len(names))
	}
	for i, f := range v.Features {
		if !strings.EqualFold(strings.TrimSpace(names[i]), f.Name) {
			return fmt.Errorf("%w: position %d is %q in variant %s, model has %q",
				ErrSchemaMismatch, i+1, f.Name, v.ID, names[i])
		}
	}
	return nil
}
