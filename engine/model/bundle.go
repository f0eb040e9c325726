// Package model loads classifier bundles and runs inference on feature
// vectors. A Bundle is immutable once loaded; the Handle is the only place
// that replaces one.
package model

import (
	"context"
	"fmt"
	"math"
	"time"
)

// probTolerance bounds how far the class probabilities may sum from 1.
const probTolerance = 1e-6

// Classifier produces per-class probabilities for one input row.
type Classifier interface {
	PredictProba(ctx context.Context, x []float64) ([]float64, error)
	Close() error
}

// Probabilities are per-class probabilities in class order.
type Probabilities []float64

// Validate checks the probability invariant: n values, each in [0,1],
// summing to 1.
func (p Probabilities) Validate(n int) error {
	if len(p) != n {
		return fmt.Errorf("%w: expected %d classes, got %d", ErrInvalidProbabilities, n, len(p))
	}
	var sum float64
	for i, v := range p {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: class %d has probability %v", ErrInvalidProbabilities, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > probTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInvalidProbabilities, sum)
	}
	return nil
}

// Bundle is a classifier plus the preprocessing it was trained with.
type Bundle struct {
	// Variant names the feature layout the bundle was trained on, if recorded.
	Variant string
	// FeatureNames is the training column order, if recorded.
	FeatureNames []string
	Classes      []string
	Imputer      *Imputer
	Scaler       *Scaler
	Classifier   Classifier
	// Kind is the classifier type from the bundle file.
	Kind     string
	Source   string
	LoadedAt time.Time

	nFeatures int
}

// NewBundle assembles a bundle in memory and checks its shapes.
func NewBundle(nFeatures int, classes []string, clf Classifier, imp *Imputer, sc *Scaler) (*Bundle, error) {
	b := &Bundle{
		Classes:    classes,
		Classifier: clf,
		Imputer:    imp,
		Scaler:     sc,
		LoadedAt:   time.Now().UTC(),
		nFeatures:  nFeatures,
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// NumFeatures is the input width the bundle accepts.
func (b *Bundle) NumFeatures() int { return b.nFeatures }

func (b *Bundle) validate() error {
	if b.nFeatures <= 0 {
		return fmt.Errorf("%w: feature count must be positive", ErrInvalidBundle)
	}
	if len(b.FeatureNames) > 0 && len(b.FeatureNames) != b.nFeatures {
		return fmt.Errorf("%w: %d feature names for %d features", ErrInvalidBundle, len(b.FeatureNames), b.nFeatures)
	}
	if len(b.Classes) < 2 {
		return fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidBundle, len(b.Classes))
	}
	if b.Classifier == nil {
		return fmt.Errorf("%w: no classifier", ErrInvalidBundle)
	}
	if b.Imputer != nil && len(b.Imputer.Statistics) != b.nFeatures {
		return fmt.Errorf("%w: imputer has %d statistics for %d features", ErrInvalidBundle, len(b.Imputer.Statistics), b.nFeatures)
	}
	if b.Scaler != nil {
		if err := b.Scaler.check(b.nFeatures); err != nil {
			return err
		}
	}
	return nil
}

// Transform applies the imputer and scaler, in that order, to a copy of x.
func (b *Bundle) Transform(x []float64) ([]float64, error) {
	if len(x) != b.nFeatures {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrShapeMismatch, b.nFeatures, len(x))
	}
	out := append([]float64(nil), x...)
	if b.Imputer != nil {
		b.Imputer.apply(out)
	}
	if b.Scaler != nil {
		b.Scaler.apply(out)
	}
	return out, nil
}

// PredictProba transforms x and returns validated class probabilities.
func (b *Bundle) PredictProba(ctx context.Context, x []float64) (Probabilities, error) {
	xt, err := b.Transform(x)
	if err != nil {
		return nil, err
	}
	p, err := b.Classifier.PredictProba(ctx, xt)
	if err != nil {
		return nil, fmt.Errorf("model: %s predict: %w", b.Kind, err)
	}
	probs := Probabilities(p)
	if err := probs.Validate(len(b.Classes)); err != nil {
		return nil, err
	}
	return probs, nil
}

// Close releases classifier resources.
func (b *Bundle) Close() error {
	if b == nil || b.Classifier == nil {
		return nil
	}
	return b.Classifier.Close()
}
