package model

import (
	"context"
	"fmt"
	"math"
)

// Logistic is a fitted linear classifier (scikit-learn LogisticRegression).
// One coefficient row means binary with a sigmoid; k rows mean k classes
// combined with softmax, or normalised one-vs-rest sigmoids when OvR is set.
type Logistic struct {
	Coef      [][]float64
	Intercept []float64
	OvR       bool
	nClasses  int
}

// NewLogistic validates coefficient shapes.
func NewLogistic(coef [][]float64, intercept []float64, ovr bool, nFeatures, nClasses int) (*Logistic, error) {
	rows := len(coef)
	switch {
	case nClasses == 2 && rows == 1:
	case nClasses > 2 && rows == nClasses:
	default:
		return nil, fmt.Errorf("%w: %d coefficient rows for %d classes", ErrInvalidBundle, rows, nClasses)
	}
	if len(intercept) != rows {
		return nil, fmt.Errorf("%w: %d intercepts for %d coefficient rows", ErrInvalidBundle, len(intercept), rows)
	}
	for i, row := range coef {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("%w: coefficient row %d has %d values, want %d", ErrInvalidBundle, i, len(row), nFeatures)
		}
	}
	return &Logistic{Coef: coef, Intercept: intercept, OvR: ovr, nClasses: nClasses}, nil
}

// PredictProba implements Classifier.
func (l *Logistic) PredictProba(_ context.Context, x []float64) ([]float64, error) {
	z := make([]float64, len(l.Coef))
	for i, row := range l.Coef {
		z[i] = l.Intercept[i]
		for j, w := range row {
			z[i] += w * x[j]
		}
	}
	if len(z) == 1 {
		p := sigmoid(z[0])
		return []float64{1 - p, p}, nil
	}
	if l.OvR {
		return normalise(z, sigmoid), nil
	}
	return softmax(z), nil
}

// Close implements Classifier.
func (l *Logistic) Close() error { return nil }

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

func softmax(z []float64) []float64 {
	hi := z[0]
	for _, v := range z[1:] {
		if v > hi {
			hi = v
		}
	}
	return normalise(z, func(v float64) float64 { return math.Exp(v - hi) })
}

func normalise(z []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = f(v)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
