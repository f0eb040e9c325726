// Package risk turns class probabilities into the score returned to clients.
package risk

import (
	"errors"
	"fmt"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
)

// StatusSuccess is the status of every successful result.
const StatusSuccess = "success"

// ErrUnsupportedOutput is returned for a variant with an unknown output shape.
var ErrUnsupportedOutput = errors.New("unsupported output shape")

// Result is the JSON body of a successful prediction.
type Result struct {
	RiskScore float64 `json:"risk_score" yaml:"risk_score"`
	// Prediction is set for binary variants only.
	Prediction *int   `json:"prediction,omitempty" yaml:"prediction,omitempty"`
	Status     string `json:"status" yaml:"status"`
}

// Format computes the result for v from validated probabilities.
// Multi-class variants report the sum of every at-risk class, unrounded.
// Binary variants report the positive class and the thresholded decision.
func Format(v features.Variant, p model.Probabilities) (Result, error) {
	if len(p) != len(v.Classes) {
		return Result{}, fmt.Errorf("risk: %w: variant %s has %d classes, got %d probabilities",
			model.ErrInvalidProbabilities, v.ID, len(v.Classes), len(p))
	}
	switch v.Output {
	case features.OutputRiskSum:
		var score float64
		for _, pi := range p[1:] {
			score += pi
		}
		return Result{RiskScore: score, Status: StatusSuccess}, nil
	case features.OutputBinary:
		score := p[1]
		decision := Decide(score, v.Threshold)
		return Result{RiskScore: score, Prediction: &decision, Status: StatusSuccess}, nil
	default:
		return Result{}, fmt.Errorf("risk: %w: %d", ErrUnsupportedOutput, v.Output)
	}
}

// Decide returns 1 when score reaches threshold, 0 otherwise.
func Decide(score, threshold float64) int {
	if score >= threshold {
		return 1
	}
	return 0
}
