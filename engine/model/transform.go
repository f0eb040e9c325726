package model

import (
	"fmt"
	"math"
)

// Imputer replaces missing (NaN) inputs with per-column statistics learned
// at training time, like scikit-learn's SimpleImputer.
type Imputer struct {
	Strategy   string    `json:"strategy,omitempty"`
	Statistics []float64 `json:"statistics"`
}

func (im *Imputer) apply(x []float64) {
	for i, v := range x {
		if math.IsNaN(v) {
			x[i] = im.Statistics[i]
		}
	}
}

// Scaler standardises inputs as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) check(n int) error {
	if len(s.Mean) != n || len(s.Scale) != n {
		return fmt.Errorf("%w: scaler has %d means and %d scales for %d features",
			ErrInvalidBundle, len(s.Mean), len(s.Scale), n)
	}
	for i, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("%w: scaler scale %d is zero", ErrInvalidBundle, i)
		}
	}
	return nil
}

func (s *Scaler) apply(x []float64) {
	for i := range x {
		x[i] = (x[i] - s.Mean[i]) / s.Scale[i]
	}
}
