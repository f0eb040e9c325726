package model

import "errors"

// Sentinel errors for bundle loading and inference.
var (
	ErrNotLoaded             = errors.New("model not loaded")
	ErrInvalidBundle         = errors.New("invalid model bundle")
	ErrUnsupportedClassifier = errors.New("unsupported classifier type")
	ErrShapeMismatch         = errors.New("feature vector shape mismatch")
	ErrInvalidProbabilities  = errors.New("classifier returned invalid probabilities")
)
