package predict

import (
	"errors"
	"fmt"

	"github.com/diacheck/diacheck/engine/model"
	"github.com/diacheck/diacheck/engine/survey"
)

// Class says who is at fault for a failed prediction.
type Class int

const (
	// ClassClient means the request payload was bad.
	ClassClient Class = iota
	// ClassUnavailable means no model is loaded.
	ClassUnavailable
	// ClassServer means inference itself failed.
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassClient:
		return "client_error"
	case ClassUnavailable:
		return "unavailable"
	case ClassServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is a failed prediction with its pipeline stage and class.
type Error struct {
	Stage string
	Class Class
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("predict: %s: %v", e.Stage, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of err. Errors not produced by the pipeline
// count as server errors.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	switch {
	case errors.Is(err, model.ErrNotLoaded):
		return ClassUnavailable
	case survey.IsClientError(err):
		return ClassClient
	default:
		return ClassServer
	}
}

// classify assigns the class for an error raised by stage. Inference
// failures follow the variant's policy.
func (s *Service) classify(stage string, err error) *Error {
	c := ClassOf(err)
	if stage == StageInfer && c == ClassServer && s.variant.InferenceErrorIsClientError {
		c = ClassClient
	}
	return &Error{Stage: stage, Class: c, Err: err}
}
