// Package predict runs the per-request pipeline: parse the survey, map it
// onto the variant's feature vector, run the current model bundle and
// format the risk score. Each stage gets its own span.
package predict

import (
	"context"
	"log/slog"
	"time"

	"github.com/diacheck/diacheck/engine/features"
	"github.com/diacheck/diacheck/engine/model"
	"github.com/diacheck/diacheck/engine/risk"
	"github.com/diacheck/diacheck/engine/survey"
)

// Service serves predictions for one variant from a model handle.
// It is safe for concurrent use.
type Service struct {
	handle  *model.Handle
	variant features.Variant
	mapper  *features.Mapper
	metrics *Metrics
	logger  *slog.Logger

	parse  stage[[]byte, survey.Record]
	mapRec stage[survey.Record, features.Vector]
	format stage[model.Probabilities, risk.Result]
}

// New creates a Service. m may be nil.
func New(h *model.Handle, v features.Variant, m *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		handle:  h,
		variant: v.Clone(),
		mapper:  features.NewMapper(v),
		metrics: m,
		logger:  logger,
	}
	s.parse = traced(StageParse, func(_ context.Context, body []byte) (survey.Record, error) {
		return survey.Parse(body)
	})
	s.mapRec = traced(StageMap, func(_ context.Context, rec survey.Record) (features.Vector, error) {
		return s.mapper.Map(rec)
	})
	s.format = traced(StageFormat, func(_ context.Context, p model.Probabilities) (risk.Result, error) {
		return risk.Format(s.variant, p)
	})
	m.setLoaded(h.Ready())
	return s
}

// Variant returns the variant the service maps requests onto.
func (s *Service) Variant() features.Variant { return s.variant.Clone() }

// Ready reports whether a bundle is loaded.
func (s *Service) Ready() bool { return s.handle.Ready() }

// LastError returns why the most recent load failed, or nil.
func (s *Service) LastError() error { return s.handle.LastError() }

// Predict scores a raw JSON request body. Without a loaded model every
// request fails as unavailable, even one whose body would not parse.
func (s *Service) Predict(ctx context.Context, body []byte) (risk.Result, error) {
	start := time.Now()
	b, err := s.handle.Current()
	if err != nil {
		return s.fail(StageModel, err, start)
	}
	rec, err := s.parse(ctx, body)
	if err != nil {
		return s.fail(StageParse, err, start)
	}
	return s.score(ctx, b, rec, start)
}

// PredictRecord scores an already parsed record.
func (s *Service) PredictRecord(ctx context.Context, rec survey.Record) (risk.Result, error) {
	start := time.Now()
	b, err := s.handle.Current()
	if err != nil {
		return s.fail(StageModel, err, start)
	}
	return s.score(ctx, b, rec, start)
}

// score runs against b for the whole request; a concurrent reload cannot
// swap it mid-inference.
func (s *Service) score(ctx context.Context, b *model.Bundle, rec survey.Record, start time.Time) (risk.Result, error) {
	vec, err := s.mapRec(ctx, rec)
	if err != nil {
		return s.fail(StageMap, err, start)
	}

	infer := traced(StageInfer, func(ctx context.Context, x features.Vector) (model.Probabilities, error) {
		return b.PredictProba(ctx, x)
	})
	probs, err := infer(ctx, vec)
	if err != nil {
		return s.fail(StageInfer, err, start)
	}

	res, err := s.format(ctx, probs)
	if err != nil {
		return s.fail(StageFormat, err, start)
	}
	s.metrics.observe("success", start)
	return res, nil
}

func (s *Service) fail(stage string, err error, start time.Time) (risk.Result, error) {
	pe := s.classify(stage, err)
	s.metrics.observe(pe.Class.String(), start)
	return risk.Result{}, pe
}

// Reload replaces the bundle through the handle. On failure the current
// bundle keeps serving.
func (s *Service) Reload() (*model.Bundle, error) {
	b, err := s.handle.Reload()
	s.metrics.reload(err)
	s.metrics.setLoaded(s.handle.Ready())
	if err != nil {
		s.logger.Error("model reload failed", "variant", s.variant.ID, "err", err)
		return nil, err
	}
	s.logger.Info("model reloaded",
		"variant", s.variant.ID,
		"source", b.Source,
		"kind", b.Kind,
		"features", b.NumFeatures(),
	)
	return b, nil
}
