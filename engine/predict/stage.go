package predict

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "engine/predict"

// Pipeline stage names, used for spans and errors.
const (
	StageParse  = "parse"
	StageMap    = "map"
	StageModel  = "model"
	StageInfer  = "infer"
	StageFormat = "format"
)

// stage transforms In to Out within a context.
type stage[In, Out any] func(context.Context, In) (Out, error)

// traced wraps a stage in a span named predict.<name> and marks the span
// failed when the stage errors.
func traced[In, Out any](name string, s func(context.Context, In) (Out, error)) stage[In, Out] {
	return func(ctx context.Context, in In) (Out, error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "predict."+name)
		defer span.End()
		out, err := s(ctx, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("predict.stage", name))
		}
		return out, err
	}
}
