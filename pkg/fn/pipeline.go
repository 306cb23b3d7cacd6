package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// TracedStage runs stage inside a span called name. attrs, if non-nil, adds
// span attributes describing the input.
func TracedStage[In, Out any](name string, stage Stage[In, Out], attrs func(In) []attribute.KeyValue) Stage[In, Out] {
	tracer := otel.Tracer("github.com/WessleyAI/raffle-ledger/pkg/fn")
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := tracer.Start(ctx, name)
		defer span.End()
		if attrs != nil {
			span.SetAttributes(attrs(in)...)
		}
		result := stage(ctx, in)
		if _, err := result.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
