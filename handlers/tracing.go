package handlers

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
)

// TracerName is the instrumentation scope of call spans.
const TracerName = "github.com/wippyai/callguard/handlers"

type spanKey struct{}

// Tracing records one span per intercepted call, from its prologue to its
// epilogue. The engine passes the span to the real function through
// SpanContext, so driver spans nest under the call span.
type Tracing struct {
	tracer trace.Tracer
}

func NewTracing(tp trace.TracerProvider) *Tracing {
	return &Tracing{tracer: tp.Tracer(TracerName)}
}

func (t *Tracing) Name() string { return NameTracing }

func (t *Tracing) Prologue(ctx context.Context, call *chain.Call) error {
	attrs := []attribute.KeyValue{
		attribute.String("ze.entry_point", call.Name()),
		attribute.String("ze.kind", string(call.Entry.Kind)),
		attribute.Int64("ze.call_id", int64(call.ID)),
	}
	for i, slot := range call.Entry.Inputs {
		if h := input(call, i); h != 0 {
			attrs = append(attrs, attribute.String("ze.in."+slot.Name, h.String()))
		}
	}

	_, span := t.tracer.Start(ctx, call.Name(), trace.WithAttributes(attrs...))
	call.SetValue(spanKey{}, span)
	return nil
}

func (t *Tracing) Epilogue(_ context.Context, call *chain.Call, result error) error {
	span, ok := call.Value(spanKey{}).(trace.Span)
	if !ok {
		return nil
	}
	call.SetValue(spanKey{}, nil)

	span.SetAttributes(attribute.String("ze.result", api.ResultFor(result).String()))
	if result != nil {
		span.RecordError(result)
		span.SetStatus(codes.Error, result.Error())
	} else {
		for i, slot := range call.Entry.Outputs {
			if h := call.OutputAt(i); h != 0 {
				span.SetAttributes(attribute.String("ze.out."+slot.Name, h.String()))
			}
		}
		if n := len(call.Enumerated); n > 0 {
			span.SetAttributes(attribute.Int("ze.enumerated", n))
		}
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return nil
}

// SpanContext returns ctx carrying the span Tracing started for call, or ctx
// itself when the call has none.
func SpanContext(ctx context.Context, call *chain.Call) context.Context {
	span, ok := call.Value(spanKey{}).(trace.Span)
	if !ok {
		return ctx
	}
	return trace.ContextWithSpan(ctx, span)
}

// Abort ends the span of a call stopped by a later handler's prologue.
func (t *Tracing) Abort(_ context.Context, call *chain.Call) {
	span, ok := call.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}
	call.SetValue(spanKey{}, nil)

	span.SetAttributes(attribute.Bool("ze.aborted", true))
	span.SetStatus(codes.Error, "call rejected by validation")
	span.End()
}
