package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/config"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/registry"
)

// CallObserver is notified once per finished call, after the result is
// merged. Implementations must be safe for concurrent use.
type CallObserver interface {
	OnCall(call *chain.Call, err error, elapsed time.Duration)
}

// StageFunc is called on every stage transition of every call.
type StageFunc func(call *chain.Call, from, to Stage)

type options struct {
	flags      config.Flags
	sink       diag.Sink
	reg        *registry.Registry
	tracer     trace.TracerProvider
	handlers   []chain.Handler
	observers  []CallObserver
	handleObs  []registry.Observer
	onStage    StageFunc
	flagsIsSet bool
}

// Option configures an Engine.
type Option func(*options)

// WithFlags sets the validation flags. Without it config.Default() is used.
func WithFlags(f config.Flags) Option {
	return func(o *options) {
		o.flags = f
		o.flagsIsSet = true
	}
}

// WithSink sets the diagnostics sink. The default discards everything.
// When the flags set a report rate the sink is wrapped in a diag.Throttle.
func WithSink(s diag.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithRegistry uses an existing registry instead of creating one from the
// flags.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) {
		o.reg = r
	}
}

// WithTracerProvider sets the provider used when tracing is enabled.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithHandlers appends handlers after the built-in ones.
func WithHandlers(hs ...chain.Handler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, hs...)
	}
}

// WithCallObserver registers an observer for finished calls.
func WithCallObserver(obs CallObserver) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithHandleObserver subscribes an observer to the registry's lifecycle
// events.
func WithHandleObserver(obs registry.Observer) Option {
	return func(o *options) {
		o.handleObs = append(o.handleObs, obs)
	}
}

// WithStageHook installs a hook for stage transitions.
func WithStageHook(fn StageFunc) Option {
	return func(o *options) {
		o.onStage = fn
	}
}
