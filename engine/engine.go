package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/config"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/handlers"
	"github.com/wippyai/callguard/registry"
)

// RealFunc is the wrapped implementation of one entry point. It writes new
// handles through call.Outputs, or appends to call.Enumerated for
// enumeration entry points.
type RealFunc func(ctx context.Context, call *chain.Call) error

// Dispatch maps entry point names to their implementation.
type Dispatch map[string]RealFunc

// Engine intercepts calls into a handle-based API: it runs the validation
// chain around the real function and keeps the handle registry in step with
// what the real function did. It is safe for concurrent use.
type Engine struct {
	table     *api.Table
	dispatch  Dispatch
	reg       *registry.Registry
	chain     *chain.Chain
	sink      diag.Sink
	teardown  diag.Sink // unthrottled; every leak is reported
	leaks     *handlers.BasicLeak
	onStage   StageFunc
	observers []CallObserver
	flags     config.Flags
	id        uuid.UUID
	nextID    atomic.Uint64
	closed    atomic.Bool
	inflight  sync.WaitGroup
	closeMu   sync.RWMutex
}

// New creates an engine for the entry points in table, calling into
// dispatch. The handler chain is built from the flags: parameter, lifetime,
// threading, basic leak, events, then any WithHandlers extras; tracing, when enabled,
// goes first so its span starts before any other prologue.
func New(table *api.Table, dispatch Dispatch, opts ...Option) (*Engine, error) {
	if table == nil {
		return nil, errors.NotInitialized(errors.PhaseDispatch, "entry point table")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.flagsIsSet {
		o.flags = config.Default()
	}
	if err := o.flags.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		table:     table,
		dispatch:  dispatch,
		flags:     o.flags,
		onStage:   o.onStage,
		observers: o.observers,
		id:        uuid.New(),
	}

	e.sink = o.sink
	if e.sink == nil {
		e.sink = diag.Discard
	}
	e.teardown = e.sink
	if o.flags.ReportRate > 0 {
		e.sink = diag.NewThrottle(e.sink, o.flags.ReportRate, o.flags.ReportBurst)
	}

	e.reg = o.reg
	if e.reg == nil {
		e.reg = registry.New(
			registry.WithStrictDependents(o.flags.StrictDependents),
			registry.WithMaxTombstones(o.flags.MaxTombstones),
		)
	}
	for _, obs := range o.handleObs {
		e.reg.Subscribe(obs)
	}

	e.chain = chain.New()
	if o.flags.Tracing && o.tracer != nil {
		e.chain.Append(handlers.NewTracing(o.tracer))
	}
	if o.flags.ParameterValidation {
		e.chain.Append(handlers.NewParameter())
	}
	if o.flags.HandleLifetime {
		e.chain.Append(handlers.NewLifetime(e.reg))
	}
	if o.flags.ThreadingValidation {
		e.chain.Append(handlers.NewThreading(e.reg, o.flags.SingleThreaded...))
	}
	if o.flags.BasicLeakChecker {
		e.leaks = handlers.NewBasicLeak(handlers.Rows(table))
		e.chain.Append(e.leaks)
	}
	if o.flags.EventsChecker {
		e.chain.Append(handlers.NewEvents(e.sink))
	}
	e.chain.Append(o.handlers...)

	Logger().Debug("engine created",
		zap.String("session", e.id.String()),
		zap.Int("entry_points", table.Len()),
		zap.Int("handlers", e.chain.Len()),
		zap.Bool("tracking", o.flags.Tracking()))

	return e, nil
}

// ID identifies this engine in reports and logs.
func (e *Engine) ID() uuid.UUID { return e.id }

// Registry returns the handle registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Chain returns the handler chain.
func (e *Engine) Chain() *chain.Chain { return e.chain }

// Table returns the entry point table.
func (e *Engine) Table() *api.Table { return e.table }

// Flags returns the flags the engine was built with.
func (e *Engine) Flags() config.Flags { return e.flags }

// BasicLeak returns the create/destroy counter, or nil when disabled.
func (e *Engine) BasicLeak() *handlers.BasicLeak { return e.leaks }

// NewCall builds a call descriptor for the named entry point.
func (e *Engine) NewCall(name string, inputs ...registry.Handle) (*chain.Call, error) {
	ep, ok := e.table.Lookup(name)
	if !ok {
		err := errors.Unsupported(errors.PhaseDispatch, fmt.Sprintf("entry point %s", name))
		e.report(diag.SeverityError, err)
		return nil, err
	}
	return chain.NewCall(ep, inputs...), nil
}

// Call builds a call for the named entry point and invokes it. The returned
// call carries the written outputs.
func (e *Engine) Call(ctx context.Context, name string, inputs ...registry.Handle) (*chain.Call, error) {
	call, err := e.NewCall(name, inputs...)
	if err != nil {
		return nil, err
	}
	return call, e.Invoke(ctx, call)
}

// Invoke intercepts call using the dispatch table. An entry point without an
// implementation fails with Unsupported before any handler runs.
func (e *Engine) Invoke(ctx context.Context, call *chain.Call) error {
	var fn RealFunc
	if call != nil && call.Entry != nil {
		fn = e.dispatch[call.Entry.Name]
	}
	return e.Intercept(ctx, call, fn)
}

// Intercept runs one call through the state machine:
//
//  1. prologue: every handler in order; the first failure is returned and
//     the real function is never called
//  2. real call
//  3. epilogue: handlers in order with the real result, stopping at the
//     first failure
//  4. registry updates for the outputs of a successful create or enumerate
//
// A destroy target is marked Retiring between prologue and real call and
// settled as soon as the real call returns, before the epilogue releases
// any pin; close and reset update the open flag at the same point.
//
// The real function's error wins over epilogue and registry failures; all
// failures go to the sink.
func (e *Engine) Intercept(ctx context.Context, call *chain.Call, fn RealFunc) error {
	e.closeMu.RLock()
	if e.closed.Load() {
		e.closeMu.RUnlock()
		return errors.NotInitialized(errors.PhaseDispatch, "engine")
	}
	e.inflight.Add(1)
	e.closeMu.RUnlock()
	defer e.inflight.Done()

	if call == nil || call.Entry == nil {
		return errors.InvalidArgument(errors.PhaseDispatch, "call without entry point")
	}
	if call.ID == 0 {
		call.ID = e.nextID.Add(1)
	}
	start := time.Now()
	st := StageNotStarted

	if fn == nil {
		err := errors.Unsupported(errors.PhaseDispatch, "no implementation").WithEntry(call.Entry.Name)
		e.report(diag.SeverityError, err)
		e.transition(call, &st, StageDone)
		e.finish(call, err, start)
		return err
	}

	e.transition(call, &st, StagePrologueRun)
	if err := e.chain.RunPrologue(ctx, call); err != nil {
		e.report(diag.SeverityError, err)
		e.transition(call, &st, StageDone)
		e.finish(call, err, start)
		return err
	}
	if err := ctx.Err(); err != nil {
		e.chain.Abort(ctx, call)
		e.transition(call, &st, StageDone)
		e.finish(call, err, start)
		return err
	}

	rt, reserveErr := e.reserve(call)
	if reserveErr != nil && e.flags.HandleLifetime {
		err := reserveErr
		e.report(diag.SeverityError, err)
		e.chain.Abort(ctx, call)
		e.transition(call, &st, StageDone)
		e.finish(call, err, start)
		return err
	}

	e.transition(call, &st, StageRealCallRun)
	realErr := fn(handlers.SpanContext(ctx, call), call)
	if realErr != nil {
		e.report(diag.SeverityInfo, fmt.Errorf("%s returned %w", call.Entry.Name, realErr))
	}
	trackErr := e.settle(call, rt, realErr)
	if trackErr == nil && realErr == nil {
		// Without lifetime checks the destroy still runs; the registry
		// failure is reported with the result.
		trackErr = reserveErr
	}

	e.transition(call, &st, StageEpilogueRun)
	epiErr := e.chain.RunEpilogue(ctx, call, realErr)
	if epiErr != nil {
		e.report(diag.SeverityError, epiErr)
	}

	if realErr == nil && e.flags.Tracking() && trackErr == nil {
		trackErr = e.track(call)
	}
	if trackErr != nil {
		e.report(diag.SeverityError, trackErr)
	}

	e.transition(call, &st, StageDone)
	err := merge(realErr, epiErr, trackErr)
	e.finish(call, err, start)
	return err
}

// merge applies the result rule: the real error wins, then the first
// epilogue or registry failure.
func merge(realErr, epiErr, trackErr error) error {
	if realErr != nil {
		return realErr
	}
	if epiErr != nil {
		return epiErr
	}
	return trackErr
}

func (e *Engine) transition(call *chain.Call, st *Stage, to Stage) {
	from := *st
	if !from.next(to) {
		// Programming error in the state machine itself.
		panic(fmt.Sprintf("engine: illegal stage transition %s -> %s", from, to))
	}
	*st = to
	if e.onStage != nil {
		e.onStage(call, from, to)
	}
	if diag.Enabled(e.sink, diag.SeverityTrace) {
		e.sink.Report(diag.SeverityTrace, fmt.Sprintf("%s: %s -> %s", call, from, to))
	}
}

func (e *Engine) finish(call *chain.Call, err error, start time.Time) {
	elapsed := time.Since(start)
	for _, obs := range e.observers {
		obs.OnCall(call, err, elapsed)
	}
	debugf("%s done in %s: %v", call, elapsed, err)
}

func (e *Engine) report(sev diag.Severity, err error) {
	if diag.Enabled(e.sink, sev) {
		e.sink.Report(sev, err.Error())
	}
}
