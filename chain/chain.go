// Package chain runs an ordered list of validation handlers around an
// intercepted call.
//
// Every handler sees the call twice: Prologue before the real function and
// Epilogue after it. A nil error means continue; the first non-nil error
// stops the stage.
//
//	c := chain.New(lifetime, params)
//	if err := c.RunPrologue(ctx, call); err != nil {
//		return err // real function not called
//	}
//	realErr := fn(ctx, call)
//	epiErr := c.RunEpilogue(ctx, call, realErr)
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/callguard/errors"
)

// Handler is one validation step.
type Handler interface {
	Name() string
	Prologue(ctx context.Context, call *Call) error
	Epilogue(ctx context.Context, call *Call, result error) error
}

// Aborter is implemented by handlers that keep per-call state between
// Prologue and Epilogue. Abort is called instead of Epilogue when the call
// stops after the handler's Prologue passed.
type Aborter interface {
	Abort(ctx context.Context, call *Call)
}

// HandlerError annotates a failure with the handler that produced it.
type HandlerError struct {
	Err     error
	Handler string
	Phase   errors.Phase
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Handler, e.Phase, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Chain is an ordered handler list. Handlers may be appended while calls are
// running; a running stage keeps the list it started with.
type Chain struct {
	handlers []Handler
	mu       sync.RWMutex
}

// New creates a chain with handlers in registration order.
func New(handlers ...Handler) *Chain {
	c := &Chain{}
	for _, h := range handlers {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
	return c
}

// Append adds handlers to the end of the chain.
func (c *Chain) Append(handlers ...Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]Handler, len(c.handlers), len(c.handlers)+len(handlers))
	copy(next, c.handlers)
	for _, h := range handlers {
		if h != nil {
			next = append(next, h)
		}
	}
	c.handlers = next
}

// Handlers returns the current handler list.
func (c *Chain) Handlers() []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Handler, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// Len returns the number of handlers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

func (c *Chain) snapshot() []Handler {
	c.mu.RLock()
	hs := c.handlers
	c.mu.RUnlock()
	return hs
}

// RunPrologue runs every Prologue in order and stops at the first failure.
// Handlers whose Prologue already passed are aborted in reverse order
// before the failure is returned.
func (c *Chain) RunPrologue(ctx context.Context, call *Call) error {
	hs := c.snapshot()
	for i, h := range hs {
		if err := h.Prologue(ctx, call); err != nil {
			abort(ctx, call, hs[:i])
			return &HandlerError{Handler: h.Name(), Phase: errors.PhasePrologue, Err: err}
		}
	}
	return nil
}

// RunEpilogue runs every Epilogue in order with the real call's result and
// stops at the first failure.
func (c *Chain) RunEpilogue(ctx context.Context, call *Call, result error) error {
	hs := c.snapshot()
	for i, h := range hs {
		if err := h.Epilogue(ctx, call, result); err != nil {
			// Later handlers never see this call again; let them drop state.
			abort(ctx, call, hs[i+1:])
			return &HandlerError{Handler: h.Name(), Phase: errors.PhaseEpilogue, Err: err}
		}
	}
	return nil
}

// Abort aborts every handler in reverse order. It is used when a call stops
// between a passed prologue and the real function.
func (c *Chain) Abort(ctx context.Context, call *Call) {
	abort(ctx, call, c.snapshot())
}

func abort(ctx context.Context, call *Call, hs []Handler) {
	for i := len(hs) - 1; i >= 0; i-- {
		if a, ok := hs[i].(Aborter); ok {
			a.Abort(ctx, call)
		}
	}
}

// Funcs adapts plain functions to a Handler. Nil functions pass.
type Funcs struct {
	OnPrologue func(ctx context.Context, call *Call) error
	OnEpilogue func(ctx context.Context, call *Call, result error) error
	OnAbort    func(ctx context.Context, call *Call)
	ID         string
}

func (f *Funcs) Name() string {
	return f.ID
}

func (f *Funcs) Prologue(ctx context.Context, call *Call) error {
	if f.OnPrologue == nil {
		return nil
	}
	return f.OnPrologue(ctx, call)
}

func (f *Funcs) Epilogue(ctx context.Context, call *Call, result error) error {
	if f.OnEpilogue == nil {
		return nil
	}
	return f.OnEpilogue(ctx, call, result)
}

func (f *Funcs) Abort(ctx context.Context, call *Call) {
	if f.OnAbort != nil {
		f.OnAbort(ctx, call)
	}
}
