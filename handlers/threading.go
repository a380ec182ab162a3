package handlers

import (
	"context"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

type pinsKey struct{}

// Threading detects calls that race on the same handle. Each input is pinned
// from prologue to epilogue: destroy targets, the first input of Exclusive
// entry points, and handles of single-threaded classes take exclusive pins;
// everything else shares. An incompatible overlap fails with ThreadConflict.
//
// Unknown or destroyed handles are left to the lifetime handler.
type Threading struct {
	reg     *registry.Registry
	classes map[string]bool
}

// NewThreading creates the handler. Handles of the given classes are always
// pinned exclusively.
func NewThreading(reg *registry.Registry, singleThreaded ...string) *Threading {
	t := &Threading{
		reg:     reg,
		classes: make(map[string]bool, len(singleThreaded)),
	}
	for _, c := range singleThreaded {
		t.classes[c] = true
	}
	return t
}

func (t *Threading) Name() string { return NameThreading }

func (t *Threading) Prologue(_ context.Context, call *chain.Call) error {
	ep := call.Entry
	target := ep.DestroyIndex()

	var pins []registry.Pin
	for i, slot := range ep.Inputs {
		h := input(call, i)
		if h == 0 || pinned(pins, h) {
			continue
		}
		exclusive := i == target || (i == 0 && ep.Exclusive) || t.classes[slot.Class]

		pin, err := t.reg.Pin(h, exclusive)
		if err != nil {
			if errors.Is(err, errors.ErrThreadConflict) {
				release(pins)
				return annotate(err, errors.PhasePrologue, call)
			}
			continue
		}
		pins = append(pins, pin)
	}

	if len(pins) > 0 {
		call.SetValue(pinsKey{}, pins)
	}
	return nil
}

func (t *Threading) Epilogue(_ context.Context, call *chain.Call, _ error) error {
	t.drop(call)
	return nil
}

func (t *Threading) Abort(_ context.Context, call *chain.Call) {
	t.drop(call)
}

func (t *Threading) drop(call *chain.Call) {
	pins, _ := call.Value(pinsKey{}).([]registry.Pin)
	release(pins)
	call.SetValue(pinsKey{}, nil)
}

func pinned(pins []registry.Pin, h registry.Handle) bool {
	for _, p := range pins {
		if p.Handle() == h {
			return true
		}
	}
	return false
}

func release(pins []registry.Pin) {
	for i := len(pins) - 1; i >= 0; i-- {
		pins[i].Release()
	}
}
