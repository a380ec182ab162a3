package handlers

import (
	"context"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

// Lifetime rejects calls whose input handles are unknown, destroyed, or
// depend on a destroyed ancestor. Destroy targets additionally go through
// ValidateRetire. Registry updates for outputs happen in the engine after
// the epilogue, so this handler has no epilogue work.
type Lifetime struct {
	reg *registry.Registry
}

func NewLifetime(reg *registry.Registry) *Lifetime {
	return &Lifetime{reg: reg}
}

func (l *Lifetime) Name() string { return NameLifetime }

func (l *Lifetime) Prologue(_ context.Context, call *chain.Call) error {
	ep := call.Entry
	target := ep.DestroyIndex()

	for i, slot := range ep.Inputs {
		h := input(call, i)
		if h == 0 {
			if slot.Optional {
				continue
			}
			return errors.NullHandle(errors.PhasePrologue, slot.Name).WithEntry(ep.Name)
		}

		var err error
		if i == target {
			err = l.reg.ValidateRetire(h)
		} else {
			err = l.reg.Validate(h)
		}
		if err != nil {
			return annotate(err, errors.PhasePrologue, call)
		}

		if slot.RequiresOpen || slot.RequiresClosed {
			open, err := l.reg.IsOpen(h)
			if err != nil {
				return annotate(err, errors.PhasePrologue, call)
			}
			if slot.RequiresOpen && !open {
				return errors.New(errors.PhasePrologue, errors.KindInvalidArgument).
					Handle(uintptr(h)).Class(slot.Class).Entry(ep.Name).
					Detail("%s is closed", slot.Name).
					Build()
			}
			if slot.RequiresClosed && open {
				return errors.New(errors.PhasePrologue, errors.KindInvalidArgument).
					Handle(uintptr(h)).Class(slot.Class).Entry(ep.Name).
					Detail("%s is still open", slot.Name).
					Build()
			}
		}
	}
	return nil
}

func (l *Lifetime) Epilogue(context.Context, *chain.Call, error) error {
	return nil
}
