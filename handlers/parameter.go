package handlers

import (
	"context"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
)

// Parameter checks call shape without consulting the registry: required
// handle arguments must be non-null and required output slots must have
// somewhere to write to.
type Parameter struct{}

func NewParameter() *Parameter {
	return &Parameter{}
}

func (p *Parameter) Name() string { return NameParameter }

func (p *Parameter) Prologue(_ context.Context, call *chain.Call) error {
	ep := call.Entry
	if len(call.Inputs) > len(ep.Inputs) {
		return errors.InvalidArgument(errors.PhasePrologue, "too many handle arguments").WithEntry(ep.Name)
	}
	for i, slot := range ep.Inputs {
		if !slot.Optional && input(call, i) == 0 {
			return errors.NullHandle(errors.PhasePrologue, slot.Name).WithEntry(ep.Name)
		}
	}
	for i, slot := range ep.Outputs {
		if slot.Optional || slot.Enumerated {
			continue
		}
		if i >= len(call.Outputs) || call.Outputs[i] == nil {
			return errors.NullPointer(errors.PhasePrologue, slot.Name).WithEntry(ep.Name)
		}
	}
	return nil
}

func (p *Parameter) Epilogue(context.Context, *chain.Call, error) error {
	return nil
}
