package engine

import (
	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

// track registers the handles a successful create or enumerate call wrote.
// Every output is tried; the first failure is returned.
func (e *Engine) track(call *chain.Call) error {
	ep := call.Entry
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = annotate(err, ep)
		}
	}

	switch ep.Kind {
	case api.KindCreate:
		for i, out := range ep.Outputs {
			h := call.OutputAt(i)
			if h == 0 {
				continue
			}
			var err error
			if out.Alias {
				err = e.reg.AddAlias(h, out.Class)
			} else {
				err = e.reg.Add(h, out.Class)
			}
			if err != nil {
				// The value belongs to another record; leave its links alone.
				keep(err)
				continue
			}
			if p := parentOf(call, out); p != 0 {
				keep(e.reg.AddDependent(p, h))
			}
		}

	case api.KindEnumerate:
		var out api.Output
		for _, o := range ep.Outputs {
			if o.Enumerated {
				out = o
				break
			}
		}
		parent := parentOf(call, out)
		for _, h := range call.Enumerated {
			if h == 0 {
				continue
			}
			keep(e.reg.Ensure(h, out.Class))
			if parent != 0 {
				keep(e.reg.AddDependent(parent, h))
			}
		}

	}
	return first
}

// reserve marks the target of a destroy call Retiring before the real call
// runs, so concurrent calls stop using it and a driver that recycles the
// value cannot collide with a stale Live record.
func (e *Engine) reserve(call *chain.Call) (registry.Retirement, error) {
	if call.Entry.Kind != api.KindDestroy || !e.flags.Tracking() {
		return registry.Retirement{}, nil
	}
	h := call.Target()
	if h == 0 {
		return registry.Retirement{}, nil
	}
	rt, err := e.reg.BeginRetire(h)
	if err != nil {
		var ee *errors.Error
		if errors.As(err, &ee) {
			err = ee.WithPhase(errors.PhasePrologue).WithEntry(call.Entry.Name)
		}
		return registry.Retirement{}, err
	}
	return rt, nil
}

// settle updates the state of the call's target right after the real call
// returns, while the prologue's pins are still held: the reserved retirement
// is committed or cancelled, and close/reset flip the open flag.
func (e *Engine) settle(call *chain.Call, rt registry.Retirement, realErr error) error {
	if realErr != nil {
		rt.Cancel()
		return nil
	}
	rt.Commit()
	if !e.flags.Tracking() {
		return nil
	}

	h := call.Target()
	if h == 0 {
		return nil
	}
	switch call.Entry.Kind {
	case api.KindClose:
		return annotate(e.reg.SetOpen(h, false), call.Entry)
	case api.KindReset:
		return annotate(e.reg.SetOpen(h, true), call.Entry)
	}
	return nil
}

// parentOf resolves the parent slot of out to a handle: an input slot, or an
// output slot written earlier in the same call.
func parentOf(call *chain.Call, out api.Output) registry.Handle {
	if out.Parent == "" {
		return 0
	}
	if i := call.Entry.InputIndex(out.Parent); i >= 0 {
		if i < len(call.Inputs) {
			return call.Inputs[i]
		}
		return 0
	}
	return call.Output(out.Parent)
}

func annotate(err error, ep *api.EntryPoint) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if errors.As(err, &e) {
		return e.WithPhase(errors.PhaseEpilogue).WithEntry(ep.Name)
	}
	return err
}
