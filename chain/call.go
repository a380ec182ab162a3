package chain

import (
	"fmt"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/registry"
)

// Call describes one intercepted call. Inputs and Outputs are aligned with
// the entry point's slots. The real function writes new handles through the
// Outputs pointers; enumeration calls append to Enumerated instead.
//
// A Call is owned by the goroutine running the interception and must not be
// shared.
type Call struct {
	Entry      *api.EntryPoint
	values     map[any]any
	Inputs     []registry.Handle
	Outputs    []*registry.Handle
	Enumerated []registry.Handle
	ID         uint64
}

// NewCall builds a call for ep with the given input handles. Every output slot
// gets its own zeroed storage.
func NewCall(ep *api.EntryPoint, inputs ...registry.Handle) *Call {
	c := &Call{
		Entry:  ep,
		Inputs: inputs,
	}
	if n := len(ep.Outputs); n > 0 {
		storage := make([]registry.Handle, n)
		c.Outputs = make([]*registry.Handle, n)
		for i := range storage {
			c.Outputs[i] = &storage[i]
		}
	}
	return c
}

// Name returns the entry point name.
func (c *Call) Name() string {
	if c.Entry == nil {
		return ""
	}
	return c.Entry.Name
}

// Input returns the handle passed in the named input slot, or 0.
func (c *Call) Input(name string) registry.Handle {
	i := c.Entry.InputIndex(name)
	if i < 0 || i >= len(c.Inputs) {
		return 0
	}
	return c.Inputs[i]
}

// Output returns the value written to the named output slot, or 0.
func (c *Call) Output(name string) registry.Handle {
	return c.OutputAt(c.Entry.OutputIndex(name))
}

// OutputAt returns the value of output slot i, or 0 when the slot is
// missing or its pointer is nil.
func (c *Call) OutputAt(i int) registry.Handle {
	if i < 0 || i >= len(c.Outputs) || c.Outputs[i] == nil {
		return 0
	}
	return *c.Outputs[i]
}

// Target returns the handle the entry point's lifetime effect applies to:
// the destroy target, or the command list being closed or reset.
func (c *Call) Target() registry.Handle {
	i := c.Entry.TargetIndex()
	if i < 0 || i >= len(c.Inputs) {
		return 0
	}
	return c.Inputs[i]
}

// Value returns per-call state stored by a handler.
func (c *Call) Value(key any) any {
	return c.values[key]
}

// SetValue stores per-call state. Handlers use unexported key types.
func (c *Call) SetValue(key, v any) {
	if c.values == nil {
		c.values = make(map[any]any, 2)
	}
	c.values[key] = v
}

func (c *Call) String() string {
	return fmt.Sprintf("call #%d %s", c.ID, c.Name())
}
