// Package api describes the entry points of the wrapped handle-based API as
// data: which handle classes each call consumes, which it creates, and which
// it destroys. One table replaces the per-function wrappers a code generator
// would otherwise emit.
package api

import "fmt"

// Kind is the lifetime effect of an entry point.
type Kind string

const (
	KindCreate    Kind = "create"    // writes new handles to output slots
	KindDestroy   Kind = "destroy"   // retires the handle in the Destroys slot
	KindUse       Kind = "use"       // reads handles only
	KindClose     Kind = "close"     // marks a command list closed
	KindReset     Kind = "reset"     // reopens a command list
	KindEnumerate Kind = "enumerate" // returns the same handles on every call
)

func (k Kind) valid() bool {
	switch k {
	case KindCreate, KindDestroy, KindUse, KindClose, KindReset, KindEnumerate:
		return true
	}
	return false
}

// Input is a handle argument of an entry point. RequiresOpen and
// RequiresClosed constrain the open flag of command-list style handles.
type Input struct {
	Name           string `yaml:"name"`
	Class          string `yaml:"class"`
	Optional       bool   `yaml:"optional,omitempty"`
	RequiresOpen   bool   `yaml:"requires_open,omitempty"`
	RequiresClosed bool   `yaml:"requires_closed,omitempty"`
	// Signal marks an event the call signals when it completes; Reset an
	// event it returns to the unsignalled state.
	Signal bool `yaml:"signal,omitempty"`
	Reset  bool `yaml:"reset,omitempty"`
}

// Output is a slot the real function writes a new handle into.
// Parent names an input slot, or an earlier output slot, the new handle
// depends on.
type Output struct {
	Name       string `yaml:"name"`
	Class      string `yaml:"class"`
	Parent     string `yaml:"parent,omitempty"`
	Alias      bool   `yaml:"alias,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
	Enumerated bool   `yaml:"enumerated,omitempty"`
}

// EntryPoint is the metadata of one API function.
type EntryPoint struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Inputs   []Input  `yaml:"inputs,omitempty"`
	Outputs  []Output `yaml:"outputs,omitempty"`
	Destroys string   `yaml:"destroys,omitempty"`

	// Exclusive marks entry points that mutate their first input without
	// internal locking; concurrent calls on that handle are a race.
	Exclusive bool `yaml:"exclusive,omitempty"`
}

// InputIndex returns the position of the named input slot, or -1.
func (ep *EntryPoint) InputIndex(name string) int {
	for i, in := range ep.Inputs {
		if in.Name == name {
			return i
		}
	}
	return -1
}

// OutputIndex returns the position of the named output slot, or -1.
func (ep *EntryPoint) OutputIndex(name string) int {
	for i, out := range ep.Outputs {
		if out.Name == name {
			return i
		}
	}
	return -1
}

// DestroyIndex returns the input position of the destroy target, or -1.
func (ep *EntryPoint) DestroyIndex() int {
	if ep.Kind != KindDestroy {
		return -1
	}
	return ep.InputIndex(ep.Destroys)
}

// TargetIndex returns the input position the lifetime effect applies to:
// the destroy target for destroy calls, the first input for close and reset.
func (ep *EntryPoint) TargetIndex() int {
	switch ep.Kind {
	case KindDestroy:
		return ep.DestroyIndex()
	case KindClose, KindReset:
		if len(ep.Inputs) > 0 {
			return 0
		}
	}
	return -1
}

func (ep *EntryPoint) String() string {
	return fmt.Sprintf("%s(%s)", ep.Name, ep.Kind)
}

// Check reports the first inconsistency in the slot declarations.
func (ep *EntryPoint) Check() error {
	if ep.Name == "" {
		return fmt.Errorf("entry point without name")
	}
	if !ep.Kind.valid() {
		return fmt.Errorf("%s: unknown kind %q", ep.Name, ep.Kind)
	}

	seen := make(map[string]bool, len(ep.Inputs)+len(ep.Outputs))
	for _, in := range ep.Inputs {
		if in.Name == "" || in.Class == "" {
			return fmt.Errorf("%s: input needs name and class", ep.Name)
		}
		if seen[in.Name] {
			return fmt.Errorf("%s: duplicate slot %q", ep.Name, in.Name)
		}
		if in.RequiresOpen && in.RequiresClosed {
			return fmt.Errorf("%s: input %q cannot require open and closed", ep.Name, in.Name)
		}
		seen[in.Name] = true
	}
	for i, out := range ep.Outputs {
		if out.Name == "" || out.Class == "" {
			return fmt.Errorf("%s: output needs name and class", ep.Name)
		}
		if seen[out.Name] {
			return fmt.Errorf("%s: duplicate slot %q", ep.Name, out.Name)
		}
		if out.Parent != "" && ep.InputIndex(out.Parent) < 0 {
			if j := ep.OutputIndex(out.Parent); j < 0 || j >= i {
				return fmt.Errorf("%s: output %q has unknown parent %q", ep.Name, out.Name, out.Parent)
			}
		}
		if out.Enumerated && ep.Kind != KindEnumerate {
			return fmt.Errorf("%s: enumerated output %q on %s entry point", ep.Name, out.Name, ep.Kind)
		}
		seen[out.Name] = true
	}

	switch ep.Kind {
	case KindDestroy:
		if ep.Destroys == "" {
			return fmt.Errorf("%s: destroy entry point without destroys slot", ep.Name)
		}
		idx := ep.InputIndex(ep.Destroys)
		if idx < 0 {
			return fmt.Errorf("%s: destroys unknown slot %q", ep.Name, ep.Destroys)
		}
		if ep.Inputs[idx].Optional {
			return fmt.Errorf("%s: destroy target %q cannot be optional", ep.Name, ep.Destroys)
		}
	case KindClose, KindReset:
		if len(ep.Inputs) == 0 {
			return fmt.Errorf("%s: %s entry point needs a target input", ep.Name, ep.Kind)
		}
	case KindCreate:
		if len(ep.Outputs) == 0 {
			return fmt.Errorf("%s: create entry point without outputs", ep.Name)
		}
	case KindEnumerate:
		if len(ep.Outputs) != 1 || !ep.Outputs[0].Enumerated {
			return fmt.Errorf("%s: enumerate entry point needs exactly one enumerated output", ep.Name)
		}
	}
	if ep.Destroys != "" && ep.Kind != KindDestroy {
		return fmt.Errorf("%s: destroys set on %s entry point", ep.Name, ep.Kind)
	}
	return nil
}
