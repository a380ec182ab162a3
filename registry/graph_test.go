package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/callguard/errors"
)

func TestGraph_CycleRejected(t *testing.T) {
	r := New()
	r.Add(0xA, "Context")
	r.Add(0xB, "CommandQueue")

	if err := r.AddDependent(0xA, 0xB); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDependent(0xB, 0xA); !errors.Is(err, errors.ErrCycleRejected) {
		t.Fatalf("AddDependent(b, a) = %v, want cycle_rejected", err)
	}
	if err := r.AddDependent(0xA, 0xA); !errors.Is(err, errors.ErrCycleRejected) {
		t.Fatalf("self-dependency = %v, want cycle_rejected", err)
	}

	// Graph is unchanged by the rejected links.
	if anc := r.Ancestors(0xA); len(anc) != 0 {
		t.Fatalf("Ancestors(a) = %v, want none", anc)
	}
}

func TestGraph_LongerCycle(t *testing.T) {
	r := New()
	for h := Handle(1); h <= 4; h++ {
		r.Add(h, "Node")
	}
	r.AddDependent(1, 2)
	r.AddDependent(2, 3)
	r.AddDependent(3, 4)

	if err := r.AddDependent(4, 1); !errors.Is(err, errors.ErrCycleRejected) {
		t.Fatalf("AddDependent(4, 1) = %v, want cycle_rejected", err)
	}
}

func TestGraph_ParentConflict(t *testing.T) {
	r := New()
	r.Add(0x1, "Context")
	r.Add(0x2, "Context")
	r.Add(0x3, "Event")

	if err := r.AddDependent(0x1, 0x3); err != nil {
		t.Fatal(err)
	}
	if err := r.AddDependent(0x1, 0x3); err != nil {
		t.Fatalf("relinking the same pair = %v, want nil", err)
	}
	if err := r.AddDependent(0x2, 0x3); !errors.Is(err, errors.ErrParentConflict) {
		t.Fatalf("second parent = %v, want parent_conflict", err)
	}
}

func TestGraph_DependentRequiresLive(t *testing.T) {
	r := New()
	r.Add(0x1, "Context")
	r.Add(0x2, "Event")
	r.Retire(0x1)

	if err := r.AddDependent(0x1, 0x2); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("AddDependent(destroyed, live) = %v, want use_after_destroy", err)
	}
	if err := r.AddDependent(0x9, 0x2); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("AddDependent(unknown, live) = %v, want unknown_handle", err)
	}
	if err := r.AddDependent(0, 0x2); !errors.Is(err, errors.ErrNullHandle) {
		t.Fatalf("AddDependent(0, live) = %v, want null_handle", err)
	}
}

func TestGraph_TransitiveUseAfterDestroy(t *testing.T) {
	r := New()
	r.Add(0x1, "Driver")
	r.Add(0x2, "Context")
	r.Add(0x3, "CommandList")
	r.AddDependent(0x1, 0x2)
	r.AddDependent(0x2, 0x3)

	r.Retire(0x1)

	err := r.Validate(0x3)
	if !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("Validate(grandchild) = %v, want use_after_destroy", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if e.Handle != 0x3 {
		t.Fatalf("error handle = %#x, want 0x3", e.Handle)
	}
}

func TestGraph_RemoveDependent(t *testing.T) {
	r := New()
	r.Add(0x1, "Context")
	r.Add(0x2, "Event")
	r.AddDependent(0x1, 0x2)

	if err := r.RemoveDependent(0x1, 0x2); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveDependent(0x1, 0x2); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("second RemoveDependent = %v, want invalid_argument", err)
	}

	r.Retire(0x1)
	if err := r.Validate(0x2); err != nil {
		t.Fatalf("unlinked child must survive parent destroy: %v", err)
	}
}

func TestGraph_AncestorsAndDependents(t *testing.T) {
	r := New()
	r.Add(0x1, "Context")
	r.Add(0x2, "EventPool")
	r.Add(0x4, "Event")
	r.Add(0x3, "Event")
	r.AddDependent(0x1, 0x2)
	r.AddDependent(0x2, 0x4)
	r.AddDependent(0x2, 0x3)

	anc := r.Ancestors(0x3)
	if len(anc) != 2 || anc[0] != 0x2 || anc[1] != 0x1 {
		t.Fatalf("Ancestors = %v, want [0x2 0x1]", anc)
	}

	deps := r.Dependents(0x2)
	if len(deps) != 2 || deps[0] != 0x4 || deps[1] != 0x3 {
		t.Fatalf("Dependents = %v, want [0x4 0x3]", deps)
	}

	r.Retire(0x4)
	if deps := r.Dependents(0x2); len(deps) != 1 || deps[0] != 0x3 {
		t.Fatalf("Dependents after Retire = %v, want [0x3]", deps)
	}

	info, _ := r.Lookup(0x3)
	if info.Parent != 0x2 {
		t.Fatalf("Parent = %s, want 0x2", info.Parent)
	}
}

func TestPin_SharedAndExclusive(t *testing.T) {
	r := New()
	r.Add(0x1, "CommandList")

	a, err := r.Pin(0x1, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Pin(0x1, false)
	if err != nil {
		t.Fatalf("second shared pin = %v", err)
	}
	if got := r.Pins(0x1); got != 2 {
		t.Fatalf("Pins = %d, want 2", got)
	}
	if _, err := r.Pin(0x1, true); !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("exclusive over shared = %v, want thread_conflict", err)
	}

	a.Release()
	b.Release()

	x, err := r.Pin(0x1, true)
	if err != nil {
		t.Fatalf("exclusive pin = %v", err)
	}
	if x.Handle() != 0x1 {
		t.Fatalf("Handle() = %s", x.Handle())
	}
	if _, err := r.Pin(0x1, false); !errors.Is(err, errors.ErrThreadConflict) {
		t.Fatalf("shared over exclusive = %v, want thread_conflict", err)
	}
	x.Release()
	if got := r.Pins(0x1); got != 0 {
		t.Fatalf("Pins after release = %d, want 0", got)
	}

	var zero Pin
	zero.Release()
}

func TestPin_Unusable(t *testing.T) {
	r := New()
	if _, err := r.Pin(0x5, false); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Pin(unknown) = %v", err)
	}
	r.Add(0x5, "Event")
	r.Retire(0x5)
	if _, err := r.Pin(0x5, true); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("Pin(destroyed) = %v", err)
	}
}

func TestPin_ConcurrentExclusive(t *testing.T) {
	r := New()
	r.Add(0x1, "CommandList")

	var held atomic.Int32
	var maxHeld atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p, err := r.Pin(0x1, true)
				if err != nil {
					continue
				}
				n := held.Add(1)
				if n > maxHeld.Load() {
					maxHeld.Store(n)
				}
				held.Add(-1)
				p.Release()
			}
		}()
	}
	wg.Wait()

	if maxHeld.Load() > 1 {
		t.Fatalf("exclusive pin held by %d goroutines at once", maxHeld.Load())
	}
}
