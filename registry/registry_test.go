package registry

import (
	"sync"
	"testing"

	"github.com/wippyai/callguard/errors"
)

type testObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *testObserver) OnHandleEvent(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func TestRegistry_Basic(t *testing.T) {
	r := New()

	if err := r.Add(0x1000, "Context"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Validate(0x1000); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	info, ok := r.Lookup(0x1000)
	if !ok {
		t.Fatal("Lookup failed")
	}
	if info.Class != "Context" || info.State != StateLive {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := r.Retire(0x1000); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}
	if err := r.Validate(0x1000); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("Validate after Retire = %v, want use_after_destroy", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_ValidateUnknown(t *testing.T) {
	r := New()
	if err := r.Validate(0xdead); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Validate = %v, want unknown_handle", err)
	}
}

func TestRegistry_NullHandle(t *testing.T) {
	r := New()
	if err := r.Add(0, "Context"); !errors.Is(err, errors.ErrNullHandle) {
		t.Fatalf("Add(0) = %v, want null_handle", err)
	}
	if err := r.Validate(0); !errors.Is(err, errors.ErrNullHandle) {
		t.Fatalf("Validate(0) = %v, want null_handle", err)
	}
	if err := r.Retire(0); !errors.Is(err, errors.ErrNullHandle) {
		t.Fatalf("Retire(0) = %v, want null_handle", err)
	}
}

func TestRegistry_AddTwiceRejected(t *testing.T) {
	r := New()
	if err := r.Add(0x10, "Event"); err != nil {
		t.Fatal(err)
	}
	err := r.Add(0x10, "Event")
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("second Add = %v, want already_exists", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RetireTwice(t *testing.T) {
	r := New()
	r.Add(0x10, "Fence")
	if err := r.Retire(0x10); err != nil {
		t.Fatal(err)
	}
	if err := r.Retire(0x10); !errors.Is(err, errors.ErrDoubleDestroy) {
		t.Fatalf("second Retire = %v, want double_destroy", err)
	}
}

func TestRegistry_RetireUnknown(t *testing.T) {
	r := New()
	if err := r.Retire(0x77); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Retire = %v, want unknown_handle", err)
	}
}

func TestRegistry_AddressReuse(t *testing.T) {
	r := New()
	r.Add(0x100, "EventPool")
	r.Add(0x200, "Event")
	if err := r.AddDependent(0x100, 0x200); err != nil {
		t.Fatal(err)
	}
	r.Retire(0x100)

	// The driver hands the same address out again for a new pool.
	if err := r.Add(0x100, "EventPool"); err != nil {
		t.Fatalf("re-Add of recycled address failed: %v", err)
	}
	if err := r.Validate(0x100); err != nil {
		t.Fatalf("new incarnation must be valid: %v", err)
	}
	// The event still belongs to the destroyed pool.
	if err := r.Validate(0x200); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("Validate(child of old incarnation) = %v, want use_after_destroy", err)
	}
	if got := r.Stats().Tombstones; got != 0 {
		t.Fatalf("Tombstones = %d, want 0 after replacement", got)
	}
}

func TestRegistry_Ensure(t *testing.T) {
	r := New()
	if err := r.Ensure(0x1, "Device"); err != nil {
		t.Fatal(err)
	}
	if err := r.Ensure(0x1, "Device"); err != nil {
		t.Fatalf("repeat Ensure with same class = %v, want nil", err)
	}
	if err := r.Ensure(0x1, "Context"); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("Ensure with other class = %v, want already_exists", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_AliasRetire(t *testing.T) {
	r := New()
	r.AddAlias(0x40, "CommandList")

	if err := r.Validate(0x40); err != nil {
		t.Fatalf("alias must be usable: %v", err)
	}
	if err := r.ValidateRetire(0x40); !errors.Is(err, errors.ErrAliasMisuse) {
		t.Fatalf("ValidateRetire(alias) = %v, want alias_misuse", err)
	}
	if leaks := r.SnapshotLeaks(); len(leaks) != 0 {
		t.Fatalf("alias must not be reported as leak, got %v", leaks)
	}
}

func TestRegistry_ValidateRetire(t *testing.T) {
	r := New()
	r.Add(0x1, "Context")
	r.Add(0x2, "CommandQueue")
	r.AddDependent(0x1, 0x2)

	if err := r.ValidateRetire(0x1); err != nil {
		t.Fatalf("lenient ValidateRetire with live dependent = %v, want nil", err)
	}
	r.Retire(0x1)
	if err := r.ValidateRetire(0x1); !errors.Is(err, errors.ErrDoubleDestroy) {
		t.Fatalf("ValidateRetire(destroyed) = %v, want double_destroy", err)
	}
	if err := r.ValidateRetire(0x2); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("ValidateRetire(orphan) = %v, want use_after_destroy", err)
	}
}

func TestRegistry_StrictDependents(t *testing.T) {
	r := New(WithStrictDependents(true))
	r.Add(0x1, "Module")
	r.Add(0x2, "Kernel")
	r.AddDependent(0x1, 0x2)

	if err := r.ValidateRetire(0x1); !errors.Is(err, errors.ErrInUse) {
		t.Fatalf("ValidateRetire = %v, want in_use", err)
	}
	r.Retire(0x2)
	if err := r.ValidateRetire(0x1); err != nil {
		t.Fatalf("ValidateRetire after dependent retired = %v, want nil", err)
	}
}

func TestRegistry_SnapshotLeaks(t *testing.T) {
	r := New()
	r.Add(0xA, "Context")
	r.Add(0xB, "Context")
	r.Retire(0xA)

	leaks := r.SnapshotLeaks()
	if len(leaks) != 1 || leaks[0].Handle != 0xB {
		t.Fatalf("SnapshotLeaks = %v, want exactly {0xb}", leaks)
	}
}

func TestRegistry_SnapshotLeaksCreationOrder(t *testing.T) {
	r := New()
	handles := []Handle{0x50, 0x10, 0x40, 0x20, 0x30}
	for _, h := range handles {
		r.Add(h, "Event")
	}

	for run := 0; run < 5; run++ {
		leaks := r.SnapshotLeaks()
		if len(leaks) != len(handles) {
			t.Fatalf("got %d leaks, want %d", len(leaks), len(handles))
		}
		for i, l := range leaks {
			if l.Handle != handles[i] {
				t.Fatalf("run %d: leak[%d] = %s, want %s", run, i, l.Handle, handles[i])
			}
		}
	}
}

func TestRegistry_MaxTombstones(t *testing.T) {
	r := New(WithMaxTombstones(2))
	for h := Handle(1); h <= 3; h++ {
		r.Add(h, "Sampler")
		r.Retire(h)
	}

	// Oldest tombstone was forgotten.
	if err := r.Validate(1); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Validate(evicted) = %v, want unknown_handle", err)
	}
	if err := r.Retire(1); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Retire(evicted) = %v, want unknown_handle", err)
	}
	if err := r.Retire(3); !errors.Is(err, errors.ErrDoubleDestroy) {
		t.Fatalf("Retire(kept) = %v, want double_destroy", err)
	}

	st := r.Stats()
	if st.Tombstones != 2 || st.Forgotten != 1 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestRegistry_Forget(t *testing.T) {
	r := New()
	r.Add(0x9, "Image")

	if r.Forget(0x9) {
		t.Fatal("Forget must not drop a live handle")
	}
	r.Retire(0x9)
	if !r.Forget(0x9) {
		t.Fatal("Forget of tombstone failed")
	}
	if err := r.Validate(0x9); !errors.Is(err, errors.ErrUnknownHandle) {
		t.Fatalf("Validate = %v, want unknown_handle", err)
	}
}

func TestRegistry_OpenState(t *testing.T) {
	r := New()
	r.Add(0x5, "CommandList")

	open, err := r.IsOpen(0x5)
	if err != nil || !open {
		t.Fatalf("IsOpen = %v, %v; want true, nil", open, err)
	}
	if err := r.SetOpen(0x5, false); err != nil {
		t.Fatal(err)
	}
	if open, _ := r.IsOpen(0x5); open {
		t.Fatal("expected closed")
	}
	r.Retire(0x5)
	if err := r.SetOpen(0x5, true); !errors.Is(err, errors.ErrUseAfterDestroy) {
		t.Fatalf("SetOpen(destroyed) = %v, want use_after_destroy", err)
	}
}

func TestRegistry_Observer(t *testing.T) {
	r := New(WithMaxTombstones(1))
	obs := &testObserver{}
	r.Subscribe(obs)

	r.Add(0x1, "Context")
	r.Retire(0x1)
	r.Add(0x2, "Context")
	r.Retire(0x2) // evicts 0x1

	want := []EventType{EventCreated, EventRetired, EventCreated, EventRetired, EventForgotten}
	if len(obs.events) != len(want) {
		t.Fatalf("got %d events, want %d", len(obs.events), len(want))
	}
	for i, typ := range want {
		if obs.events[i].Type != typ {
			t.Fatalf("event[%d] = %s, want %s", i, obs.events[i].Type, typ)
		}
	}
	if obs.events[4].Handle != 0x1 {
		t.Fatalf("forgotten handle = %s, want 0x1", obs.events[4].Handle)
	}

	r.Unsubscribe(obs)
	r.Add(0x3, "Context")
	if len(obs.events) != len(want) {
		t.Fatal("observer still notified after Unsubscribe")
	}
}

func TestRegistry_Each(t *testing.T) {
	r := New()
	r.Add(0x3, "Event")
	r.Add(0x1, "Event")
	r.Add(0x2, "Event")
	r.Retire(0x1)

	var seen []Handle
	r.Each(func(info Info) bool {
		seen = append(seen, info.Handle)
		return true
	})
	if len(seen) != 2 || seen[0] != 0x3 || seen[1] != 0x2 {
		t.Fatalf("Each visited %v, want [0x3 0x2]", seen)
	}

	count := 0
	r.Each(func(Info) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Each did not stop early, visited %d", count)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			base := Handle((id + 1) << 20)
			for i := 0; i < perWorker; i++ {
				h := base + Handle(i)
				if err := r.Add(h, "Event"); err != nil {
					errs <- err
					return
				}
				if err := r.Validate(h); err != nil {
					errs <- err
					return
				}
				if err := r.Retire(h); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("cross-talk between workers: %v", err)
	}

	if leaks := r.SnapshotLeaks(); len(leaks) != 0 {
		t.Fatalf("expected no leaks, got %d", len(leaks))
	}
	st := r.Stats()
	if st.Created != workers*perWorker || st.Retired != workers*perWorker {
		t.Fatalf("Stats = %+v", st)
	}
}

func BenchmarkRegistry_Validate(b *testing.B) {
	r := New()
	r.Add(0x1, "Driver")
	r.Add(0x2, "Context")
	r.Add(0x3, "CommandList")
	r.AddDependent(0x1, 0x2)
	r.AddDependent(0x2, 0x3)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := r.Validate(0x3); err != nil {
				b.Fatal(err)
			}
		}
	})
}
