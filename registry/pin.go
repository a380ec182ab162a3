package registry

import (
	"fmt"

	"github.com/wippyai/callguard/errors"
)

// Pin marks a handle as in use by one in-flight call. Shared pins may
// overlap; an exclusive pin excludes every other pin. Pins live on the
// record, so a pin taken before the handle was recycled never affects the
// new record.
type Pin struct {
	e         *entry
	exclusive bool
}

// Pin takes a shared or exclusive pin on a live handle. It fails with
// ThreadConflict when the pin would overlap an incompatible one, and with
// UnknownHandle or UseAfterDestroy when the handle is not usable.
func (r *Registry) Pin(h Handle, exclusive bool) (Pin, error) {
	r.mu.RLock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.RUnlock()
		return Pin{}, errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if e.state != StateLive {
		r.mu.RUnlock()
		return Pin{}, errors.UseAfterDestroy(errors.PhaseRegistry, uintptr(h), e.class, 0)
	}
	r.mu.RUnlock()

	if exclusive {
		if !e.pins.CompareAndSwap(0, -1) {
			return Pin{}, errors.ThreadConflict(errors.PhaseRegistry, uintptr(h), e.class, describePins(e.pins.Load()))
		}
		return Pin{e: e, exclusive: true}, nil
	}

	for {
		v := e.pins.Load()
		if v < 0 {
			return Pin{}, errors.ThreadConflict(errors.PhaseRegistry, uintptr(h), e.class, describePins(v))
		}
		if e.pins.CompareAndSwap(v, v+1) {
			return Pin{e: e}, nil
		}
	}
}

// Release drops the pin. Releasing the zero Pin is a no-op.
func (p Pin) Release() {
	if p.e == nil {
		return
	}
	if p.exclusive {
		p.e.pins.Store(0)
		return
	}
	p.e.pins.Add(-1)
}

// Handle returns the pinned handle.
func (p Pin) Handle() Handle {
	if p.e == nil {
		return 0
	}
	return p.e.handle
}

// Pins returns the current pin count of h: positive for shared holders,
// -1 for an exclusive holder.
func (r *Registry) Pins(h Handle) int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return 0
	}
	return e.pins.Load()
}

func describePins(v int32) string {
	if v < 0 {
		return "held exclusively by a concurrent call"
	}
	return fmt.Sprintf("in use by %d concurrent call(s)", v)
}
