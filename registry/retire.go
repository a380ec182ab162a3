package registry

import "github.com/wippyai/callguard/errors"

// Retirement is a destroy in flight. BeginRetire marks the target Retiring
// before the real destroy runs; once the result is known the caller either
// commits it (Live -> Destroyed) or cancels it (back to Live). While
// Retiring the handle and every dependent fail Validate, and a second
// destroy reports DoubleDestroy.
type Retirement struct {
	r *Registry
	e *entry
}

// BeginRetire applies the ValidateRetire checks and marks h Retiring in one
// step, so two concurrent destroys of h cannot both pass.
func (r *Registry) BeginRetire(h Handle) (Retirement, error) {
	if h == 0 {
		return Retirement{}, errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h]
	if !ok {
		return Retirement{}, errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if err := r.retirableLocked(e); err != nil {
		return Retirement{}, err
	}
	e.state = StateRetiring
	return Retirement{r: r, e: e}, nil
}

// Handle returns the target. The zero Retirement returns 0.
func (rt Retirement) Handle() Handle {
	if rt.e == nil {
		return 0
	}
	return rt.e.handle
}

// Commit retires the record. It is a no-op on the zero Retirement and when
// the value was already re-registered by a create that received it back
// from the driver.
func (rt Retirement) Commit() {
	if rt.e == nil {
		return
	}
	r := rt.r
	r.mu.Lock()
	if rt.e.state != StateRetiring {
		r.mu.Unlock()
		return
	}
	evicted := r.retireLocked(rt.e)
	r.mu.Unlock()

	r.notifyRetired(rt.e, evicted)
}

// Cancel returns a Retiring record to Live after a failed destroy.
func (rt Retirement) Cancel() {
	if rt.e == nil {
		return
	}
	rt.r.mu.Lock()
	if rt.e.state == StateRetiring {
		rt.e.state = StateLive
	}
	rt.r.mu.Unlock()
}

// settleRetiringLocked retires a Retiring record for h before h is
// registered again. The driver only hands a value out twice after the first
// object is gone, so the destroy in flight has already succeeded.
func (r *Registry) settleRetiringLocked(h Handle) (*entry, []*entry) {
	e, ok := r.entries[h]
	if !ok || e.state != StateRetiring {
		return nil, nil
	}
	return e, r.retireLocked(e)
}
