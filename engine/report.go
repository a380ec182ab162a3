package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/handlers"
	"github.com/wippyai/callguard/registry"
)

// LeakReport is what Shutdown found.
type LeakReport struct {
	SessionID uuid.UUID
	Leaks     []registry.Leak
	Balances  []handlers.Balance
	Stats     registry.Stats
}

// Empty reports whether nothing leaked: no live tracked handle and no
// positive create/destroy balance.
func (r *LeakReport) Empty() bool {
	if len(r.Leaks) > 0 {
		return false
	}
	for _, b := range r.Balances {
		if b.Leaked > 0 {
			return false
		}
	}
	return true
}

// Shutdown stops accepting calls, waits for calls in flight, and reports
// every handle still live as a leak. Calls after Shutdown fail with
// NotInitialized, and so does a second Shutdown.
func (e *Engine) Shutdown(ctx context.Context) (*LeakReport, error) {
	e.closeMu.Lock()
	if e.closed.Load() {
		e.closeMu.Unlock()
		return nil, errors.NotInitialized(errors.PhaseShutdown, "engine")
	}
	e.closed.Store(true)
	e.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, errors.New(errors.PhaseShutdown, errors.KindNotInitialized).
			Cause(ctx.Err()).
			Detail("calls still in flight").
			Build()
	}

	if t, ok := e.sink.(*diag.Throttle); ok {
		t.Flush()
	}

	rep := &LeakReport{SessionID: e.id}
	if e.flags.Tracking() {
		rep.Leaks = e.reg.SnapshotLeaks()
		if diag.Enabled(e.teardown, diag.SeverityWarning) {
			for _, l := range rep.Leaks {
				e.teardown.Report(diag.SeverityWarning, errors.Leak(uintptr(l.Handle), l.Class).Error())
			}
		}
	}
	if e.leaks != nil {
		rep.Balances = e.leaks.Balances()
		e.leaks.Summarize(e.teardown)
	}
	rep.Stats = e.reg.Stats()

	Logger().Info("engine shut down",
		zap.String("session", e.id.String()),
		zap.Int("leaks", len(rep.Leaks)),
		zap.Int("live", rep.Stats.Live),
		zap.Uint64("created", rep.Stats.Created),
		zap.Uint64("retired", rep.Stats.Retired))

	return rep, nil
}
