package diag

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle rate-limits diagnostics forwarded to another sink. Dropped
// diagnostics are counted and summarized on the next allowed report or on
// Flush, so a storm of identical violations does not flood the log.
type Throttle struct {
	next       Sink
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle forwards at most rps diagnostics per second to next, with
// bursts of up to burst. A non-positive rps disables limiting.
func NewThrottle(next Sink, rps float64, burst int) *Throttle {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *Throttle) Report(sev Severity, msg string) {
	if !Enabled(t.next, sev) {
		return
	}
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return
	}
	t.flushSuppressed()
	t.next.Report(sev, msg)
}

func (t *Throttle) Enabled(sev Severity) bool {
	return Enabled(t.next, sev)
}

// Suppressed returns the number of diagnostics dropped since the last summary.
func (t *Throttle) Suppressed() uint64 {
	return t.suppressed.Load()
}

// Flush emits the pending suppression summary, if any.
func (t *Throttle) Flush() {
	t.flushSuppressed()
}

func (t *Throttle) flushSuppressed() {
	if n := t.suppressed.Swap(0); n > 0 {
		t.next.Report(SeverityWarning, fmt.Sprintf("%d diagnostic(s) suppressed by rate limit", n))
	}
}
