// Package diag defines the diagnostics sink the engine reports validation
// failures to, and the stock sinks: zap, an in-memory recorder for tests,
// a rate-limited wrapper and a discarding sink.
package diag

import (
	"fmt"
	"strings"
	"sync"
)

// Severity of a diagnostic.
type Severity uint8

const (
	SeverityTrace Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// ParseSeverity converts a severity name. Matching is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return SeverityTrace, nil
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Sink receives diagnostics. Implementations must be safe for concurrent use
// and must not call back into the engine.
type Sink interface {
	Report(sev Severity, msg string)
}

// LevelSink is a Sink that can say up front whether it wants a severity, so
// callers can skip building messages nobody reads.
type LevelSink interface {
	Sink
	Enabled(sev Severity) bool
}

// Enabled reports whether s accepts sev. Sinks without level filtering
// accept everything.
func Enabled(s Sink, sev Severity) bool {
	if s == nil {
		return false
	}
	if ls, ok := s.(LevelSink); ok {
		return ls.Enabled(sev)
	}
	return true
}

type discard struct{}

func (discard) Report(Severity, string) {}
func (discard) Enabled(Severity) bool { return false }

// Discard drops every diagnostic.
var Discard LevelSink = discard{}

// Tee fans a diagnostic out to several sinks.
type Tee []Sink

func (t Tee) Report(sev Severity, msg string) {
	for _, s := range t {
		if Enabled(s, sev) {
			s.Report(sev, msg)
		}
	}
}

func (t Tee) Enabled(sev Severity) bool {
	for _, s := range t {
		if Enabled(s, sev) {
			return true
		}
	}
	return false
}

// Entry is one recorded diagnostic.
type Entry struct {
	Message  string
	Severity Severity
}

// Recorder keeps every diagnostic in memory.
type Recorder struct {
	entries []Entry
	mu      sync.Mutex
	floor   Severity
}

// NewRecorder creates a recorder that keeps diagnostics at or above floor.
func NewRecorder(floor Severity) *Recorder {
	return &Recorder{floor: floor}
}

func (r *Recorder) Report(sev Severity, msg string) {
	if sev < r.floor {
		return
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Severity: sev, Message: msg})
	r.mu.Unlock()
}

func (r *Recorder) Enabled(sev Severity) bool {
	return sev >= r.floor
}

// Entries returns a copy of the recorded diagnostics in arrival order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many diagnostics of exactly sev were recorded.
func (r *Recorder) Count(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

// Contains reports whether any recorded message contains substr.
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset drops every recorded diagnostic.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
