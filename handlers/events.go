package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/registry"
)

// Events warns when an event is signalled by a second command before it was
// reset. The first signaller is remembered per event until a reset slot or a
// destroy of the event clears it. Events never fails a call; findings go to
// the sink at warning severity.
type Events struct {
	sink diag.Sink

	mu      sync.Mutex
	signals map[registry.Handle]string
}

func NewEvents(sink diag.Sink) *Events {
	if sink == nil {
		sink = diag.Discard
	}
	return &Events{
		sink:    sink,
		signals: make(map[registry.Handle]string),
	}
}

func (ev *Events) Name() string { return NameEvents }

func (ev *Events) Prologue(_ context.Context, call *chain.Call) error {
	if !diag.Enabled(ev.sink, diag.SeverityWarning) {
		return nil
	}
	for i, slot := range call.Entry.Inputs {
		if !slot.Signal {
			continue
		}
		h := input(call, i)
		if h == 0 {
			continue
		}
		ev.mu.Lock()
		owner, ok := ev.signals[h]
		ev.mu.Unlock()
		if ok {
			ev.sink.Report(diag.SeverityWarning, fmt.Sprintf(
				"%s signals event %s, which is still signalled by %s", call, h, owner))
		}
	}
	return nil
}

func (ev *Events) Epilogue(_ context.Context, call *chain.Call, result error) error {
	if result != nil {
		return nil
	}
	ep := call.Entry
	target := ep.DestroyIndex()

	ev.mu.Lock()
	defer ev.mu.Unlock()
	for i, slot := range ep.Inputs {
		h := input(call, i)
		if h == 0 {
			continue
		}
		switch {
		case slot.Signal:
			ev.signals[h] = call.String()
		case slot.Reset, i == target:
			delete(ev.signals, h)
		}
	}
	return nil
}

// Signalled returns the call that last signalled h without a reset since.
func (ev *Events) Signalled(h registry.Handle) (string, bool) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	owner, ok := ev.signals[h]
	return owner, ok
}
