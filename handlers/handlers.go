// Package handlers provides the stock validation handlers: handle lifetime,
// parameter, threading, basic leak counting, event signal reuse and tracing.
package handlers

import (
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

// Handler names as reported in chain.HandlerError.
const (
	NameLifetime  = "lifetime"
	NameParameter = "parameter"
	NameThreading = "threading"
	NameBasicLeak = "basic_leak"
	NameTracing   = "tracing"
	NameEvents    = "events"
)

// annotate stamps a violation with the stage and entry point it was found in.
func annotate(err error, phase errors.Phase, call *chain.Call) error {
	var e *errors.Error
	if !errors.As(err, &e) {
		return err
	}
	return e.WithPhase(phase).WithEntry(call.Name())
}

// input returns the handle in slot i, or 0 when the caller passed fewer
// inputs than the entry point declares.
func input(call *chain.Call, i int) registry.Handle {
	if i < len(call.Inputs) {
		return call.Inputs[i]
	}
	return 0
}
