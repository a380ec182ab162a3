// Package engine intercepts calls into a handle-based API and drives the
// validation chain around them.
//
// # Architecture
//
// An Engine is built from three parts:
//
//	api.Table        - entry point metadata: inputs, outputs, destroy slot
//	Dispatch         - the real implementation of each entry point
//	chain.Chain      - validation handlers built from config.Flags
//
// # Call Flow
//
//  1. Invoke looks up the real function; a missing one fails with
//     Unsupported before any handler runs
//  2. the prologue runs every handler in order and stops at the first
//     failure; the real function is then never called
//  3. the real function runs and writes its outputs into the Call
//  4. the epilogue runs every handler with the real result
//  5. if the real call succeeded, the registry is updated: outputs are
//     registered and linked to their parent, destroy targets retired,
//     command lists opened or closed
//
// The real function's error is returned unchanged. Otherwise the first
// epilogue or registry failure is returned. Use api.ResultFor to map any
// returned error to a result code.
//
// # Shutdown
//
// Shutdown stops accepting calls, waits for calls in flight and returns a
// LeakReport with every tracked handle still live and the basic leak
// checker's create/destroy balances.
//
// # Logging
//
// The package logs lifecycle events through a zap logger, a no-op until
// SetLogger is called. Per-call diagnostics go to the diag.Sink passed with
// WithSink instead.
package engine
