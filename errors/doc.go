// Package errors provides structured violation types for the callguard engine.
//
// Errors are categorized by Phase (where in the interception the violation was
// found) and Kind (what was violated). The Error type carries the offending
// handle, its owner class, the entry point being intercepted and a cause
// chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhasePrologue, errors.KindUseAfterDestroy).
//		Handle(0x7f00a000).
//		Class("CommandList").
//		Entry("zeCommandListAppendBarrier").
//		Detail("ancestor %#x destroyed", 0x7f009000).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownHandle(errors.PhaseRegistry, h)
//	err := errors.DoubleDestroy(errors.PhaseRegistry, h, "Context")
//
// Matching works with the standard library on Kind alone through the
// sentinels, or on Phase and Kind through a fully specified target:
//
//	if errors.Is(err, errors.ErrUseAfterDestroy) { ... }
package errors
