// Package registry tracks the lifetime of opaque handles minted by a wrapped
// handle-based API.
//
// Handles are address-sized tokens (contexts, command lists, events, ...).
// The registry never dereferences them; it records which ones are live,
// which were destroyed, and which depend on which.
//
// # Lifecycle
//
//	Unknown --Add--> Live --Retire--> Destroyed
//
// A record moves to Live once and to Destroyed once. Registering a value whose
// record is Destroyed creates a new record: native drivers recycle addresses,
// and the recycled value names a new object. The old record stays reachable
// from its former dependents.
//
// # Dependencies
//
// AddDependent(parent, child) states that child is only usable while parent
// is alive. Retire never cascades; Validate walks the parent chain instead:
//
//	reg.Add(ctx, "Context")
//	reg.Add(queue, "CommandQueue")
//	reg.AddDependent(ctx, queue)
//	reg.Retire(ctx)
//	reg.Validate(queue) // UseAfterDestroy: ancestor destroyed
//
// Parent links form a forest; a link that would close a cycle fails with
// CycleRejected.
//
// # Leaks
//
// SnapshotLeaks lists every live, non-alias handle in creation order. It is
// deterministic so leak reports are reproducible.
//
// # Concurrency
//
// A single RWMutex guards the graph. Validate, Lookup and SnapshotLeaks take
// the read lock; Add, Retire and AddDependent take the write lock. No method
// blocks on anything but the lock. Pins are per-record atomics used to detect
// overlapping calls on the same handle.
package registry
