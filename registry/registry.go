package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wippyai/callguard/errors"
)

// Registry is the single source of truth for handle state and the
// ownership graph. It is safe for concurrent use.
type Registry struct {
	entries    map[Handle]*entry
	tombstones []*entry
	observers  []Observer
	seq        uint64
	live       int
	dead       int
	created    uint64
	retired    uint64
	forgotten  uint64

	maxTombstones    int
	strictDependents bool

	mu    sync.RWMutex
	obsMu sync.RWMutex
}

type entry struct {
	parent     *entry
	dependents map[*entry]struct{}
	class      string
	handle     Handle
	seq        uint64
	pins       atomic.Int32 // >0 shared holders, -1 exclusive holder
	state      State
	alias      bool
	open       bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrictDependents makes ValidateRetire fail with InUse while a handle
// still has live dependents.
func WithStrictDependents(strict bool) Option {
	return func(r *Registry) {
		r.strictDependents = strict
	}
}

// WithMaxTombstones bounds the number of destroyed records kept for
// DoubleDestroy and UseAfterDestroy detection. The oldest are forgotten
// first. Zero keeps every tombstone.
func WithMaxTombstones(n int) Option {
	return func(r *Registry) {
		if n < 0 {
			n = 0
		}
		r.maxTombstones = n
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[Handle]*entry, 256),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a freshly minted handle as Live.
// Fails with AlreadyExists if h is already known and Live.
func (r *Registry) Add(h Handle, class string) error {
	return r.add(h, class, false)
}

// AddAlias registers a handle that views another object's lifetime and
// must not be independently destroyed.
func (r *Registry) AddAlias(h Handle, class string) error {
	return r.add(h, class, true)
}

func (r *Registry) add(h Handle, class string, alias bool) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.Lock()
	if e, ok := r.entries[h]; ok && e.state == StateLive {
		r.mu.Unlock()
		return errors.AlreadyExists(errors.PhaseRegistry, uintptr(h), e.class)
	}
	old, evicted := r.settleRetiringLocked(h)
	r.insertLocked(h, class, alias)
	r.mu.Unlock()

	r.notifyRetired(old, evicted)
	r.notify(Event{Type: EventCreated, Handle: h, Class: class, Alias: alias})
	return nil
}

// Ensure registers h unless a live record of the same class already exists.
// Enumeration entry points return the same handles on every call, so a
// repeat is not a collision; a live record of a different class is.
func (r *Registry) Ensure(h Handle, class string) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.Lock()
	if e, ok := r.entries[h]; ok && e.state == StateLive {
		r.mu.Unlock()
		if e.class != class {
			return errors.New(errors.PhaseRegistry, errors.KindAlreadyExists).
				Handle(uintptr(h)).
				Class(e.class).
				Detail("re-enumerated as %s", class).
				Build()
		}
		return nil
	}
	old, evicted := r.settleRetiringLocked(h)
	r.insertLocked(h, class, false)
	r.mu.Unlock()

	r.notifyRetired(old, evicted)
	r.notify(Event{Type: EventCreated, Handle: h, Class: class})
	return nil
}

// insertLocked creates a new record for h. A destroyed record with the same
// value is a recycled address: it is replaced in the index but stays
// reachable from its former dependents, so they keep failing.
func (r *Registry) insertLocked(h Handle, class string, alias bool) {
	if old, ok := r.entries[h]; ok && old.state == StateDestroyed {
		r.dead--
	}
	r.seq++
	r.entries[h] = &entry{
		handle: h,
		class:  class,
		alias:  alias,
		seq:    r.seq,
		state:  StateLive,
		open:   true,
	}
	r.live++
	r.created++
}

// Validate reports whether h is usable: it must be Live and no ancestor it
// depends on may be Destroyed. Cost is one map lookup plus the ancestor
// chain, which is bounded by the object hierarchy depth.
func (r *Registry) Validate(h Handle) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	return validateChain(e)
}

// ValidateRetire validates h as the target of a destroy-style call.
// In addition to Validate it rejects alias handles, reports a destroyed
// target as DoubleDestroy and, with strict dependents, rejects handles that
// still have live dependents.
func (r *Registry) ValidateRetire(h Handle) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	return r.retirableLocked(e)
}

func (r *Registry) retirableLocked(e *entry) error {
	if e.state == StateDestroyed || e.state == StateRetiring {
		return errors.DoubleDestroy(errors.PhaseRegistry, uintptr(e.handle), e.class)
	}
	if err := validateChain(e); err != nil {
		return err
	}
	if e.alias {
		return errors.AliasMisuse(errors.PhaseRegistry, uintptr(e.handle), e.class)
	}
	if r.strictDependents && len(e.dependents) > 0 {
		return errors.InUse(errors.PhaseRegistry, uintptr(e.handle), e.class, len(e.dependents))
	}
	return nil
}

// validateChain fails when e or any ancestor is destroyed or being destroyed.
func validateChain(e *entry) error {
	for a := e; a != nil; a = a.parent {
		if a.state != StateLive {
			return errors.UseAfterDestroy(errors.PhaseRegistry, uintptr(e.handle), e.class, uintptr(a.handle))
		}
	}
	return nil
}

// Retire transitions h from Live to Destroyed. Dependents are not touched:
// they fail Validate through the ancestor check.
func (r *Registry) Retire(h Handle) error {
	if h == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if e.state == StateDestroyed || e.state == StateRetiring {
		r.mu.Unlock()
		return errors.DoubleDestroy(errors.PhaseRegistry, uintptr(h), e.class)
	}
	evicted := r.retireLocked(e)
	r.mu.Unlock()

	r.notifyRetired(e, evicted)
	return nil
}

func (r *Registry) retireLocked(e *entry) []*entry {
	e.state = StateDestroyed
	if e.parent != nil {
		delete(e.parent.dependents, e)
	}
	r.live--
	r.dead++
	r.retired++
	return r.pushTombstoneLocked(e)
}

func (r *Registry) notifyRetired(e *entry, evicted []*entry) {
	if e == nil {
		return
	}
	r.notify(Event{Type: EventRetired, Handle: e.handle, Class: e.class, Alias: e.alias})
	for _, old := range evicted {
		r.notify(Event{Type: EventForgotten, Handle: old.handle, Class: old.class})
	}
}

func (r *Registry) pushTombstoneLocked(e *entry) []*entry {
	if r.maxTombstones == 0 {
		return nil
	}
	r.tombstones = append(r.tombstones, e)

	var evicted []*entry
	for len(r.tombstones) > r.maxTombstones {
		old := r.tombstones[0]
		r.tombstones[0] = nil
		r.tombstones = r.tombstones[1:]
		if cur, ok := r.entries[old.handle]; ok && cur == old {
			delete(r.entries, old.handle)
			r.dead--
			r.forgotten++
			evicted = append(evicted, old)
		}
	}
	return evicted
}

// Forget drops the tombstone for a destroyed handle. Later lookups report
// UnknownHandle. Live handles are never forgotten.
func (r *Registry) Forget(h Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok || e.state != StateDestroyed {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, h)
	r.dead--
	r.forgotten++
	r.mu.Unlock()

	r.notify(Event{Type: EventForgotten, Handle: h, Class: e.class})
	return true
}

// SetOpen records whether a command-list style handle accepts appends.
func (r *Registry) SetOpen(h Handle, open bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h]
	if !ok {
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if err := validateChain(e); err != nil {
		return err
	}
	e.open = open
	return nil
}

// IsOpen reports the open flag of a valid handle.
func (r *Registry) IsOpen(h Handle) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return false, errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if err := validateChain(e); err != nil {
		return false, err
	}
	return e.open, nil
}

// Lookup returns a copy of the current record for h.
func (r *Registry) Lookup(h Handle) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

func (e *entry) info() Info {
	info := Info{
		Handle:     e.handle,
		Class:      e.class,
		State:      e.state,
		Alias:      e.alias,
		Open:       e.open,
		Seq:        e.seq,
		Dependents: len(e.dependents),
	}
	if e.parent != nil {
		info.Parent = e.parent.handle
	}
	return info
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Stats returns activity counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Live:       r.live,
		Tombstones: r.dead,
		Created:    r.created,
		Retired:    r.retired,
		Forgotten:  r.forgotten,
	}
}

// Each calls fn for every live handle in creation order until fn returns false.
func (r *Registry) Each(fn func(Info) bool) {
	for _, info := range r.liveInfos() {
		if !fn(info) {
			return
		}
	}
}

func (r *Registry) liveInfos() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, r.live)
	for _, e := range r.entries {
		if e.state == StateLive || e.state == StateRetiring {
			infos = append(infos, e.info())
		}
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Seq < infos[j].Seq })
	return infos
}

// SnapshotLeaks returns every handle still Live, in creation order.
// Alias handles are excluded: they cannot be destroyed on their own and are
// covered by their owner.
func (r *Registry) SnapshotLeaks() []Leak {
	var leaks []Leak
	for _, info := range r.liveInfos() {
		if info.Alias {
			continue
		}
		leaks = append(leaks, Leak{
			Handle: info.Handle,
			Class:  info.Class,
			Parent: info.Parent,
			Seq:    info.Seq,
		})
	}
	return leaks
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnHandleEvent(e)
	}
}
