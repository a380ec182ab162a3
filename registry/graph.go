package registry

import (
	"sort"

	"github.com/wippyai/callguard/errors"
)

// AddDependent records that child's validity is contingent on parent.
// Both handles must be Live. Parent links form a forest: a link that would
// close a cycle is rejected, and a child already linked to a different
// parent reports ParentConflict. Linking the same pair twice is a no-op.
func (r *Registry) AddDependent(parent, child Handle) error {
	if parent == 0 || child == 0 {
		return errors.NullHandle(errors.PhaseRegistry, "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.usableLocked(parent)
	if err != nil {
		return err
	}
	c, err := r.usableLocked(child)
	if err != nil {
		return err
	}

	for a := p; a != nil; a = a.parent {
		if a == c {
			return errors.CycleRejected(errors.PhaseRegistry, uintptr(parent), uintptr(child))
		}
	}

	if c.parent != nil {
		if c.parent == p {
			return nil
		}
		return errors.New(errors.PhaseRegistry, errors.KindParentConflict).
			Handle(uintptr(child)).
			Class(c.class).
			Detail("already depends on %s, cannot depend on %s", c.parent.handle, parent).
			Build()
	}

	c.parent = p
	if p.dependents == nil {
		p.dependents = make(map[*entry]struct{})
	}
	p.dependents[c] = struct{}{}
	return nil
}

// RemoveDependent unlinks child from parent. The child keeps its own state.
func (r *Registry) RemoveDependent(parent, child Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[parent]
	if !ok {
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(parent))
	}
	c, ok := r.entries[child]
	if !ok {
		return errors.UnknownHandle(errors.PhaseRegistry, uintptr(child))
	}
	if c.parent != p {
		return errors.InvalidArgument(errors.PhaseRegistry, "handle "+child.String()+" does not depend on "+parent.String())
	}

	delete(p.dependents, c)
	c.parent = nil
	return nil
}

// Ancestors returns the parent chain of h, nearest first.
func (r *Registry) Ancestors(h Handle) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil
	}
	var chain []Handle
	for a := e.parent; a != nil; a = a.parent {
		chain = append(chain, a.handle)
	}
	return chain
}

// Dependents returns the live handles that depend directly on h, in
// creation order.
func (r *Registry) Dependents(h Handle) []Handle {
	r.mu.RLock()
	e, ok := r.entries[h]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	deps := make([]*entry, 0, len(e.dependents))
	for d := range e.dependents {
		deps = append(deps, d)
	}
	r.mu.RUnlock()

	sortBySeq(deps)
	out := make([]Handle, len(deps))
	for i, d := range deps {
		out[i] = d.handle
	}
	return out
}

func (r *Registry) usableLocked(h Handle) (*entry, error) {
	e, ok := r.entries[h]
	if !ok {
		return nil, errors.UnknownHandle(errors.PhaseRegistry, uintptr(h))
	}
	if err := validateChain(e); err != nil {
		return nil, err
	}
	return e, nil
}

func sortBySeq(es []*entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
}
