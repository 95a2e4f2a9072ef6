// Package session tracks which principals have a verification flow in
// flight. The registry is the single piece of shared mutable state in the
// engine: an atomic check-and-set per principal, nothing more.
//
// State here is process-lifetime only. Losing it on restart is acceptable: a
// restart simply allows one fresh session per principal.
package session

import "sync"

// Registry marks principals with an in-flight verification flow.
type Registry struct {
	active map[string]struct{}
	lock   sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		active: map[string]struct{}{},
	}
}

// TryAcquire marks the principal active iff no flow is currently active for
// them. The check and the set are one atomic step.
func (r *Registry) TryAcquire(principalID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.active[principalID]; ok {
		return false
	}

	r.active[principalID] = struct{}{}
	return true
}

// Release clears the marker for the principal regardless of prior state.
func (r *Registry) Release(principalID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.active, principalID)
}

// Len counts principals with an active flow.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.active)
}
