package relay

import (
	"context"
	"sort"
	"sync"
)

// Registry tracks active sessions by id and supports graceful draining.
// When draining is enabled, new sessions are rejected while registered
// sessions finish.
//
// The mu mutex makes the draining check, the map insert and wg.Add atomic in
// Add, so StartDraining followed by Wait cannot miss a session that slipped in
// between the check and the increment.
type Registry struct {
	mu       sync.Mutex
	draining bool
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. Returns false if the registry is draining or the id is
// already taken.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	if _, exists := r.sessions[s.id]; exists {
		return false
	}
	r.sessions[s.id] = s
	r.wg.Add(1)
	return true
}

// Remove unregisters the session with id. Safe to call more than once; only
// the first call for a registered id counts.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.wg.Done()
	return true
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns a snapshot of registered sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartDraining makes future Add calls return false.
func (r *Registry) StartDraining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (r *Registry) IsDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// Wait blocks until every registered session has been removed or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear removes every remaining entry and returns them.
func (r *Registry) Clear() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
		r.wg.Done()
	}
	return out
}
