package bridge

import (
	"slices"
	"strings"
	"sync"
)

// Registry owns the sessions of all paired clients.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     Options
}

// NewRegistry creates an empty registry; new sessions use opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{sessions: make(map[string]*Session), opts: opts}
}

// Session returns the session of pairing id, creating it if needed.
func (r *Registry) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = NewSession(id, r.opts)
		r.sessions[id] = s
	}
	return s
}

// Get returns an existing session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session, closing its connection.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Disconnect()
	}
}

// List returns every session ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.id, b.id) })
	return out
}

// Ready returns the sessions that completed the connectionInfo exchange.
func (r *Registry) Ready() []*Session {
	all := r.List()
	out := all[:0]
	for _, s := range all {
		if s.Ready() {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
