package playback

import "sync"

// Registry is a thread-safe collection of live sessions keyed by id
type Registry struct {
	sessions map[SessionID]*Session
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
	}
}

// Get retrieves a session by id (thread-safe)
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it with create if absent.
// created reports whether create was called.
func (r *Registry) GetOrCreate(id SessionID, create func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return existing, false, nil
	}
	s, err = create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[id] = s
	return s, true, nil
}

// Delete removes the session for id if it is still s (thread-safe)
func (r *Registry) Delete(id SessionID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[id]; !ok || current != s {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns all live sessions (thread-safe)
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// GetAll returns sessions that match the filter function (thread-safe)
func (r *Registry) GetAll(filter func(*Session) bool) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0)
	for _, s := range r.sessions {
		if filter(s) {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
