package mcp

import "sync"

// SessionRegistry tracks MCP sessions that have called a workflow tool.
// The notifier pushes gate and lifecycle notifications to these sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]struct{})}
}

// Register records a session ID. Re-registering is a no-op.
func (r *SessionRegistry) Register(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = struct{}{}
}

// Remove deletes a session, typically after it disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// All returns the currently registered session IDs.
func (r *SessionRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}
