// Package presence tracks which users currently have open connections.
// A user is online iff their connection set is non-empty. Mutations
// are atomic per user key, so concurrent connects and disconnects from
// the same user never lose an entry, and removal is idempotent: a
// disconnect replayed or delivered out of order is a no-op.
package presence

import "sync"

// Registry maps user ids to their set of open connection ids.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]struct{})}
}

// Add records an open connection for a user. It reports whether the
// user transitioned from offline to online.
func (r *Registry) Add(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	wasEmpty := len(set) == 0
	set[connID] = struct{}{}
	return wasEmpty
}

// Remove drops a connection for a user. It reports whether the user
// transitioned to offline (their last connection closed). Removing an
// unknown connection is a no-op.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// Online reports whether the user has at least one open connection.
func (r *Registry) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns the ids of all currently online users.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	return out
}
