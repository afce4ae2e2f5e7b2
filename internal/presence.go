package internal

import (
	"sync"

	"github.com/samber/lo"
)

// ConnectionRegistry maps each user to at most one live connection id. It is
// the single source of truth for who is online; superseding semantics live
// here so the hub only has to force-close whatever Register hands back.
type ConnectionRegistry struct {
	mu     sync.Mutex
	byUser map[string]string
	byConn map[string]string
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register stores userID -> connID and returns the previous connection id if
// a different one held the entry, so the caller can force-close it. Calling
// again with the same pair is a no-op.
func (r *ConnectionRegistry) Register(userID, connID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byUser[userID]
	if ok && prev == connID {
		return ""
	}
	if ok {
		delete(r.byConn, prev)
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	if ok {
		return prev
	}
	return ""
}

// UnregisterByConnection removes the entry only if connID still owns it,
// which guards against a stale disconnect wiping out a newer registration.
// Returns the freed user id and whether anything was removed.
func (r *ConnectionRegistry) UnregisterByConnection(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	if r.byUser[userID] != connID {
		// a newer connection owns the user entry; only drop the stale reverse mapping
		delete(r.byConn, connID)
		return "", false
	}
	delete(r.byUser, userID)
	delete(r.byConn, connID)
	return userID, true
}

// Lookup returns the current connection id for a user.
func (r *ConnectionRegistry) Lookup(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[userID]
	return ok
}

// ListOnline returns the online user ids in no particular order.
func (r *ConnectionRegistry) ListOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.byUser)
}
