package internal

import (
	"sort"
	"sync"
)

// DefaultActivity is assigned the moment a user announces presence.
const DefaultActivity = "Idle"

// ActivityTracker maps a user id to a free-form activity label, e.g.
// "Playing Purple Rain by Prince". Lifetime of an entry follows the owning
// connection: set on announce, dropped on disconnect, never persisted.
type ActivityTracker struct {
	mu     sync.Mutex
	labels map[string]string
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{labels: make(map[string]string)}
}

// Set unconditionally overwrites the label for a user.
func (t *ActivityTracker) Set(userID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.labels[userID] = label
}

func (t *ActivityTracker) Remove(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.labels, userID)
}

// Get returns the current label for a user, if any.
func (t *ActivityTracker) Get(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	label, ok := t.labels[userID]
	return label, ok
}

// Snapshot returns (userID, label) pairs sorted by user id so replays to
// newly connected clients are stable.
func (t *ActivityTracker) Snapshot() [][2]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := make([][2]string, 0, len(t.labels))
	for userID, label := range t.labels {
		entries = append(entries, [2]string{userID, label})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i][0] < entries[j][0] })
	return entries
}
