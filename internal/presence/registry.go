// Package presence tracks which users are online and through which socket.
package presence

import "sync"

// Entry maps one online user to the socket that registered them
type Entry struct {
	UserID string `json:"userId"`
	ConnID string `json:"socketId"`
}

// Registry is the process-local presence list. It is safe for concurrent use.
//
// At most one entry per user is kept: the first socket to register a user
// owns the entry until that socket disconnects. A second tab adding the same
// user is a no-op.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add inserts an entry iff userID is not tracked yet. It reports whether the
// entry was inserted.
func (r *Registry) Add(userID, connID string) bool {
	if userID == "" || connID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.UserID == userID {
			return false
		}
	}
	r.entries = append(r.entries, Entry{UserID: userID, ConnID: connID})
	return true
}

// Remove deletes every entry owned by connID and returns what was removed
func (r *Registry) Remove(connID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.ConnID == connID {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so removed entries are not retained by the backing array
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = Entry{}
	}
	r.entries = kept
	return removed
}

// ListOnline returns a copy of the entries in registration order
func (r *Registry) ListOnline() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// IsOnline reports whether userID has an entry
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// Len returns the number of tracked users
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
