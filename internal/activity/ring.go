// Package activity keeps a bounded in-memory ring of recent bridge
// operations for the shell's diagnostics view.
package activity

import (
	"sync"
	"time"
)

// Entry records one bridge operation.
type Entry struct {
	Time     time.Time `json:"time"`
	Verb     string    `json:"verb"`     // e.g. "login", "get", "upload"
	Endpoint string    `json:"endpoint,omitempty"`
	Status   int       `json:"status"`
}

// Ring is a thread-safe ring buffer that stores the last N entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	full    bool
}

// New creates a ring buffer that stores the last n entries.
func New(n int) *Ring {
	return &Ring{
		entries: make([]Entry, n),
		size:    n,
	}
}

// Record appends an entry, stamping the time if unset.
func (r *Ring) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.pos] = e
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Entries returns all stored entries in order, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		result := make([]Entry, r.pos)
		copy(result, r.entries[:r.pos])
		return result
	}

	result := make([]Entry, r.size)
	copy(result, r.entries[r.pos:])
	copy(result[r.size-r.pos:], r.entries[:r.pos])
	return result
}

// Last returns the last n entries. If fewer exist, returns all of them.
func (r *Ring) Last(n int) []Entry {
	all := r.Entries()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
