package requestlog

import (
	"context"
	"sync"
)

const DefaultCapacity = 1000

// Ring is a bounded in-memory log that drops the oldest entries.
type Ring struct {
	mutex   sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries: make([]Entry, capacity),
	}
}

func (r *Ring) Append(_ context.Context, e Entry) error {
	e = prepare(e)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *Ring) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out, nil
}

func (r *Ring) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.full {
		return len(r.entries)
	}
	return r.next
}
