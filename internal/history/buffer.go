// Package history keeps the bounded, deduplicated event history of every session.
package history

// Buffer is a fixed-capacity FIFO of entries keyed by id.
//
// An id can be present at most once among the retained entries. When an
// insertion exceeds capacity the oldest entry is evicted and its id freed,
// so the same id may later be accepted again.
//
// Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	entries  []T
	keys     []string // parallel to entries
	ids      map[string]struct{}
	capacity int
	head     int // index of the oldest entry once the buffer is full
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		entries:  make([]T, 0, min(capacity, 64)),
		keys:     make([]string, 0, min(capacity, 64)),
		ids:      make(map[string]struct{}),
		capacity: capacity,
	}
}

// Add appends entry under id. It returns false, leaving the buffer
// untouched, if id is already retained.
func (b *Buffer[T]) Add(id string, entry T) bool {
	if _, dup := b.ids[id]; dup {
		return false
	}
	b.ids[id] = struct{}{}

	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, entry)
		b.keys = append(b.keys, id)
		return true
	}

	// Full: the head slot holds the oldest entry. Overwrite it and free its id.
	delete(b.ids, b.keys[b.head])
	b.entries[b.head] = entry
	b.keys[b.head] = id
	b.head = (b.head + 1) % b.capacity
	return true
}

// Contains reports whether id is currently retained.
func (b *Buffer[T]) Contains(id string) bool {
	_, ok := b.ids[id]
	return ok
}

// Len returns the number of retained entries.
func (b *Buffer[T]) Len() int {
	return len(b.entries)
}

// All returns the retained entries, oldest first.
func (b *Buffer[T]) All() []T {
	if len(b.entries) == 0 {
		return nil
	}
	out := make([]T, len(b.entries))
	n := copy(out, b.entries[b.head:])
	copy(out[n:], b.entries[:b.head])
	return out
}
