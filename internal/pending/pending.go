// Package pending coalesces inbound call-ended events into per-phone
// increment deltas between flush cycles.
//
// Two parallel maps guarded by one mutex: phone → pending delta and
// phone → last event fingerprint. The drain is the only place values leave
// the structure; it snapshots and clears in one critical section so the
// flush can do remote work without holding the lock.
package pending

import "sync"

// Entry is one drained increment.
type Entry struct {
	Phone   string
	Delta   int
	EventID string
}

// Buffer accumulates pending increments. Safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	deltas    map[string]int
	lastEvent map[string]string
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		deltas:    make(map[string]int),
		lastEvent: make(map[string]string),
	}
}

// Queue adds n to the pending delta for phone and records eventID as the
// most recent fingerprint for it. n < 1 is treated as 1.
func (b *Buffer) Queue(phone string, n int, eventID string) {
	if phone == "" {
		return
	}
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	b.deltas[phone] += n
	b.lastEvent[phone] = eventID
	b.mu.Unlock()
}

// Drain atomically snapshots and clears the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.deltas) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(b.deltas))
	for phone, delta := range b.deltas {
		out = append(out, Entry{Phone: phone, Delta: delta, EventID: b.lastEvent[phone]})
	}
	b.deltas = make(map[string]int)
	b.lastEvent = make(map[string]string)
	return out
}

// Len returns the number of phones with a pending delta.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas)
}
