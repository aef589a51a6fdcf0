// Package pubsub provides the ordered subscriber lists every session and
// transport publishes through.
//
// Lists are mutated from the owning call path (Subscribe, Unsubscribe) and
// read from I/O goroutines (Publish), so all access is lock-guarded.
// Publish dispatches over a snapshot taken under the lock: a handler may
// unsubscribe itself, or anything else, from inside its own callback.
package pubsub

import "sync"

// ByteHandler receives exactly the bytes obtained by one completed read.
type ByteHandler func(payload []byte)

// CountHandler receives a cumulative count (accepted clients, known peers).
type CountHandler func(count uint64)

// Subscription identifies one registration in a List.  Tokens are unique
// per List and never reused.
type Subscription uint64

type entry[H any] struct {
	id Subscription
	h  H
}

// List is an ordered, concurrency-safe collection of handlers.  Insertion
// order is dispatch order and duplicates are kept.  The zero value is
// ready to use.
type List[H any] struct {
	mu      sync.RWMutex
	next    Subscription
	entries []entry[H]
}

// Subscribe appends h and returns the token that removes it.
func (l *List[H]) Subscribe(h H) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.entries = append(l.entries, entry[H]{id: l.next, h: h})
	return l.next
}

// Unsubscribe removes the registration identified by sub.  It reports
// whether anything was removed; an unknown token is a no-op.
func (l *List[H]) Unsubscribe(sub Subscription) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id != sub {
			continue
		}
		// Copy so snapshots handed out earlier keep their contents.
		out := make([]entry[H], 0, len(l.entries)-1)
		out = append(out, l.entries[:i]...)
		l.entries = append(out, l.entries[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of registrations.
func (l *List[H]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Handlers returns the registered handlers in dispatch order.
func (l *List[H]) Handlers() []H {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]H, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.h
	}
	return out
}

// Bytes is a List of ByteHandlers.
type Bytes struct {
	List[ByteHandler]
}

// Publish delivers payload to every handler in order.
func (b *Bytes) Publish(payload []byte) {
	for _, h := range b.Handlers() {
		h(payload)
	}
}

// Counts is a List of CountHandlers.
type Counts struct {
	List[CountHandler]
}

// Publish delivers n to every handler in order.
func (c *Counts) Publish(n uint64) {
	for _, h := range c.Handlers() {
		h(n)
	}
}
