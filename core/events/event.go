package events

import (
	"strings"
	"sync"

	"greenbonds/core/types"
)

// Event represents a structured state change emitted by a native module.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in memory until they are drained. The node installs
// one per transaction so events from a rolled back call are never published.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Discard drops every buffered event.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Len reports how many events are buffered.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Log is a bounded, append-only history of committed events, newest last.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []*types.Event
}

// NewLog creates an event history retaining at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Log{capacity: capacity}
}

// Emit implements the Emitter interface.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, payload)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		l.entries = append([]*types.Event(nil), l.entries[overflow:]...)
	}
}

// Recent returns up to limit of the newest events matching typePrefix. An
// empty prefix matches everything.
func (l *Log) Recent(typePrefix string, limit int) []*types.Event {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]*types.Event, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		evt := l.entries[i]
		if typePrefix != "" && !strings.HasPrefix(evt.Type, typePrefix) {
			continue
		}
		out = append(out, evt)
	}
	return out
}
