// Package events implements the in-process publish/subscribe dispatcher
// described in SPEC_FULL.md section 4.2: typed events, handlers invoked as
// independent background tasks, no cross-handler serialization.
package events

import (
	"log"
	"sync"

	"github.com/robida/federation/internal/store"
)

// The event types themselves (store.EntryCreated, store.EntryUpdated,
// store.EntryDeleted) live in internal/store, which publishes them — the
// Post Store is the leaf component (section 2) and the Event Bus depends
// on it, not the other way around.

// Handler reacts to one event type. It runs on its own goroutine; a panic
// or error inside a Handler must not affect the originating request nor
// any other handler, so the bus recovers and logs rather than propagating.
type Handler func(event any)

// Bus is the process-wide event dispatcher. Its handler registry is
// built once at startup (via Subscribe) and is read-only thereafter —
// Subscribe after Start panics, matching the Design Notes' instruction to
// "guard the registry against registrations after startup".
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	started  bool
	wg       sync.WaitGroup
}

// New returns an empty Bus ready for Subscribe calls.
func New() *Bus {
	return &Bus{handlers: map[string][]Handler{}}
}

func typeKey(event any) string {
	switch event.(type) {
	case store.EntryCreated:
		return "EntryCreated"
	case store.EntryUpdated:
		return "EntryUpdated"
	case store.EntryDeleted:
		return "EntryDeleted"
	default:
		return "unknown"
	}
}

// Subscribe registers handler for every event of the same concrete type
// as sample. Must be called before Start.
func (b *Bus) Subscribe(sample any, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("events: Subscribe called after Start")
	}
	key := typeKey(sample)
	b.handlers[key] = append(b.handlers[key], handler)
}

// Start freezes the handler registry. Publish may be called before or
// after Start; Start exists only to make the read-only boundary explicit
// at wiring time in main().
func (b *Bus) Start() {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
}

// Publish invokes every handler registered for event's concrete type as
// an independent goroutine. Ordering between handlers is unspecified;
// each handler sees the event exactly once. Publish does not block on
// handler completion.
func (b *Bus) Publish(event any) {
	b.mu.RLock()
	handlers := b.handlers[typeKey(event)]
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("events: handler panic for %s: %v", typeKey(event), r)
				}
			}()
			h(event)
		}()
	}
}

// Wait blocks until every in-flight handler goroutine has returned. Called
// at process shutdown so background federation work gets a chance to
// reach its next durable boundary before the process exits.
func (b *Bus) Wait() {
	b.wg.Wait()
}
