package engine

import (
	"sort"
	"sync"

	"github.com/japaniel/readmark/pkg/annotation"
)

// EventType names what changed.
type EventType string

const (
	AnnotationCreated         EventType = "annotation-created"
	AnnotationRemoved         EventType = "annotation-removed"
	AnnotationMetadataUpdated EventType = "annotation-metadata-updated"
	BulkRemoved               EventType = "bulk-removed"
)

// Event is delivered to subscribers after the change it describes is
// visible in the store and the markup.
type Event struct {
	Type EventType
	ID   annotation.ID
	Kind annotation.Kind

	// Set for BulkRemoved.
	IDs    []annotation.ID
	Count  int
	ByKind map[annotation.Kind]int
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every subscriber with each event, in order. Subscribers
// run on the publishing goroutine.
func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = b.subs[id]
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
