// Package store holds live annotation records for one document.
package store

import (
	"sort"
	"sync"

	"golang.org/x/net/html"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/geometry"
)

// Record is a live annotation: the persisted fields, the range it currently
// resolves to and the markup element that renders it.
type Record struct {
	annotation.Annotation
	Range   geometry.Range
	Element *html.Node
}

// Store maps annotation ids to records. Only the engine mutates it; the
// lock lets renderers read from other goroutines.
type Store struct {
	mu      sync.RWMutex
	records map[annotation.ID]Record
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[annotation.ID]Record)}
}

// Put inserts or replaces the record with the same id.
func (s *Store) Put(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
}

// Get returns the record for id.
func (s *Store) Get(id annotation.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Delete removes id. Deleting a missing id is a no-op; the result reports
// whether anything was removed.
func (s *Store) Delete(id annotation.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// Update applies fn to the record for id if it exists.
func (s *Store) Update(id annotation.ID, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false
	}
	fn(&r)
	s.records[id] = r
	return true
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns every record ordered by range.
func (s *Store) All() []Record {
	return s.filter(func(Record) bool { return true })
}

// AllOfKind returns the records of one kind ordered by range.
func (s *Store) AllOfKind(kind annotation.Kind) []Record {
	return s.filter(func(r Record) bool { return r.Kind == kind })
}

// AllOverlapping returns the records sharing at least one point with rng,
// including ones that contain it or sit inside it.
func (s *Store) AllOverlapping(rng geometry.Range) []Record {
	return s.filter(func(r Record) bool { return geometry.Intersects(r.Range, rng) })
}

func (s *Store) filter(keep func(Record) bool) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out
}

// sortRecords orders by start, longer first on ties so outer spans precede
// the spans they contain.
func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		if a.Range.End != b.Range.End {
			return a.Range.End > b.Range.End
		}
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() > b.Kind.Rank()
		}
		return a.ID < b.ID
	})
}
