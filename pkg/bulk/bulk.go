// Package bulk previews and removes every annotation enclosed by a
// selection.
package bulk

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/geometry"
	"github.com/japaniel/readmark/pkg/store"
)

// Engine is the part of *engine.Engine the deleter drives.
type Engine interface {
	Enclosed(r geometry.Range) []store.Record
	SetPending(ids []annotation.ID, on bool)
	RemoveBatch(ctx context.Context, ids []annotation.ID) engine.BatchResult
}

// Deleter holds the current bulk preview. Previewing marks annotations
// visually and nothing else; only Confirm removes them.
type Deleter struct {
	eng Engine
	log *slog.Logger

	mu      sync.Mutex
	pending []annotation.ID
}

// New returns a Deleter over eng. logger may be nil.
func New(eng Engine, logger *slog.Logger) *Deleter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deleter{eng: eng, log: logger}
}

// Preview computes the annotations entirely inside r and marks them
// pending. A partially covered annotation is never included. When the set
// differs from the current preview it replaces it.
func (d *Deleter) Preview(r geometry.Range) []annotation.ID {
	var ids []annotation.ID
	for _, rec := range d.eng.Enclosed(r) {
		ids = append(ids, rec.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if sameSet(ids, d.pending) {
		return slices.Clone(d.pending)
	}
	d.eng.SetPending(d.pending, false)
	d.eng.SetPending(ids, true)
	d.pending = ids
	d.log.Debug("bulk preview", "range", r, "count", len(ids))
	return slices.Clone(ids)
}

// Confirm removes the previewed annotations as one batch.
func (d *Deleter) Confirm(ctx context.Context) engine.BatchResult {
	d.mu.Lock()
	ids := d.pending
	d.pending = nil
	d.mu.Unlock()
	if len(ids) == 0 {
		return engine.BatchResult{}
	}
	return d.eng.RemoveBatch(ctx, ids)
}

// Clear drops the preview without removing anything.
func (d *Deleter) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return
	}
	d.eng.SetPending(d.pending, false)
	d.pending = nil
}

// Pending returns the ids currently previewed.
func (d *Deleter) Pending() []annotation.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.pending)
}

func sameSet(a, b []annotation.ID) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
