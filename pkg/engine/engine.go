// Package engine keeps annotation records, their markup and their stored
// copies in step. Every mutation runs to completion under one lock;
// translation lookups and storage writes happen afterwards on worker pools.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/japaniel/readmark/pkg/anchor"
	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/geometry"
	"github.com/japaniel/readmark/pkg/lang"
	"github.com/japaniel/readmark/pkg/store"
	"github.com/japaniel/readmark/pkg/translate"
)

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("engine closed")

// Translator fetches learning metadata for a span of text.
type Translator interface {
	Translate(ctx context.Context, text, surrounding string) (translate.Result, error)
}

// Persister stores annotation records. Calls arrive in the order the
// changes were made, from a single goroutine.
type Persister interface {
	Persist(ctx context.Context, a annotation.Annotation) error
	Unpersist(ctx context.Context, id annotation.ID) error
	PersistBatch(ctx context.Context, as []annotation.Annotation) error
	UnpersistBatch(ctx context.Context, ids []annotation.ID) error
}

// Lexicon looks up the dictionary form of a vocabulary selection.
type Lexicon interface {
	Lemma(text string) (lemma, reading string, ok bool)
}

// Options configures an Engine. Zero values pick defaults.
type Options struct {
	Rules           annotation.Rules
	ContextWindow   int
	MetadataTimeout time.Duration
	MetadataWorkers int

	Translator Translator
	Persister  Persister
	Lexicon    Lexicon

	// Logger receives operational logs. nil means silent.
	Logger *slog.Logger
	// OnWarning receives the non-fatal errors the engine absorbs:
	// stale ranges, failed lookups and failed writes.
	OnWarning func(error)

	Now   func() time.Time
	NewID func() annotation.ID
}

const (
	defaultContextWindow   = 280
	defaultMetadataTimeout = 15 * time.Second
	defaultMetadataWorkers = 2
)

func (o Options) withDefaults() Options {
	if o.Rules.MaxVocabularyTokens == 0 && o.Rules.MinSentenceChars == 0 {
		tokens := o.Rules.Tokens
		o.Rules = annotation.DefaultRules()
		o.Rules.Tokens = tokens
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = defaultContextWindow
	}
	if o.MetadataTimeout <= 0 {
		o.MetadataTimeout = defaultMetadataTimeout
	}
	if o.MetadataWorkers <= 0 {
		o.MetadataWorkers = defaultMetadataWorkers
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = annotation.NewID
	}
	return o
}

// CreateResult describes a successful Create. A zero result means the
// gesture was dropped because its range could not be bound.
type CreateResult struct {
	ID         annotation.ID
	Kind       annotation.Kind
	Range      geometry.Range
	Superseded []annotation.ID
}

// Created reports whether an annotation was made.
func (r CreateResult) Created() bool { return r.ID != "" }

// BatchResult summarizes a RemoveBatch.
type BatchResult struct {
	Removed []annotation.ID
	ByKind  map[annotation.Kind]int
}

// Count is the number of annotations removed.
func (r BatchResult) Count() int { return len(r.Removed) }

// RestoreResult lists what happened to each record handed to Restore.
type RestoreResult struct {
	Restored []annotation.ID
	Dropped  []annotation.ID
}

// Engine manages the annotations of one document.
type Engine struct {
	opts Options
	log  *slog.Logger
	bus  *Bus

	mu       sync.Mutex
	doc      *binder.Document
	store    *store.Store
	fetching map[annotation.ID]bool
	closed   bool

	metadata *WorkerPool
	persist  *WorkerPool
	cancel   context.CancelFunc
}

// New starts an engine over doc.
func New(doc *binder.Document, opts Options) *Engine {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:     opts,
		log:      opts.Logger,
		bus:      NewBus(),
		doc:      doc,
		store:    store.New(),
		fetching: make(map[annotation.ID]bool),
		metadata: NewWorkerPool(opts.MetadataWorkers, 64),
		persist:  NewWorkerPool(1, 256),
		cancel:   cancel,
	}
	e.metadata.OnError = func(err error) { e.warn("metadata lookup failed", err) }
	e.persist.OnError = func(err error) { e.warn("persistence failed", err) }
	e.metadata.Start(ctx)
	e.persist.Start(ctx)
	return e
}

// Subscribe registers fn for engine events. fn runs after the engine lock
// is released, so it may call back into the engine.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

type fetchRequest struct {
	id       annotation.ID
	kind     annotation.Kind
	text     string
	surround string
}

// Create annotates the text under r. The range is trimmed of surrounding
// whitespace, checked against the span rules and against existing
// annotations, then bound. Same-kind annotations inside the new range are
// replaced by it once it is bound. Only *annotation.ValidationError,
// *annotation.OverlapConflictError and ErrClosed are returned.
func (e *Engine) Create(ctx context.Context, r geometry.Range, kind annotation.Kind) (CreateResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return CreateResult{}, ErrClosed
	}
	res, events, fetch, err := e.create(ctx, r, kind)
	e.mu.Unlock()
	if err != nil {
		return CreateResult{}, err
	}
	e.bus.Publish(events...)
	if fetch != nil {
		e.dispatch(ctx, *fetch)
	}
	return res, nil
}

func (e *Engine) create(ctx context.Context, r geometry.Range, kind annotation.Kind) (CreateResult, []Event, *fetchRequest, error) {
	text := e.doc.Text()
	r = annotation.TrimRange(text, r)
	if err := e.opts.Rules.Check(kind, text, r); err != nil {
		e.log.Debug("selection rejected", "kind", kind, "range", r, "err", err)
		return CreateResult{}, nil, nil, err
	}
	superseded, err := e.consolidate(r, kind)
	if err != nil {
		e.log.Debug("selection rejected", "kind", kind, "range", r, "err", err)
		return CreateResult{}, nil, nil, err
	}

	id := e.opts.NewID()
	el, err := e.doc.Bind(r, id, kind)
	if err != nil {
		e.warn("selection dropped", err)
		return CreateResult{}, nil, nil, nil
	}

	now := e.opts.Now()
	a := annotation.Annotation{
		ID:          id,
		Kind:        kind,
		PrimaryText: text[r.Start:r.End],
		Context:     lang.ContextWindow(text, r, e.opts.ContextWindow),
		Metadata:    annotation.MetadataPending,
		Anchors:     anchor.Capture(text, r),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if kind == annotation.Vocabulary && e.opts.Lexicon != nil {
		if lemma, reading, ok := e.opts.Lexicon.Lemma(a.PrimaryText); ok {
			a.Lemma, a.Reading = lemma, reading
		}
	}
	e.store.Put(store.Record{Annotation: a, Range: r, Element: el})

	res := CreateResult{ID: id, Kind: kind, Range: r}
	var events []Event
	for _, old := range superseded {
		e.discard(old.ID)
		res.Superseded = append(res.Superseded, old.ID)
		events = append(events, Event{Type: AnnotationRemoved, ID: old.ID, Kind: old.Kind})
	}
	events = append(events, Event{Type: AnnotationCreated, ID: id, Kind: kind})

	if len(res.Superseded) > 0 {
		ids := res.Superseded
		e.submitPersist(ctx, "unpersist", ids, func(ctx context.Context, p Persister) error {
			return p.UnpersistBatch(ctx, ids)
		})
	}
	saved := a.Clone()
	e.submitPersist(ctx, "persist", []annotation.ID{id}, func(ctx context.Context, p Persister) error {
		return p.Persist(ctx, saved)
	})

	e.log.Info("annotation created", "id", id, "kind", kind, "range", r, "superseded", len(res.Superseded))
	fetch, ok := e.prepareFetch(id)
	if !ok {
		return res, events, nil, nil
	}
	return res, events, &fetch, nil
}

// consolidate checks r against the live annotations it touches. It returns
// the same-kind annotations r encloses, or an error when r would cross one.
// A sentence may hold vocabularies but never sit inside one.
func (e *Engine) consolidate(r geometry.Range, kind annotation.Kind) ([]store.Record, error) {
	var superseded []store.Record
	for _, ex := range e.store.AllOverlapping(r) {
		conflict := false
		if ex.Kind == kind {
			switch {
			case geometry.Contains(r, ex.Range):
				superseded = append(superseded, ex)
			case geometry.Overlaps(r, ex.Range):
				conflict = true
			}
		} else {
			sentence, vocabulary := r, ex.Range
			if kind == annotation.Vocabulary {
				sentence, vocabulary = ex.Range, r
			}
			conflict = !geometry.Contains(sentence, vocabulary)
		}
		if conflict {
			return nil, &annotation.OverlapConflictError{Kind: kind, Range: r, Conflict: ex.ID, ConflictKind: ex.Kind}
		}
	}
	return superseded, nil
}

// discard drops the markup and the record for id. The caller holds e.mu.
func (e *Engine) discard(id annotation.ID) {
	if _, err := e.doc.Unbind(id); err != nil {
		e.warn("unbind failed", err)
	}
	e.store.Delete(id)
	delete(e.fetching, id)
}

// Remove deletes one annotation. Removing an unknown id is a no-op and
// reports false.
func (e *Engine) Remove(ctx context.Context, id annotation.ID) bool {
	e.mu.Lock()
	rec, ok := e.store.Get(id)
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.discard(id)
	e.submitPersist(ctx, "unpersist", []annotation.ID{id}, func(ctx context.Context, p Persister) error {
		return p.Unpersist(ctx, id)
	})
	e.mu.Unlock()

	e.log.Info("annotation removed", "id", id, "kind", rec.Kind)
	e.bus.Publish(Event{Type: AnnotationRemoved, ID: id, Kind: rec.Kind})
	return true
}

// RemoveBatch deletes several annotations as one change: records go first,
// then a single storage write, then the markup, then one BulkRemoved event.
// Unknown and repeated ids are skipped.
func (e *Engine) RemoveBatch(ctx context.Context, ids []annotation.ID) BatchResult {
	res := BatchResult{ByKind: make(map[annotation.Kind]int)}
	e.mu.Lock()
	seen := make(map[annotation.ID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok := e.store.Get(id)
		if !ok {
			continue
		}
		e.store.Delete(id)
		delete(e.fetching, id)
		res.Removed = append(res.Removed, id)
		res.ByKind[rec.Kind]++
	}
	if len(res.Removed) == 0 {
		e.mu.Unlock()
		return res
	}
	removed := append([]annotation.ID(nil), res.Removed...)
	e.submitPersist(ctx, "unpersist", removed, func(ctx context.Context, p Persister) error {
		return p.UnpersistBatch(ctx, removed)
	})
	for _, id := range removed {
		if _, err := e.doc.Unbind(id); err != nil {
			e.warn("unbind failed", err)
		}
	}
	e.mu.Unlock()

	byKind := make(map[annotation.Kind]int, len(res.ByKind))
	for k, n := range res.ByKind {
		byKind[k] = n
	}
	e.log.Info("annotations removed", "count", len(removed))
	e.bus.Publish(Event{Type: BulkRemoved, IDs: removed, Count: len(removed), ByKind: byKind})
	return res
}

// EnsureMetadata starts a lookup for id unless its metadata is resolved or
// a lookup is already running. It reports whether one was started.
func (e *Engine) EnsureMetadata(ctx context.Context, id annotation.ID) bool {
	e.mu.Lock()
	fetch, ok := e.prepareFetch(id)
	e.mu.Unlock()
	if ok {
		e.dispatch(ctx, fetch)
	}
	return ok
}

// prepareFetch marks id as being fetched. The caller holds e.mu.
func (e *Engine) prepareFetch(id annotation.ID) (fetchRequest, bool) {
	if e.opts.Translator == nil || e.fetching[id] {
		return fetchRequest{}, false
	}
	rec, ok := e.store.Get(id)
	if !ok || rec.HasMetadata() {
		return fetchRequest{}, false
	}
	e.fetching[id] = true
	if rec.Metadata != annotation.MetadataPending {
		e.store.Update(id, func(r *store.Record) { r.Metadata = annotation.MetadataPending })
	}
	return fetchRequest{id: id, kind: rec.Kind, text: rec.PrimaryText, surround: rec.Context}, true
}

func (e *Engine) dispatch(ctx context.Context, f fetchRequest) {
	err := e.metadata.SubmitCtx(ctx, func(ctx context.Context) error {
		return e.fetch(ctx, f)
	})
	if err != nil {
		e.mu.Lock()
		delete(e.fetching, f.id)
		e.mu.Unlock()
		e.warn("metadata lookup not started", &annotation.MetadataFetchError{ID: f.id, Err: err})
	}
}

// fetch runs on the metadata pool. Results for annotations removed in the
// meantime are dropped.
func (e *Engine) fetch(ctx context.Context, f fetchRequest) error {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.MetadataTimeout)
	res, err := e.opts.Translator.Translate(callCtx, f.text, f.surround)
	cancel()

	e.mu.Lock()
	delete(e.fetching, f.id)
	if _, ok := e.store.Get(f.id); !ok {
		e.mu.Unlock()
		e.log.Debug("metadata discarded for removed annotation", "id", f.id)
		return nil
	}
	if err != nil {
		e.store.Update(f.id, func(r *store.Record) { r.Metadata = annotation.MetadataFailed })
		e.mu.Unlock()
		return &annotation.MetadataFetchError{ID: f.id, Err: err}
	}
	var saved annotation.Annotation
	e.store.Update(f.id, func(r *store.Record) {
		r.Translation = res.Translation
		r.Examples = append([]string(nil), res.Examples...)
		r.Metadata = annotation.MetadataResolved
		r.UpdatedAt = e.opts.Now()
		saved = r.Annotation.Clone()
	})
	e.submitPersist(context.Background(), "persist", []annotation.ID{f.id}, func(ctx context.Context, p Persister) error {
		return p.Persist(ctx, saved)
	})
	e.mu.Unlock()

	e.bus.Publish(Event{Type: AnnotationMetadataUpdated, ID: f.id, Kind: f.kind})
	return nil
}

// submitPersist queues a storage write. The caller holds e.mu so writes
// queue in the order the changes were made; the persistence worker never
// takes e.mu.
func (e *Engine) submitPersist(ctx context.Context, op string, ids []annotation.ID, fn func(context.Context, Persister) error) {
	p := e.opts.Persister
	if p == nil {
		return
	}
	err := e.persist.SubmitCtx(ctx, func(ctx context.Context) error {
		if err := fn(ctx, p); err != nil {
			return &annotation.PersistenceError{Op: op, IDs: ids, Err: err}
		}
		return nil
	})
	if err != nil {
		e.warn("persistence not queued", &annotation.PersistenceError{Op: op, IDs: ids, Err: err})
	}
}

// Restore binds previously stored annotations to the document. Each record
// is relocated through its anchors; records that no longer resolve, that
// cross a live annotation or duplicate one are dropped from the session.
// Records whose position moved are stored again with fresh anchors.
func (e *Engine) Restore(ctx context.Context, records []annotation.Annotation) RestoreResult {
	sorted := make([]annotation.Annotation, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Anchors, sorted[j].Anchors
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End > b.End
	})

	var (
		res    RestoreResult
		events []Event
		moved  []annotation.Annotation
	)
	e.mu.Lock()
	text := e.doc.Text()
	for _, a := range sorted {
		shifted, err := e.restore(text, &a)
		if err != nil {
			res.Dropped = append(res.Dropped, a.ID)
			e.warn("stored annotation dropped", err)
			continue
		}
		if shifted {
			moved = append(moved, a.Clone())
		}
		res.Restored = append(res.Restored, a.ID)
		events = append(events, Event{Type: AnnotationCreated, ID: a.ID, Kind: a.Kind})
	}
	if len(moved) > 0 {
		ids := make([]annotation.ID, len(moved))
		for i, a := range moved {
			ids[i] = a.ID
		}
		e.submitPersist(ctx, "persist", ids, func(ctx context.Context, p Persister) error {
			return p.PersistBatch(ctx, moved)
		})
	}
	e.mu.Unlock()

	e.log.Info("annotations restored", "restored", len(res.Restored), "dropped", len(res.Dropped))
	e.bus.Publish(events...)
	return res
}

// restore binds one stored record and reports whether it had to be
// re-anchored. The caller holds e.mu.
func (e *Engine) restore(text string, a *annotation.Annotation) (bool, error) {
	if !a.Kind.Valid() {
		return false, &annotation.ValidationError{Kind: a.Kind, Range: a.Range(), Reason: "unknown kind"}
	}
	if _, ok := e.store.Get(a.ID); ok {
		return false, &annotation.OverlapConflictError{Kind: a.Kind, Range: a.Range(), Conflict: a.ID, ConflictKind: a.Kind}
	}
	r, err := a.Anchors.Resolve(text)
	if err != nil {
		return false, &annotation.StaleRangeError{ID: a.ID, Range: a.Range(), Err: err}
	}
	superseded, err := e.consolidate(r, a.Kind)
	if err != nil {
		return false, err
	}
	if len(superseded) > 0 {
		return false, &annotation.OverlapConflictError{Kind: a.Kind, Range: r, Conflict: superseded[0].ID, ConflictKind: a.Kind}
	}
	el, err := e.doc.Bind(r, a.ID, a.Kind)
	if err != nil {
		return false, err
	}
	*a = a.Clone()
	shifted := r != a.Range()
	if shifted {
		a.Anchors = anchor.Capture(text, r)
		a.UpdatedAt = e.opts.Now()
	}
	if a.Metadata == "" {
		a.Metadata = annotation.MetadataPending
	}
	e.store.Put(store.Record{Annotation: *a, Range: r, Element: el})
	return shifted, nil
}

// Snapshot returns every live record ordered by range.
func (e *Engine) Snapshot() []store.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecords(e.store.All())
}

// Get returns the live record for id.
func (e *Engine) Get(id annotation.ID) (store.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.store.Get(id)
	rec.Annotation = rec.Annotation.Clone()
	return rec, ok
}

// Enclosed returns the records whose range lies entirely within r.
func (e *Engine) Enclosed(r geometry.Range) []store.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []store.Record
	for _, rec := range e.store.AllOverlapping(r) {
		if geometry.Contains(r, rec.Range) {
			out = append(out, rec)
		}
	}
	return cloneRecords(out)
}

// AnnotationAt returns the live annotation whose markup encloses n.
func (e *Engine) AnnotationAt(n *html.Node) (annotation.ID, *html.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for cur := n; cur != nil; {
		id, el := binder.AnnotationOf(cur)
		if el == nil {
			return "", nil, false
		}
		if _, ok := e.store.Get(id); ok {
			return id, el, true
		}
		cur = el.Parent
	}
	return "", nil, false
}

// SetPending toggles the pending-deletion state on the markup of ids.
func (e *Engine) SetPending(ids []annotation.ID, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.doc.SetState(id, binder.PendingDelete, on)
	}
}

// SetSelected toggles the selected state on the markup of id.
func (e *Engine) SetSelected(id annotation.ID, on bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.SetState(id, binder.Selected, on)
}

// View runs fn with the document while no mutation can run. fn must not
// call back into the engine.
func (e *Engine) View(fn func(doc *binder.Document)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.doc)
}

// Close waits for queued lookups and writes, then stops the workers.
// Later calls to Create fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.metadata.Close()
	e.persist.Close()
	e.cancel()
	return nil
}

func (e *Engine) warn(msg string, err error) {
	e.log.Warn(msg, "err", err)
	if e.opts.OnWarning != nil {
		e.opts.OnWarning(err)
	}
}

func cloneRecords(recs []store.Record) []store.Record {
	for i := range recs {
		recs[i].Annotation = recs[i].Annotation.Clone()
	}
	return recs
}
