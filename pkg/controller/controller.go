// Package controller turns pointer, selection and key input into engine
// operations. It owns the active mode, the single selected annotation and
// the hover popup.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/geometry"
	"github.com/japaniel/readmark/pkg/store"
)

// Mode decides what a finished selection does.
type Mode int

const (
	ModeNone Mode = iota
	ModeVocabulary
	ModeSentence
)

func (m Mode) String() string {
	switch m {
	case ModeVocabulary:
		return "vocabulary"
	case ModeSentence:
		return "sentence"
	default:
		return "none"
	}
}

// Kind returns the annotation kind a selection creates in this mode.
func (m Mode) Kind() (annotation.Kind, bool) {
	switch m {
	case ModeVocabulary:
		return annotation.Vocabulary, true
	case ModeSentence:
		return annotation.Sentence, true
	}
	return "", false
}

// ParseMode accepts the names produced by String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none", "":
		return ModeNone, nil
	case "vocabulary", "vocab":
		return ModeVocabulary, nil
	case "sentence":
		return ModeSentence, nil
	}
	return ModeNone, fmt.Errorf("unknown mode %q", s)
}

// Key is a keyboard command the controller understands.
type Key string

const (
	KeyDelete    Key = "delete"
	KeyBackspace Key = "backspace"
	KeyEscape    Key = "esc"
)

// DefaultHoverDelay is how long the pointer rests on an annotation before
// its popup opens.
const DefaultHoverDelay = 300 * time.Millisecond

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemScheduler schedules on the runtime timer.
var SystemScheduler Scheduler = systemScheduler{}

// Presenter displays controller output. Its methods run with the
// controller's lock held and must neither block nor call back into the
// controller.
type Presenter interface {
	ShowPopup(rec store.Record)
	HidePopup()
	Reject(err error)
}

// Annotator is the engine surface the controller drives.
type Annotator interface {
	Create(ctx context.Context, r geometry.Range, kind annotation.Kind) (engine.CreateResult, error)
	Remove(ctx context.Context, id annotation.ID) bool
	Get(id annotation.ID) (store.Record, bool)
	AnnotationAt(n *html.Node) (annotation.ID, *html.Node, bool)
	SetSelected(id annotation.ID, on bool) bool
	EnsureMetadata(ctx context.Context, id annotation.ID) bool
	Subscribe(fn func(engine.Event)) (unsubscribe func())
}

// BulkDeleter previews and removes enclosed annotations.
type BulkDeleter interface {
	Preview(r geometry.Range) []annotation.ID
	Confirm(ctx context.Context) engine.BatchResult
	Clear()
	Pending() []annotation.ID
}

// Options configures a Controller. Zero values take defaults.
type Options struct {
	HoverDelay time.Duration
	Scheduler  Scheduler
	Presenter  Presenter
	Logger     *slog.Logger
}

type hover struct {
	id    annotation.ID
	el    *html.Node
	timer Timer
}

type popup struct {
	id annotation.ID
	el *html.Node
}

// Controller serializes input handling. Engine calls that publish events
// are always made without c.mu held because event delivery re-enters the
// controller.
type Controller struct {
	eng   Annotator
	bulk  BulkDeleter
	opts  Options
	log   *slog.Logger
	unsub func()

	mu       sync.Mutex
	mode     Mode
	selected annotation.ID
	hover    hover
	gen      uint64
	popup    *popup
}

type nopPresenter struct{}

func (nopPresenter) ShowPopup(store.Record) {}
func (nopPresenter) HidePopup()             {}
func (nopPresenter) Reject(error)           {}

// New returns a controller in ModeNone.
func New(eng Annotator, bulk BulkDeleter, opts Options) *Controller {
	if opts.HoverDelay <= 0 {
		opts.HoverDelay = DefaultHoverDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Controller{eng: eng, bulk: bulk, opts: opts, log: log}
	c.unsub = eng.Subscribe(c.onEvent)
	return c
}

// Close detaches from the engine and cancels a pending hover.
func (c *Controller) Close() {
	c.unsub()
	c.mu.Lock()
	c.cancelHoverLocked()
	c.mu.Unlock()
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Selected returns the selected annotation, if any.
func (c *Controller) Selected() (annotation.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

// Popup returns the annotation whose popup is showing, if any.
func (c *Controller) Popup() (annotation.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup == nil {
		return "", false
	}
	return c.popup.id, true
}

// SetMode switches modes. A change clears the selection, the popup and
// any bulk preview.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	if m == c.mode {
		c.mu.Unlock()
		return
	}
	c.log.Debug("mode changed", "from", c.mode, "to", m)
	c.mode = m
	c.clearSelectionLocked()
	c.dismissLocked()
	c.mu.Unlock()
	c.bulk.Clear()
}

// Select handles a finished text selection. In an annotation mode it
// creates an annotation of the mode's kind; rejections are reported to
// the presenter and returned. In ModeNone it previews a bulk deletion.
func (c *Controller) Select(ctx context.Context, r geometry.Range) error {
	kind, ok := c.Mode().Kind()
	if !ok {
		c.bulk.Preview(r)
		return nil
	}
	res, err := c.eng.Create(ctx, r, kind)
	if err != nil {
		c.mu.Lock()
		c.opts.Presenter.Reject(err)
		c.mu.Unlock()
		return err
	}
	if res.Created() {
		c.log.Debug("annotation created", "id", res.ID, "kind", kind, "superseded", len(res.Superseded))
	}
	return nil
}

// Click selects the innermost annotation enclosing n, replacing any
// previous selection. Clicking outside every annotation clears the
// selection. Clicks do nothing in ModeNone.
func (c *Controller) Click(ctx context.Context, n *html.Node) bool {
	if c.Mode() == ModeNone {
		return false
	}
	id, _, ok := c.eng.AnnotationAt(n)

	c.mu.Lock()
	if c.selected != id {
		c.clearSelectionLocked()
	}
	if ok {
		c.selected = id
		c.eng.SetSelected(id, true)
	}
	c.mu.Unlock()

	if ok {
		c.eng.EnsureMetadata(ctx, id)
	}
	return ok
}

// PointerEnter starts the hover delay for the annotation enclosing n.
func (c *Controller) PointerEnter(n *html.Node) {
	id, el, ok := c.eng.AnnotationAt(n)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup != nil && c.popup.id == id {
		return
	}
	if c.hover.id == id && c.hover.timer != nil {
		return
	}
	c.cancelHoverLocked()
	gen := c.gen
	c.hover = hover{id: id, el: el}
	c.hover.timer = c.opts.Scheduler.AfterFunc(c.opts.HoverDelay, func() { c.reveal(gen) })
}

// PointerLeave cancels a pending hover on the annotation enclosing n and
// clears the selection if that annotation is the selected one.
func (c *Controller) PointerLeave(n *html.Node) {
	id, _, ok := c.eng.AnnotationAt(n)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hover.id == id {
		c.cancelHoverLocked()
	}
	if c.selected == id {
		c.clearSelectionLocked()
	}
}

// GlobalPointerMove hides the popup once the pointer is no longer inside
// its source annotation. n is the topmost node under the pointer and may
// be nil when nothing is there.
func (c *Controller) GlobalPointerMove(n *html.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup == nil {
		return
	}
	if n != nil && binder.Contains(c.popup.el, n) {
		return
	}
	c.dismissLocked()
}

// Key handles a keyboard command and reports whether it was consumed.
func (c *Controller) Key(ctx context.Context, k Key) bool {
	switch k {
	case KeyDelete, KeyBackspace:
		c.mu.Lock()
		id := c.selected
		c.selected = ""
		c.mu.Unlock()
		if id != "" {
			return c.eng.Remove(ctx, id)
		}
		if len(c.bulk.Pending()) > 0 {
			res := c.bulk.Confirm(ctx)
			c.log.Info("bulk removed", "count", res.Count())
			return true
		}
		return false
	case KeyEscape:
		c.mu.Lock()
		c.clearSelectionLocked()
		c.dismissLocked()
		c.mu.Unlock()
		c.bulk.Clear()
		return true
	}
	return false
}

func (c *Controller) reveal(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.hover.id == "" {
		c.mu.Unlock()
		return
	}
	id, el := c.hover.id, c.hover.el
	c.hover = hover{}
	rec, ok := c.eng.Get(id)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.popup = &popup{id: id, el: el}
	c.opts.Presenter.ShowPopup(rec)
	c.mu.Unlock()

	c.eng.EnsureMetadata(context.Background(), id)
}

func (c *Controller) onEvent(ev engine.Event) {
	var ids []annotation.ID
	switch ev.Type {
	case engine.AnnotationRemoved:
		ids = []annotation.ID{ev.ID}
	case engine.BulkRemoved:
		ids = ev.IDs
	case engine.AnnotationMetadataUpdated:
		c.refreshPopup(ev.ID)
		return
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if c.selected == id {
			c.selected = ""
		}
		if c.hover.id == id {
			c.cancelHoverLocked()
		}
		if c.popup != nil && c.popup.id == id {
			c.dismissLocked()
		}
	}
}

// refreshPopup redraws an open popup once its metadata arrives.
func (c *Controller) refreshPopup(id annotation.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup == nil || c.popup.id != id {
		return
	}
	if rec, ok := c.eng.Get(id); ok {
		c.opts.Presenter.ShowPopup(rec)
	}
}

func (c *Controller) clearSelectionLocked() {
	if c.selected == "" {
		return
	}
	c.eng.SetSelected(c.selected, false)
	c.selected = ""
}

func (c *Controller) cancelHoverLocked() {
	if c.hover.timer != nil {
		c.hover.timer.Stop()
	}
	c.hover = hover{}
	c.gen++
}

func (c *Controller) dismissLocked() {
	c.cancelHoverLocked()
	if c.popup == nil {
		return
	}
	c.popup = nil
	c.opts.Presenter.HidePopup()
}
