// Package tui is a terminal host for the annotation controller: it draws
// the document with its markup and turns mouse and key input into
// controller calls.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/net/html"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/controller"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/export"
	"github.com/japaniel/readmark/pkg/geometry"
)

// Options configures a Model.
type Options struct {
	Title  string
	Theme  *Theme
	Keys   *KeyMap
	Logger *slog.Logger
}

// Model is the Bubble Tea model for one open document.
type Model struct {
	ctx  context.Context
	eng  *engine.Engine
	ctrl *controller.Controller
	pres *Presenter
	keys KeyMap
	help help.Model
	st   *styles
	log  *slog.Logger

	title  string
	text   string
	breaks []int
	lay    *layout
	width  int
	height int
	top    int

	hoverID   annotation.ID
	hoverNode *html.Node

	pressed  bool
	press    cell
	pressHit bool
	dragTo   cell
	dragged  bool

	counts    map[annotation.Kind]int
	status    string
	statusErr bool
	unsub     func()
	quitting  bool

	copyCard func(export.Card) error
}

// New builds a model. pres must be the presenter ctrl was created with.
func New(ctx context.Context, eng *engine.Engine, ctrl *controller.Controller, pres *Presenter, opts Options) *Model {
	theme := DefaultTheme()
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	keys := DefaultKeyMap()
	if opts.Keys != nil {
		keys = *opts.Keys
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Model{
		ctx:      ctx,
		eng:      eng,
		ctrl:     ctrl,
		pres:     pres,
		keys:     keys,
		help:     help.New(),
		st:       newStyles(theme),
		log:      log,
		title:    opts.Title,
		width:    80,
		height:   24,
		copyCard: export.CopyCard,
	}
	eng.View(func(doc *binder.Document) {
		m.text = doc.Text()
		m.breaks = doc.Breaks()
	})
	m.lay = newLayout(m.text, m.breaks, m.width)
	m.recount()
	m.unsub = eng.Subscribe(func(ev engine.Event) { pres.send(eventMsg(ev)) })
	return m
}

// Run drives m until the user quits or ctx is cancelled.
func Run(ctx context.Context, m *Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseAllMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	m.Close()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops listening to the engine.
func (m *Model) Close() {
	m.unsub()
	m.pres.close()
}

func (m *Model) Init() tea.Cmd {
	return m.pres.listen()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.lay = newLayout(m.text, m.breaks, m.width)
		m.scroll(0)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil

	case popupMsg:
		return m, m.pres.listen()

	case rejectMsg:
		if err := m.pres.takeError(); err != nil {
			m.setStatus(err.Error(), true)
		}
		return m, m.pres.listen()

	case eventMsg:
		m.onEvent(engine.Event(msg))
		return m, m.pres.listen()
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return tea.Quit
	case key.Matches(msg, m.keys.Vocabulary):
		m.ctrl.SetMode(controller.ModeVocabulary)
	case key.Matches(msg, m.keys.Sentence):
		m.ctrl.SetMode(controller.ModeSentence)
	case key.Matches(msg, m.keys.Browse):
		m.ctrl.SetMode(controller.ModeNone)
	case key.Matches(msg, m.keys.Delete):
		k := controller.KeyDelete
		if msg.String() == "backspace" {
			k = controller.KeyBackspace
		}
		m.ctrl.Key(m.ctx, k)
	case key.Matches(msg, m.keys.Cancel):
		m.pressed = false
		m.ctrl.Key(m.ctx, controller.KeyEscape)
		m.status = ""
	case key.Matches(msg, m.keys.Copy):
		m.copySelected()
	case key.Matches(msg, m.keys.Up):
		m.scroll(-1)
	case key.Matches(msg, m.keys.Down):
		m.scroll(1)
	case key.Matches(msg, m.keys.PageUp):
		m.scroll(-m.textHeight())
	case key.Matches(msg, m.keys.PageDown):
		m.scroll(m.textHeight())
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return nil
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		m.scroll(-3)
	case msg.Button == tea.MouseButtonWheelDown:
		m.scroll(3)
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		m.pressed = true
		m.dragged = false
		m.press, m.pressHit = m.cellAt(msg.X, msg.Y)
		m.dragTo = m.press
	case msg.Action == tea.MouseActionMotion && msg.Button == tea.MouseButtonLeft && m.pressed:
		if c, ok := m.lay.nearest(msg.X, m.lineAt(msg.Y)); ok && m.pressHit {
			m.dragTo = c
			m.dragged = m.dragged || c.off != m.press.off
		}
	case msg.Action == tea.MouseActionRelease:
		if !m.pressed {
			return
		}
		m.pressed = false
		if m.dragged {
			m.ctrl.Select(m.ctx, m.dragRange())
			return
		}
		var n *html.Node
		if m.pressHit {
			n = m.nodeAt(m.press.off)
		}
		m.ctrl.Click(m.ctx, n)
	case msg.Action == tea.MouseActionMotion:
		m.pointerMove(msg.X, msg.Y)
	}
}

// pointerMove reports enter and leave on annotation changes, then the
// move itself.
func (m *Model) pointerMove(x, y int) {
	var n *html.Node
	if c, ok := m.cellAt(x, y); ok {
		n = m.nodeAt(c.off)
	}
	var id annotation.ID
	if n != nil {
		id, _, _ = m.eng.AnnotationAt(n)
	}
	if id != m.hoverID {
		if m.hoverID != "" {
			m.ctrl.PointerLeave(m.hoverNode)
		}
		if id != "" {
			m.ctrl.PointerEnter(n)
		}
	}
	m.hoverID = id
	m.hoverNode = n
	m.ctrl.GlobalPointerMove(n)
}

func (m *Model) dragRange() geometry.Range {
	a, b := m.press, m.dragTo
	if b.off < a.off {
		a, b = b, a
	}
	return geometry.Range{Start: a.off, End: b.end()}
}

func (m *Model) copySelected() {
	id, ok := m.ctrl.Selected()
	if !ok {
		id, ok = m.ctrl.Popup()
	}
	if !ok {
		m.setStatus("nothing selected to copy", true)
		return
	}
	rec, ok := m.eng.Get(id)
	if !ok {
		return
	}
	card := export.Cards([]annotation.Annotation{rec.Annotation})[0]
	if err := m.copyCard(card); err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	m.setStatus("copied "+card.Front, false)
}

func (m *Model) onEvent(ev engine.Event) {
	m.log.Debug("engine event", "type", ev.Type, "id", ev.ID)
	switch ev.Type {
	case engine.AnnotationCreated:
		m.setStatus("added "+string(ev.Kind), false)
	case engine.AnnotationRemoved:
		m.setStatus("removed "+string(ev.Kind), false)
	case engine.BulkRemoved:
		m.setStatus(bulkSummary(ev), false)
	case engine.AnnotationMetadataUpdated:
		return
	}
	m.recount()
}

// bulkSummary reads like "removed 3 (2 vocabulary, 1 sentence)".
func bulkSummary(ev engine.Event) string {
	var parts []string
	for _, k := range annotation.Kinds {
		if n := ev.ByKind[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("removed %d", ev.Count)
	}
	return fmt.Sprintf("removed %d (%s)", ev.Count, strings.Join(parts, ", "))
}

func (m *Model) recount() {
	m.counts = make(map[annotation.Kind]int)
	for _, rec := range m.eng.Snapshot() {
		m.counts[rec.Kind]++
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

// Geometry. Row 0 is the status bar; the text starts on row 1.

func (m *Model) lineAt(y int) int { return m.top + y - 1 }

func (m *Model) cellAt(x, y int) (cell, bool) {
	if y < 1 || y > m.textHeight() {
		return cell{}, false
	}
	return m.lay.cellAt(x, m.lineAt(y))
}

func (m *Model) nodeAt(off int) *html.Node {
	var n *html.Node
	m.eng.View(func(doc *binder.Document) { n = doc.NodeAt(off) })
	return n
}

func (m *Model) textHeight() int {
	h := m.height - 1 - lipgloss.Height(m.help.View(m.keys))
	if p := m.popupView(); p != "" {
		h -= lipgloss.Height(p)
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) scroll(delta int) {
	m.top += delta
	if last := len(m.lay.lines) - m.textHeight(); m.top > last {
		m.top = last
	}
	if m.top < 0 {
		m.top = 0
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.statusLine())
	b.WriteString("\n")

	h := m.textHeight()
	marks := m.marks()
	for i := 0; i < h; i++ {
		if y := m.top + i; y < len(m.lay.lines) {
			b.WriteString(m.renderLine(m.lay.lines[y], marks))
		}
		b.WriteString("\n")
	}
	if p := m.popupView(); p != "" {
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// statusLine shows the mode, the title, the counts and the last message.
// The message is shortened first when the line runs out of room.
func (m *Model) statusLine() string {
	mode := m.st.mode.Render("[" + strings.ToUpper(m.ctrl.Mode().String()) + "]")
	counts := fmt.Sprintf("%d vocabulary · %d sentences", m.counts[annotation.Vocabulary], m.counts[annotation.Sentence])
	room := m.width - lipgloss.Width(mode) - 6

	title := ""
	if m.title != "" {
		title = runewidth.Truncate(m.title, max(room-runewidth.StringWidth(counts), 0), "…")
	}
	room -= runewidth.StringWidth(title) + runewidth.StringWidth(counts)

	line := mode
	if title != "" {
		line += " " + m.st.title.Render(title)
	}
	line += "  " + m.st.muted.Render(counts)
	if m.status != "" && room > 3 {
		style := m.st.muted
		if m.statusErr {
			style = m.st.err
		}
		line += "  " + style.Render(runewidth.Truncate(m.status, room-2, "…"))
	}
	return m.st.status.Render(line)
}

// spanMarks is the decoration of one annotation element.
type spanMarks struct {
	r geometry.Range
	m mark
}

func (m *Model) marks() []spanMarks {
	var out []spanMarks
	m.eng.View(func(doc *binder.Document) {
		for _, sp := range doc.Spans() {
			var mk mark
			switch sp.Kind {
			case annotation.Vocabulary:
				mk |= markVocabulary
			case annotation.Sentence:
				mk |= markSentence
			}
			for _, c := range sp.Classes {
				switch c {
				case binder.ClassSelected:
					mk |= markSelected
				case binder.ClassPending:
					mk |= markPending
				}
			}
			out = append(out, spanMarks{r: sp.Range, m: mk})
		}
	})
	if m.pressed && m.dragged {
		out = append(out, spanMarks{r: m.dragRange(), m: markDragging})
	}
	return out
}

func markAt(spans []spanMarks, off int) mark {
	var mk mark
	for _, s := range spans {
		if s.r.Start <= off && off < s.r.End {
			mk |= s.m
		}
	}
	return mk
}

func (m *Model) renderLine(line []cell, spans []spanMarks) string {
	var b, run strings.Builder
	cur := mark(0)
	flush := func() {
		if run.Len() == 0 {
			return
		}
		if cur == 0 {
			b.WriteString(run.String())
		} else {
			b.WriteString(m.st.text(cur).Render(run.String()))
		}
		run.Reset()
	}
	for _, c := range line {
		mk := markAt(spans, c.off)
		if mk != cur {
			flush()
			cur = mk
		}
		run.WriteRune(c.r)
	}
	flush()
	return b.String()
}

func (m *Model) popupView() string {
	a, ok := m.pres.Popup()
	if !ok {
		return ""
	}
	w := m.width - 4
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	lines := []string{m.st.title.Render(a.PrimaryText) + "  " + m.st.muted.Render(string(a.Kind))}
	if (a.Lemma != "" && a.Lemma != a.PrimaryText) || a.Reading != "" {
		lines = append(lines, m.st.muted.Render(strings.TrimSpace(a.Lemma+" "+a.Reading)))
	}
	switch a.Metadata {
	case annotation.MetadataResolved:
		lines = append(lines, wordwrap.String(a.Translation, w))
		for _, ex := range a.Examples {
			lines = append(lines, wordwrap.String("• "+ex, w))
		}
	case annotation.MetadataFailed:
		lines = append(lines, m.st.err.Render("translation unavailable"))
	default:
		lines = append(lines, m.st.muted.Render("looking up…"))
	}
	if a.Kind == annotation.Vocabulary && a.Context != "" {
		lines = append(lines, m.st.muted.Render(wordwrap.String(a.Context, w)))
	}
	return m.st.popup.Width(w).Render(strings.Join(lines, "\n"))
}
