package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/store"
)

type (
	popupMsg  struct{}
	rejectMsg struct{}
	eventMsg  engine.Event
)

// Presenter receives popup and rejection calls from the controller and
// forwards them to the Bubble Tea program. Its methods never block: the
// controller calls them while holding its own lock.
type Presenter struct {
	mu     sync.Mutex
	popup  *annotation.Annotation
	err    error
	notify chan tea.Msg
	done   chan struct{}
	once   sync.Once
}

// NewPresenter returns a presenter ready to hand to controller.New.
func NewPresenter() *Presenter {
	return &Presenter{
		notify: make(chan tea.Msg, 64),
		done:   make(chan struct{}),
	}
}

func (p *Presenter) ShowPopup(rec store.Record) {
	a := rec.Annotation.Clone()
	p.mu.Lock()
	p.popup = &a
	p.mu.Unlock()
	p.send(popupMsg{})
}

func (p *Presenter) HidePopup() {
	p.mu.Lock()
	p.popup = nil
	p.mu.Unlock()
	p.send(popupMsg{})
}

func (p *Presenter) Reject(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.send(rejectMsg{})
}

// Popup returns the annotation shown in the popup.
func (p *Presenter) Popup() (annotation.Annotation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.popup == nil {
		return annotation.Annotation{}, false
	}
	return p.popup.Clone(), true
}

// takeError returns and clears the last rejection.
func (p *Presenter) takeError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.err
	p.err = nil
	return err
}

// send queues msg for the program. A full queue already guarantees a
// redraw, so msg is dropped then.
func (p *Presenter) send(msg tea.Msg) {
	select {
	case p.notify <- msg:
	default:
	}
}

// listen waits for the next queued message.
func (p *Presenter) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-p.notify:
			return msg
		case <-p.done:
			return nil
		}
	}
}

func (p *Presenter) close() {
	p.once.Do(func() { close(p.done) })
}
