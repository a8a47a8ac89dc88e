package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme is the reader's palette.
type Theme struct {
	Vocabulary lipgloss.Color
	Sentence   lipgloss.Color
	Selected   lipgloss.Color
	Pending    lipgloss.Color
	Muted      lipgloss.Color
	Error      lipgloss.Color
	Border     lipgloss.Color
}

// DefaultTheme returns the default palette.
func DefaultTheme() Theme {
	return Theme{
		Vocabulary: lipgloss.Color("#F9E2AF"), // yellow
		Sentence:   lipgloss.Color("#313244"), // slate
		Selected:   lipgloss.Color("#7C3AED"), // purple
		Pending:    lipgloss.Color("#F38BA8"), // red
		Muted:      lipgloss.Color("#6C7086"),
		Error:      lipgloss.Color("#F38BA8"),
		Border:     lipgloss.Color("#45475A"),
	}
}

// mark flags describe how one cell of text is decorated.
type mark uint8

const (
	markVocabulary mark = 1 << iota
	markSentence
	markSelected
	markPending
	markDragging
)

type styles struct {
	theme  Theme
	cache  map[mark]lipgloss.Style
	status lipgloss.Style
	mode   lipgloss.Style
	muted  lipgloss.Style
	err    lipgloss.Style
	popup  lipgloss.Style
	title  lipgloss.Style
}

func newStyles(t Theme) *styles {
	return &styles{
		theme:  t,
		cache:  make(map[mark]lipgloss.Style),
		status: lipgloss.NewStyle().Foreground(t.Muted).Padding(0, 1),
		mode:   lipgloss.NewStyle().Bold(true).Foreground(t.Selected),
		muted:  lipgloss.NewStyle().Foreground(t.Muted),
		err:    lipgloss.NewStyle().Foreground(t.Error).Bold(true),
		popup: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),
		title: lipgloss.NewStyle().Bold(true),
	}
}

// text returns the style for a combination of marks.
func (s *styles) text(m mark) lipgloss.Style {
	if st, ok := s.cache[m]; ok {
		return st
	}
	st := lipgloss.NewStyle()
	if m&markSentence != 0 {
		st = st.Background(s.theme.Sentence)
	}
	if m&markVocabulary != 0 {
		st = st.Foreground(s.theme.Vocabulary).Underline(true)
	}
	if m&markSelected != 0 {
		st = st.Background(s.theme.Selected).Bold(true)
	}
	if m&markPending != 0 {
		st = st.Foreground(s.theme.Pending).Strikethrough(true)
	}
	if m&markDragging != 0 {
		st = st.Reverse(true)
	}
	s.cache[m] = st
	return st
}
