package tui

import (
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// cell is one rune of document text placed on screen.
type cell struct {
	off   int // byte offset into the document text
	size  int // byte length of the rune
	width int // terminal columns
	r     rune
}

func (c cell) end() int { return c.off + c.size }

// layout wraps document text into screen lines. Whitespace collapses to a
// single space as in HTML, and block boundaries start a new paragraph.
type layout struct {
	width int
	lines [][]cell
}

func newLayout(text string, breaks []int, width int) *layout {
	if width < 4 {
		width = 4
	}
	l := &layout{width: width, lines: [][]cell{nil}}
	cols := 0
	bi := 0
	newline := func() {
		l.lines = append(l.lines, nil)
		cols = 0
	}
	for off := 0; off < len(text); {
		r, size := utf8.DecodeRuneInString(text[off:])
		for bi < len(breaks) && breaks[bi] <= off {
			if len(l.current()) > 0 {
				newline()
				newline()
			}
			bi++
		}
		if unicode.IsSpace(r) {
			line := l.current()
			if len(line) > 0 && line[len(line)-1].r != ' ' && cols < width {
				l.push(cell{off: off, size: size, width: 1, r: ' '})
				cols++
			}
			off += size
			continue
		}
		w := runewidth.RuneWidth(r)
		if w == 0 {
			w = 1
		}
		if cols+w > width {
			l.trimTrailingSpace()
			newline()
		}
		l.push(cell{off: off, size: size, width: w, r: r})
		cols += w
		off += size
	}
	for len(l.lines) > 1 && len(l.current()) == 0 {
		l.lines = l.lines[:len(l.lines)-1]
	}
	return l
}

func (l *layout) current() []cell { return l.lines[len(l.lines)-1] }

func (l *layout) push(c cell) {
	l.lines[len(l.lines)-1] = append(l.lines[len(l.lines)-1], c)
}

func (l *layout) trimTrailingSpace() {
	line := l.current()
	if n := len(line); n > 0 && line[n-1].r == ' ' {
		l.lines[len(l.lines)-1] = line[:n-1]
	}
}

// cellAt returns the cell covering column x of line y.
func (l *layout) cellAt(x, y int) (cell, bool) {
	if y < 0 || y >= len(l.lines) || x < 0 {
		return cell{}, false
	}
	col := 0
	for _, c := range l.lines[y] {
		if x < col+c.width {
			return c, true
		}
		col += c.width
	}
	return cell{}, false
}

// nearest is cellAt clamped to the closest cell on the line, or on the
// nearest non-empty line above. Drags use it so leaving the text keeps a
// sensible end point.
func (l *layout) nearest(x, y int) (cell, bool) {
	if len(l.lines) == 0 {
		return cell{}, false
	}
	if y >= len(l.lines) {
		y = len(l.lines) - 1
		x = l.width
	}
	if y < 0 {
		y, x = 0, 0
	}
	for ; y >= 0; y-- {
		line := l.lines[y]
		if len(line) == 0 {
			x = l.width
			continue
		}
		if c, ok := l.cellAt(x, y); ok {
			return c, true
		}
		if x < 0 {
			return line[0], true
		}
		return line[len(line)-1], true
	}
	return cell{}, false
}

// lineOf returns the line holding offset, or -1.
func (l *layout) lineOf(off int) int {
	for y, line := range l.lines {
		if len(line) > 0 && off < line[len(line)-1].end() {
			return y
		}
	}
	return -1
}
