// Package anchor captures text-quote anchors for ranges and relocates them
// after the surrounding text moves.
package anchor

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/japaniel/readmark/pkg/geometry"
)

// ContextBytes is how much text is kept on either side of the quote.
const ContextBytes = 32

// ErrStale is returned when an anchor no longer matches its text.
var ErrStale = errors.New("anchor: quote not found")

// Span anchors a range by its exact text, a little of the text around it
// and the offsets it had when captured. The offsets are only a hint.
type Span struct {
	Exact  string `json:"exact"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Capture builds a Span for r in text. r must be valid for text.
func Capture(text string, r geometry.Range) Span {
	pStart := alignForward(text, max(0, r.Start-ContextBytes))
	sEnd := alignBackward(text, min(len(text), r.End+ContextBytes))
	return Span{
		Exact:  text[r.Start:r.End],
		Prefix: text[pStart:r.Start],
		Suffix: text[r.End:sEnd],
		Start:  r.Start,
		End:    r.End,
	}
}

// Range returns the captured offsets.
func (s Span) Range() geometry.Range {
	return geometry.Range{Start: s.Start, End: s.End}
}

// Resolve finds the range s refers to in text. The hinted offsets win when
// they still hold the quote and its context; otherwise every occurrence of
// the quote is scored by matching context and distance from the hint.
func (s Span) Resolve(text string) (geometry.Range, error) {
	if s.Exact == "" {
		return geometry.Range{}, ErrStale
	}
	hint := s.Range()
	if hint.Valid(len(text)) && text[hint.Start:hint.End] == s.Exact && s.score(text, hint.Start) == 2 {
		return hint, nil
	}

	best, bestScore, bestDist := -1, -1, 0
	for from := 0; from <= len(text)-len(s.Exact); {
		i := strings.Index(text[from:], s.Exact)
		if i < 0 {
			break
		}
		at := from + i
		sc := s.score(text, at)
		dist := abs(at - s.Start)
		if sc > bestScore || (sc == bestScore && dist < bestDist) {
			best, bestScore, bestDist = at, sc, dist
		}
		_, size := utf8.DecodeRuneInString(text[at:])
		from = at + size
	}
	if best < 0 {
		return geometry.Range{}, ErrStale
	}
	// With context on record, at least one side has to agree.
	if bestScore == 0 && (s.Prefix != "" || s.Suffix != "") {
		return geometry.Range{}, ErrStale
	}
	return geometry.Range{Start: best, End: best + len(s.Exact)}, nil
}

// score counts how many of prefix and suffix match around an occurrence at i.
func (s Span) score(text string, at int) int {
	n := 0
	if strings.HasSuffix(text[:at], s.Prefix) {
		n++
	}
	if strings.HasPrefix(text[at+len(s.Exact):], s.Suffix) {
		n++
	}
	return n
}

func alignForward(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

func alignBackward(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
