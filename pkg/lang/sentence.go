package lang

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/japaniel/readmark/pkg/geometry"
)

// SplitSentences cuts text after sentence delimiters: 。！？ and newlines
// always, and . ! ? when followed by whitespace or the end of text. The
// pieces concatenate back to text.
func SplitSentences(text string) []string {
	var out []string
	for _, r := range SentenceRanges(text) {
		out = append(out, text[r.Start:r.End])
	}
	return out
}

// SentenceRanges returns the offsets of each piece SplitSentences yields.
func SentenceRanges(text string) []geometry.Range {
	var out []geometry.Range
	start := 0
	for i, r := range text {
		end := i + utf8.RuneLen(r)
		if isBoundary(text, r, end) {
			out = append(out, geometry.Range{Start: start, End: end})
			start = end
		}
	}
	if start < len(text) {
		out = append(out, geometry.Range{Start: start, End: len(text)})
	}
	return out
}

func isBoundary(text string, r rune, next int) bool {
	switch r {
	case '。', '！', '？', '\n':
		return true
	case '.', '!', '?':
		if next == len(text) {
			return true
		}
		after, _ := utf8.DecodeRuneInString(text[next:])
		return unicode.IsSpace(after)
	}
	return false
}

// ContextWindow returns the sentences around r, trimmed, at most limit
// bytes long. When the sentences are longer than limit the window is
// centered on r and cut on rune boundaries. limit <= 0 means no limit.
func ContextWindow(text string, r geometry.Range, limit int) string {
	if !r.Valid(len(text)) {
		return ""
	}
	from, to := r.Start, r.End
	for _, s := range SentenceRanges(text) {
		if s.Start <= r.Start && r.Start < s.End {
			from = s.Start
		}
		if s.Start < r.End && r.End <= s.End {
			to = s.End
		}
	}
	if limit > 0 && to-from > limit {
		if r.Len() >= limit {
			from, to = r.Start, r.Start+limit
		} else {
			slack := (limit - r.Len()) / 2
			from = max(from, r.Start-slack)
			to = min(to, from+limit)
			from = max(from, to-limit)
		}
		for from < len(text) && !utf8.RuneStart(text[from]) {
			from++
		}
		for to > from && to < len(text) && !utf8.RuneStart(text[to]) {
			to--
		}
	}
	return strings.TrimSpace(text[from:to])
}

var (
	// (?s) allows dot to match newlines
	// (?i) makes it case-insensitive
	reRT = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
)

// SanitizeRuby removes ruby text (<rt>...</rt>) and ruby parentheses
// (<rp>...</rp>) from HTML content. Readability extracts all text including
// furigana, which would otherwise duplicate readings into the document text
// (e.g. "漢字" becomes "漢字かんじ").
func SanitizeRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, []byte{})
	cleaned = reRP.ReplaceAll(cleaned, []byte{})
	return cleaned
}
