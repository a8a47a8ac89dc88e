package annotation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/japaniel/readmark/pkg/geometry"
)

// TokenCounter counts the tokens of a vocabulary selection.
type TokenCounter interface {
	CountTokens(text string) int
}

// WhitespaceTokens counts whitespace-delimited tokens.
type WhitespaceTokens struct{}

func (WhitespaceTokens) CountTokens(text string) int { return len(strings.Fields(text)) }

// Rules are the span limits applied before anything is created.
type Rules struct {
	MaxVocabularyTokens int
	MinSentenceChars    int
	// Tokens counts vocabulary tokens. nil means whitespace splitting.
	Tokens TokenCounter
}

// DefaultRules returns the stock limits.
func DefaultRules() Rules {
	return Rules{MaxVocabularyTokens: 3, MinSentenceChars: 10}
}

// Check validates the text selected by r for the given kind.
func (rl Rules) Check(kind Kind, text string, r geometry.Range) error {
	if !kind.Valid() {
		return &ValidationError{Kind: kind, Range: r, Reason: "unknown kind"}
	}
	if !r.Valid(len(text)) {
		return &ValidationError{Kind: kind, Range: r, Reason: "selection is empty or out of bounds"}
	}
	selected := text[r.Start:r.End]
	if strings.TrimSpace(selected) == "" {
		return &ValidationError{Kind: kind, Range: r, Reason: "selection is blank"}
	}

	switch kind {
	case Vocabulary:
		counter := rl.Tokens
		if counter == nil {
			counter = WhitespaceTokens{}
		}
		n := counter.CountTokens(selected)
		if n < 1 || (rl.MaxVocabularyTokens > 0 && n > rl.MaxVocabularyTokens) {
			return &ValidationError{Kind: kind, Range: r, Reason: fmt.Sprintf("vocabulary must be 1 to %d words, got %d", rl.MaxVocabularyTokens, n)}
		}
	case Sentence:
		if n := utf8.RuneCountInString(selected); n < rl.MinSentenceChars {
			return &ValidationError{Kind: kind, Range: r, Reason: fmt.Sprintf("sentence must be at least %d characters, got %d", rl.MinSentenceChars, n)}
		}
	}
	return nil
}

// TrimRange shrinks r so it neither starts nor ends on whitespace.
func TrimRange(text string, r geometry.Range) geometry.Range {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > len(text) {
		r.End = len(text)
	}
	for r.Start < r.End {
		c, size := utf8.DecodeRuneInString(text[r.Start:r.End])
		if !unicode.IsSpace(c) {
			break
		}
		r.Start += size
	}
	for r.End > r.Start {
		c, size := utf8.DecodeLastRuneInString(text[r.Start:r.End])
		if !unicode.IsSpace(c) {
			break
		}
		r.End -= size
	}
	return r
}
