// Package lang holds the language tooling used around annotations:
// morphological analysis, sentence boundaries and context windows.
package lang

import (
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Token represents a single analyzed unit of text.
type Token struct {
	Surface       string   // The text as it appears (e.g. "行っ")
	BaseForm      string   // The dictionary form (e.g. "行く")
	Reading       string   // The pronunciation (katakana, e.g. "イッ")
	PartsOfSpeech []string // e.g. ["動詞", "自立", "*", "*"] (Kagome POS labels)
	// PrimaryPOS stores the first (primary) part of speech if available.
	PrimaryPOS string
}

// Kagome IPA primary parts of speech that matter for lemma folding.
const (
	posVerb      = "動詞"
	posAdjective = "形容詞"
	posAuxVerb   = "助動詞"
	posParticle  = "助詞"
	posSymbol    = "記号"
)

// Analyzer wraps a kagome tokenizer.
type Analyzer struct {
	t *tokenizer.Tokenizer
}

// NewAnalyzer creates a new tokenizer instance backed by the IPA dictionary.
func NewAnalyzer() (*Analyzer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Analyzer{t: t}, nil
}

// Analyze breaks text into tokens with readings and base forms. Whitespace
// tokens are dropped.
func (a *Analyzer) Analyze(text string) []Token {
	var result []Token
	for _, token := range a.t.Tokenize(text) {
		if token.Class == tokenizer.DUMMY {
			continue
		}
		if strings.TrimSpace(token.Surface) == "" {
			continue
		}

		// IPA features: 0-3 POS levels, 4-5 conjugation, 6 base form,
		// 7 reading, 8 pronunciation.
		features := token.Features()

		base := token.Surface
		if len(features) > 6 && features[6] != "*" {
			base = features[6]
		}
		reading := ""
		if len(features) > 7 && features[7] != "*" {
			reading = features[7]
		}
		primaryPOS := ""
		if len(features) > 0 {
			primaryPOS = features[0]
		}

		result = append(result, Token{
			Surface:       token.Surface,
			BaseForm:      base,
			Reading:       reading,
			PartsOfSpeech: features,
			PrimaryPOS:    primaryPOS,
		})
	}
	return result
}

// CountTokens counts the words of text, ignoring punctuation. It lets the
// analyzer stand in for whitespace splitting when validating vocabulary.
func (a *Analyzer) CountTokens(text string) int {
	n := 0
	for _, tok := range a.Analyze(text) {
		if tok.PrimaryPOS == posSymbol || isPunct(tok.Surface) {
			continue
		}
		n++
	}
	return n
}

// Lemma returns the dictionary form and reading of a short phrase. A single
// word yields its base form. A verb or adjective followed only by
// auxiliaries and particles folds to the head's base form, so "食べました"
// becomes "食べる"; its reading is unknown in that case.
func (a *Analyzer) Lemma(text string) (lemma, reading string, ok bool) {
	var toks []Token
	for _, tok := range a.Analyze(text) {
		if tok.PrimaryPOS != posSymbol {
			toks = append(toks, tok)
		}
	}
	switch {
	case len(toks) == 0:
		return "", "", false
	case len(toks) == 1:
		return toks[0].BaseForm, toks[0].Reading, true
	}
	head := toks[0]
	if head.PrimaryPOS != posVerb && head.PrimaryPOS != posAdjective {
		return "", "", false
	}
	for _, tok := range toks[1:] {
		if tok.PrimaryPOS != posAuxVerb && tok.PrimaryPOS != posParticle {
			return "", "", false
		}
	}
	return head.BaseForm, "", true
}

func isPunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
