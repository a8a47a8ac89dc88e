package dictionary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/japaniel/readmark/pkg/translate"
)

// ErrNoEntry means the dictionary has nothing for the text.
var ErrNoEntry = errors.New("dictionary: no entry")

// Lexicon reduces inflected text to its dictionary form.
type Lexicon interface {
	Lemma(text string) (lemma, reading string, ok bool)
}

// Translator answers vocabulary lookups offline. Sentences and unknown
// words fail with ErrNoEntry so a translate.Chain can fall through to the
// next service.
type Translator struct {
	idx       *Index
	lex       Lexicon
	maxSenses int
}

// NewTranslator returns a Translator over idx. lex may be nil, in which
// case only the surface text is looked up.
func NewTranslator(idx *Index, lex Lexicon) *Translator {
	return &Translator{idx: idx, lex: lex, maxSenses: 3}
}

// Translate glosses text. surrounding is unused.
func (t *Translator) Translate(ctx context.Context, text, _ string) (translate.Result, error) {
	if err := ctx.Err(); err != nil {
		return translate.Result{}, err
	}
	word := strings.TrimSpace(text)
	var lemma, reading string
	if t.lex != nil {
		lemma, reading, _ = t.lex.Lemma(word)
	}

	matches := t.idx.Lookup(word, lemma, reading)
	if len(matches) == 0 && reading != "" {
		matches = t.idx.Lookup(word, lemma, "")
	}
	if len(matches) == 0 {
		return translate.Result{}, fmt.Errorf("%w for %q", ErrNoEntry, word)
	}
	gloss := Gloss(matches, t.maxSenses)
	if readings := Readings(matches); len(readings) > 0 && readings[0] != word {
		gloss = "[" + readings[0] + "] " + gloss
	}
	return translate.Result{Translation: gloss}, nil
}
