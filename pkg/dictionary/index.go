package dictionary

import (
	"sort"
	"strings"
)

// Index maps every kanji and kana spelling to the entries that use it.
// It is read-only after construction.
type Index struct {
	byText map[string][]JMdictEntry
	size   int
}

// NewIndex builds an in-memory index of entries.
func NewIndex(entries []JMdictEntry) *Index {
	idx := make(map[string][]JMdictEntry)
	for _, e := range entries {
		for _, k := range e.Kanji {
			idx[k.Text] = append(idx[k.Text], e)
		}
		for _, k := range e.Kana {
			idx[k.Text] = append(idx[k.Text], e)
		}
	}
	return &Index{byText: idx, size: len(entries)}
}

// Len returns the number of entries indexed.
func (x *Index) Len() int { return x.size }

// Lookup returns the entries spelled word or lemma, restricted to those
// read as reading when a reading is given. Results are ordered by entry id.
func (x *Index) Lookup(word, lemma, reading string) []JMdictEntry {
	candidates := make(map[string]JMdictEntry)
	for _, term := range []string{word, lemma} {
		if term == "" {
			continue
		}
		for _, e := range x.byText[term] {
			candidates[e.Id] = e
		}
	}

	var results []JMdictEntry
	for _, entry := range candidates {
		if isMatch(entry, word, lemma, reading) {
			results = append(results, entry)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Id < results[j].Id
	})
	return results
}

func isMatch(entry JMdictEntry, word, lemma, reading string) bool {
	hasText := false
	for _, els := range [][]JMdictElement{entry.Kanji, entry.Kana} {
		for _, k := range els {
			if k.Text == word || k.Text == lemma {
				hasText = true
			}
		}
	}
	if !hasText {
		return false
	}
	if reading == "" {
		return true
	}
	want := ToHiragana(reading)
	for _, k := range entry.Kana {
		if ToHiragana(k.Text) == want {
			return true
		}
	}
	return false
}

// ToHiragana converts Katakana to Hiragana.
func ToHiragana(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r >= 0x30A1 && r <= 0x30F6 {
			runes[i] = r - 0x60
		}
	}
	return string(runes)
}

// Gloss renders entries as one line: senses separated by "; ", glosses
// within a sense by ", ". At most maxSenses senses are kept (0 keeps all).
func Gloss(entries []JMdictEntry, maxSenses int) string {
	var senses []string
	for _, e := range entries {
		for _, s := range e.Sense {
			if maxSenses > 0 && len(senses) == maxSenses {
				return strings.Join(senses, "; ")
			}
			var glosses []string
			for _, g := range s.Gloss {
				if g.Text != "" {
					glosses = append(glosses, g.Text)
				}
			}
			if len(glosses) > 0 {
				senses = append(senses, strings.Join(glosses, ", "))
			}
		}
	}
	return strings.Join(senses, "; ")
}

// Readings returns the distinct kana spellings of entries in order.
func Readings(entries []JMdictEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		for _, k := range e.Kana {
			if !seen[k.Text] {
				seen[k.Text] = true
				out = append(out, k.Text)
			}
		}
	}
	return out
}
