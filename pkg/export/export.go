// Package export turns annotations into study cards.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"gopkg.in/yaml.v3"

	"github.com/japaniel/readmark/pkg/annotation"
)

// Format is an output encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	// FormatTSV is one card per line, importable by flashcard apps.
	FormatTSV Format = "tsv"
)

// ParseFormat accepts yaml, yml, json and tsv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "tsv":
		return FormatTSV, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// Card is one annotation as a question and answer.
type Card struct {
	ID       string   `json:"id" yaml:"id"`
	Kind     string   `json:"kind" yaml:"kind"`
	Front    string   `json:"front" yaml:"front"`
	Back     string   `json:"back,omitempty" yaml:"back,omitempty"`
	Reading  string   `json:"reading,omitempty" yaml:"reading,omitempty"`
	Lemma    string   `json:"lemma,omitempty" yaml:"lemma,omitempty"`
	Context  string   `json:"context,omitempty" yaml:"context,omitempty"`
	Examples []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Deck is the document the cards came from.
type Deck struct {
	Source string `json:"source" yaml:"source"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
	Count  int    `json:"count" yaml:"count"`
	Cards  []Card `json:"cards" yaml:"cards"`
}

// Cards converts annotations in document order. The context is left out
// when it only repeats the front.
func Cards(as []annotation.Annotation) []Card {
	sorted := make([]annotation.Annotation, len(as))
	copy(sorted, as)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Range(), sorted[j].Range()
		if ri.Start != rj.Start {
			return ri.Start < rj.Start
		}
		return sorted[i].Kind.Rank() > sorted[j].Kind.Rank()
	})
	cards := make([]Card, 0, len(sorted))
	for _, a := range sorted {
		c := Card{
			ID:       string(a.ID),
			Kind:     string(a.Kind),
			Front:    a.PrimaryText,
			Back:     a.Translation,
			Reading:  a.Reading,
			Lemma:    a.Lemma,
			Examples: a.Examples,
		}
		if a.Lemma == a.PrimaryText {
			c.Lemma = ""
		}
		if strings.TrimSpace(a.Context) != strings.TrimSpace(a.PrimaryText) {
			c.Context = a.Context
		}
		cards = append(cards, c)
	}
	return cards
}

// Write encodes deck to w.
func Write(w io.Writer, deck Deck, format Format) error {
	deck.Count = len(deck.Cards)
	if deck.Cards == nil {
		deck.Cards = []Card{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(deck)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(deck); err != nil {
			return err
		}
		return enc.Close()
	case FormatTSV:
		cw := csv.NewWriter(w)
		cw.Comma = '\t'
		for _, c := range deck.Cards {
			back := c.Back
			if c.Reading != "" {
				back = "[" + c.Reading + "] " + back
			}
			if err := cw.Write([]string{c.Front, back, c.Context, c.Kind}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

// Copy encodes deck and places it on the system clipboard.
func Copy(deck Deck, format Format) error {
	var buf bytes.Buffer
	if err := Write(&buf, deck, format); err != nil {
		return err
	}
	if err := clipboardWrite(buf.String()); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// CopyCard places a single card, front and back, on the clipboard.
func CopyCard(c Card) error {
	text := c.Front
	if c.Reading != "" {
		text += " [" + c.Reading + "]"
	}
	if c.Back != "" {
		text += "\n" + c.Back
	}
	return clipboardWrite(text)
}
