// Package dictionary looks vocabulary up in a local JMdict file.
package dictionary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JMdictEntry matches the structure of jmdict-simplified entries.
type JMdictEntry struct {
	Id    string          `json:"id"`
	Kanji []JMdictElement `json:"kanji"`
	Kana  []JMdictElement `json:"kana"`
	Sense []JMdictSense   `json:"sense"`
}

type JMdictElement struct {
	Text   string   `json:"text"`
	Common bool     `json:"common"`
	Tags   []string `json:"tags"`
}

type JMdictSense struct {
	PartOfSpeech []string      `json:"partOfSpeech"`
	Gloss        []JMdictGloss `json:"gloss"`
}

type JMdictGloss struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// LoadJMdictSimplified reads a jmdict-simplified file, either the release
// object {"words": [...]} or a bare array of entries.
func LoadJMdictSimplified(path string) ([]JMdictEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJMdictSimplified(f)
}

// ReadJMdictSimplified is LoadJMdictSimplified over an open file.
func ReadJMdictSimplified(r io.ReadSeeker) ([]JMdictEntry, error) {
	var wrapper struct {
		Words []JMdictEntry `json:"words"`
	}
	if err := json.NewDecoder(r).Decode(&wrapper); err == nil && len(wrapper.Words) > 0 {
		return wrapper.Words, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var entries []JMdictEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary as object or array: %w", err)
	}
	return entries, nil
}
