// Package annotation defines the annotation record, its kinds, the error
// taxonomy shared by the engine and the rules a selection must satisfy.
package annotation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/japaniel/readmark/pkg/anchor"
	"github.com/japaniel/readmark/pkg/geometry"
)

// ID identifies an annotation for its whole lifetime.
type ID string

// NewID returns a fresh random ID.
func NewID() ID { return ID(uuid.NewString()) }

// Kind is the closed set of annotation kinds.
type Kind string

const (
	Vocabulary Kind = "vocabulary"
	Sentence   Kind = "sentence"
)

// Kinds lists every kind, inner kinds first.
var Kinds = []Kind{Vocabulary, Sentence}

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Vocabulary, Sentence:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown annotation kind %q", s)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return k == Vocabulary || k == Sentence }

// Rank orders kinds by how far out they nest: a kind may wrap any kind of
// equal or lower rank.
func (k Kind) Rank() int {
	if k == Sentence {
		return 1
	}
	return 0
}

// MetadataState tracks the asynchronous translation lookup.
type MetadataState string

const (
	MetadataPending  MetadataState = "pending"
	MetadataResolved MetadataState = "resolved"
	MetadataFailed   MetadataState = "failed"
)

// Annotation is the persisted unit: a span of text plus learning metadata.
type Annotation struct {
	ID          ID     `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	PrimaryText string `json:"primary_text" yaml:"primary_text"`
	Context     string `json:"context" yaml:"context"`

	Translation string        `json:"translation,omitempty" yaml:"translation,omitempty"`
	Examples    []string      `json:"examples,omitempty" yaml:"examples,omitempty"`
	Metadata    MetadataState `json:"metadata_state" yaml:"metadata_state"`

	// Lemma and Reading are filled for vocabulary when an analyzer is configured.
	Lemma   string `json:"lemma,omitempty" yaml:"lemma,omitempty"`
	Reading string `json:"reading,omitempty" yaml:"reading,omitempty"`

	Anchors anchor.Span `json:"anchors" yaml:"anchors"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Range returns the offsets the annotation was last anchored at.
func (a Annotation) Range() geometry.Range { return a.Anchors.Range() }

// HasMetadata reports whether the translation has been resolved.
func (a Annotation) HasMetadata() bool { return a.Metadata == MetadataResolved }

// Clone returns a copy that shares no slices with a.
func (a Annotation) Clone() Annotation {
	if a.Examples != nil {
		a.Examples = append([]string(nil), a.Examples...)
	}
	return a
}
