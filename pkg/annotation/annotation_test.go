package annotation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/readmark/pkg/geometry"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("sentence")
	require.NoError(t, err)
	assert.Equal(t, Sentence, k)

	_, err = ParseKind("paragraph")
	assert.Error(t, err)
	assert.False(t, Kind("paragraph").Valid())
	assert.Greater(t, Sentence.Rank(), Vocabulary.Rank())
}

func TestRulesVocabulary(t *testing.T) {
	text := "one two three four five"
	rules := DefaultRules()

	assert.NoError(t, rules.Check(Vocabulary, text, geometry.Range{Start: 0, End: 3}))
	assert.NoError(t, rules.Check(Vocabulary, text, geometry.Range{Start: 0, End: 13}))

	err := rules.Check(Vocabulary, text, geometry.Range{Start: 0, End: len(text)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, Vocabulary, verr.Kind)
	assert.Contains(t, verr.Error(), "got 5")
}

func TestRulesSentence(t *testing.T) {
	text := "Short. The cat sat on the mat."
	rules := DefaultRules()

	assert.Error(t, rules.Check(Sentence, text, geometry.Range{Start: 0, End: 6}))
	assert.NoError(t, rules.Check(Sentence, text, geometry.Range{Start: 7, End: len(text)}))
}

func TestRulesRejectBlankAndOutOfBounds(t *testing.T) {
	rules := DefaultRules()
	assert.Error(t, rules.Check(Vocabulary, "a   b", geometry.Range{Start: 1, End: 4}))
	assert.Error(t, rules.Check(Vocabulary, "abc", geometry.Range{Start: 2, End: 9}))
	assert.Error(t, rules.Check(Kind("x"), "abc", geometry.Range{Start: 0, End: 1}))
}

type fixedCounter int

func (c fixedCounter) CountTokens(string) int { return int(c) }

func TestRulesCustomCounter(t *testing.T) {
	rules := DefaultRules()
	rules.Tokens = fixedCounter(4)
	assert.Error(t, rules.Check(Vocabulary, "日本語の勉強", geometry.Range{Start: 0, End: 6}))
	rules.Tokens = fixedCounter(2)
	assert.NoError(t, rules.Check(Vocabulary, "日本語の勉強", geometry.Range{Start: 0, End: 6}))
}

func TestTrimRange(t *testing.T) {
	text := "  an apple \n"
	r := TrimRange(text, geometry.Range{Start: 0, End: len(text)})
	assert.Equal(t, "an apple", text[r.Start:r.End])

	r = TrimRange("   ", geometry.Range{Start: 0, End: 3})
	assert.True(t, r.Empty())
}

func TestErrorsUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	var err error = &PersistenceError{Op: "save", IDs: []ID{"a", "b"}, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "a,b")

	err = &MetadataFetchError{ID: "x", Err: cause}
	assert.True(t, errors.Is(err, cause))

	err = &StaleRangeError{ID: "x", Range: geometry.Range{Start: 1, End: 2}, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "annotation x")

	err = &OverlapConflictError{Kind: Vocabulary, Conflict: "y", ConflictKind: Sentence}
	assert.Contains(t, err.Error(), "cannot nest")
}

func TestCloneDetachesExamples(t *testing.T) {
	a := Annotation{Examples: []string{"one"}}
	b := a.Clone()
	b.Examples[0] = "two"
	assert.Equal(t, "one", a.Examples[0])
}
