package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/readmark/pkg/geometry"
)

func TestResolveAtHint(t *testing.T) {
	text := "the cat sat on the mat"
	span := Capture(text, geometry.Range{Start: 4, End: 7})
	assert.Equal(t, "cat", span.Exact)
	assert.Equal(t, "the ", span.Prefix)

	r, err := span.Resolve(text)
	require.NoError(t, err)
	assert.Equal(t, geometry.Range{Start: 4, End: 7}, r)
}

func TestResolveAfterShift(t *testing.T) {
	text := "the cat sat on the mat"
	span := Capture(text, geometry.Range{Start: 15, End: 18}) // second "the"

	shifted := "Yesterday, " + text
	r, err := span.Resolve(shifted)
	require.NoError(t, err)
	assert.Equal(t, "the", shifted[r.Start:r.End])
	assert.Equal(t, 15+len("Yesterday, "), r.Start, "context must pick the second occurrence")
}

func TestResolvePrefersContextOverDistance(t *testing.T) {
	text := "x dog ran"
	span := Capture(text, geometry.Range{Start: 2, End: 5})
	// The hinted offsets still hold "dog", but in the wrong place.
	moved := "y dog sat. x dog ran"
	r, err := span.Resolve(moved)
	require.NoError(t, err)
	assert.Equal(t, 13, r.Start)
}

func TestResolveStale(t *testing.T) {
	span := Capture("the cat sat", geometry.Range{Start: 4, End: 7})
	_, err := span.Resolve("the dog sat")
	assert.ErrorIs(t, err, ErrStale)

	_, err = Span{}.Resolve("anything")
	assert.ErrorIs(t, err, ErrStale)
}

func TestCaptureAlignsToRunes(t *testing.T) {
	text := "日本語の文章を読みます。猫が好きです。"
	start := len("日本語の文章を読みます。")
	r := geometry.Range{Start: start, End: start + len("猫")}
	span := Capture(text, r)
	assert.Equal(t, "猫", span.Exact)
	assert.True(t, len(span.Prefix) <= ContextBytes)
	got, err := span.Resolve(text)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}
