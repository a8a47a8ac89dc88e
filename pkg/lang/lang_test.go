package lang

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/readmark/pkg/geometry"
)

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"english", "The cat sat. It purred.", []string{"The cat sat.", " It purred."}},
		{"japanese", "猫が好き。犬も好き！", []string{"猫が好き。", "犬も好き！"}},
		{"abbreviation-free dot", "Version 1.5 shipped", []string{"Version 1.5 shipped"}},
		{"newline", "one\ntwo", []string{"one\n", "two"}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitSentences(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.in, strings.Join(got, ""))
		})
	}
}

func TestContextWindow(t *testing.T) {
	text := "The cat sat. It purred."
	r := geometry.Range{Start: 4, End: 7}
	assert.Equal(t, "The cat sat.", ContextWindow(text, r, 0))
	assert.Equal(t, "It purred.", ContextWindow(text, geometry.Range{Start: 16, End: 22}, 0))

	// spans across a boundary take both sentences
	assert.Equal(t, text, ContextWindow(text, geometry.Range{Start: 8, End: 15}, 0))

	long := "aaaa bbbb cccc dddd eeee."
	assert.Equal(t, "bb cccc dd", ContextWindow(long, geometry.Range{Start: 10, End: 14}, 10))

	assert.Equal(t, "", ContextWindow(text, geometry.Range{Start: 3, End: 3}, 0))
}

func TestContextWindowRuneAligned(t *testing.T) {
	text := "ねこがすきです"
	got := ContextWindow(text, geometry.Range{Start: 9, End: 12}, 8)
	assert.True(t, strings.Contains(got, "す"))
	assert.LessOrEqual(t, len(got), 8)
	assert.True(t, utf8.ValidString(got))
}

func TestSanitizeRuby(t *testing.T) {
	in := []byte("<p><ruby>漢字<rp>(</rp><rt>かんじ</rt><rp>)</rp></ruby>を読む</p>")
	assert.Equal(t, "<p><ruby>漢字</ruby>を読む</p>", string(SanitizeRuby(in)))
}

func TestAnalyzer(t *testing.T) {
	a, err := NewAnalyzer()
	require.NoError(t, err)

	toks := a.Analyze("猫が好き")
	require.Len(t, toks, 3)
	assert.Equal(t, "猫", toks[0].Surface)
	assert.Equal(t, "名詞", toks[0].PrimaryPOS)

	assert.Equal(t, 3, a.CountTokens("猫が好き"))
	assert.Equal(t, 1, a.CountTokens("猫。"))

	lemma, reading, ok := a.Lemma("猫")
	require.True(t, ok)
	assert.Equal(t, "猫", lemma)
	assert.Equal(t, "ネコ", reading)

	lemma, _, ok = a.Lemma("食べました")
	require.True(t, ok)
	assert.Equal(t, "食べる", lemma)

	_, _, ok = a.Lemma("猫が好き")
	assert.False(t, ok)
}
