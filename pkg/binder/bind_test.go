package binder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/geometry"
)

func parse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	require.NoError(t, err)
	return d
}

// bodyHTML renders the children of <body>.
func bodyHTML(t *testing.T, d *Document) string {
	t.Helper()
	var body *html.Node
	walkElements(d.Root(), func(n *html.Node) {
		if n.DataAtom == atom.Body && body == nil {
			body = n
		}
	})
	require.NotNil(t, body)
	var b strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		require.NoError(t, html.Render(&b, c))
	}
	return b.String()
}

func span(text, sub string) geometry.Range {
	i := strings.Index(text, sub)
	return geometry.Range{Start: i, End: i + len(sub)}
}

func TestBindWrapsRange(t *testing.T) {
	d := parse(t, "<p>I ate an apple today</p>")
	text := d.Text()
	require.Equal(t, "I ate an apple today", text)

	el, err := d.Bind(span(text, "an apple"), "a1", annotation.Vocabulary)
	require.NoError(t, err)
	assert.Equal(t, "mark", el.Data)
	assert.Equal(t, text, d.Text(), "text content must not change")
	assert.Equal(t, 1, d.Count("a1"))
	assert.Contains(t, bodyHTML(t, d), `>an apple</mark>`)
	assert.Equal(t, annotation.Vocabulary, KindOf(el))
}

func TestBindPreservesNestedAnnotation(t *testing.T) {
	d := parse(t, "<p>The cat sat. It purred.</p>")
	text := d.Text()

	_, err := d.Bind(span(text, "cat"), "v", annotation.Vocabulary)
	require.NoError(t, err)
	outer, err := d.Bind(span(text, "The cat sat."), "s", annotation.Sentence)
	require.NoError(t, err)

	inner := d.ElementOf("v")
	require.NotNil(t, inner)
	assert.True(t, Contains(outer, inner), "vocabulary must sit inside the sentence")
	assert.Equal(t, text, d.Text())

	n, err := d.Unbind("s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, d.Count("s"))
	assert.Equal(t, 1, d.Count("v"), "inner annotation survives")
	assert.Equal(t, text, d.Text())
}

func TestUnbindLeavesSingleTextNode(t *testing.T) {
	d := parse(t, "<p>I ate an apple today</p>")
	text := d.Text()
	_, err := d.Bind(span(text, "apple"), "a", annotation.Vocabulary)
	require.NoError(t, err)
	_, err = d.Unbind("a")
	require.NoError(t, err)

	assert.Equal(t, "<p>I ate an apple today</p>", bodyHTML(t, d))
	p := d.NodeAt(0).Parent
	assert.Equal(t, p.FirstChild, p.LastChild, "adjacent text nodes are merged")
}

func TestBindAcrossInlineElementRejoinsOnUnbind(t *testing.T) {
	const src = "<p>The <b class=\"x\">big cat</b> sat down.</p>"
	d := parse(t, src)
	original := bodyHTML(t, d)
	text := d.Text()

	_, err := d.Bind(span(text, "cat sat"), "s", annotation.Vocabulary)
	require.NoError(t, err)
	assert.Equal(t, text, d.Text())
	assert.Equal(t, 1, d.Count("s"))

	_, err = d.Unbind("s")
	require.NoError(t, err)
	assert.Equal(t, original, bodyHTML(t, d))
}

func TestBindAcrossParagraphsRejoinsOnUnbind(t *testing.T) {
	d := parse(t, "<p>One two three.</p><p>Four five six.</p>")
	original := bodyHTML(t, d)
	text := d.Text()

	_, err := d.Bind(span(text, "three.Four five"), "s", annotation.Sentence)
	require.NoError(t, err)
	assert.Equal(t, text, d.Text())

	_, err = d.Unbind("s")
	require.NoError(t, err)
	assert.Equal(t, original, bodyHTML(t, d))
}

func TestBindRefusesToCutAnnotation(t *testing.T) {
	d := parse(t, "<p>The cat sat. It purred loudly.</p>")
	text := d.Text()
	_, err := d.Bind(span(text, "The cat sat."), "s", annotation.Sentence)
	require.NoError(t, err)

	_, err = d.Bind(span(text, "sat. It"), "v", annotation.Vocabulary)
	var stale *annotation.StaleRangeError
	require.ErrorAs(t, err, &stale)
	assert.ErrorIs(t, err, ErrCrossesAnnotation)
	assert.Equal(t, 0, d.Count("v"))
	assert.Equal(t, text, d.Text())
}

func TestBindEqualRangesNestByKind(t *testing.T) {
	d := parse(t, "<p>Hello there, friend.</p>")
	text := d.Text()
	r := span(text, "Hello there, friend.")

	_, err := d.Bind(r, "v", annotation.Vocabulary)
	require.NoError(t, err)
	_, err = d.Bind(r, "s", annotation.Sentence)
	require.NoError(t, err)
	assert.True(t, Contains(d.ElementOf("s"), d.ElementOf("v")), "sentence wraps vocabulary")

	d = parse(t, "<p>Hello there, friend.</p>")
	_, err = d.Bind(r, "s", annotation.Sentence)
	require.NoError(t, err)
	_, err = d.Bind(r, "v", annotation.Vocabulary)
	require.NoError(t, err)
	assert.True(t, Contains(d.ElementOf("s"), d.ElementOf("v")), "vocabulary stays inside sentence")
}

func TestBindStaleRange(t *testing.T) {
	d := parse(t, "<p>short</p>")
	_, err := d.Bind(geometry.Range{Start: 2, End: 40}, "x", annotation.Vocabulary)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	d = parse(t, "<p>猫です</p>")
	_, err = d.Bind(geometry.Range{Start: 1, End: 3}, "x", annotation.Vocabulary)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = d.Unbind("missing")
	assert.ErrorIs(t, err, ErrNoMarkup)
}

func TestSetState(t *testing.T) {
	d := parse(t, "<p>an apple</p>")
	_, err := d.Bind(geometry.Range{Start: 0, End: 2}, "a", annotation.Vocabulary)
	require.NoError(t, err)

	assert.True(t, d.SetState("a", PendingDelete, true))
	assert.True(t, d.HasState("a", PendingDelete))
	assert.False(t, d.HasState("a", Selected))
	d.SetState("a", PendingDelete, true)
	assert.Equal(t, []string{"rm-vocabulary", ClassPending}, classes(d.ElementOf("a")))

	d.SetState("a", PendingDelete, false)
	assert.False(t, d.HasState("a", PendingDelete))
	assert.False(t, d.SetState("missing", Selected, true))
}

func TestSpansAndHitTesting(t *testing.T) {
	d := parse(t, "<p>The cat sat.</p>")
	text := d.Text()
	_, err := d.Bind(span(text, "cat"), "v", annotation.Vocabulary)
	require.NoError(t, err)
	_, err = d.Bind(span(text, "The cat sat."), "s", annotation.Sentence)
	require.NoError(t, err)

	spans := d.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, annotation.ID("s"), spans[0].ID)
	assert.Equal(t, span(text, "The cat sat."), spans[0].Range)
	assert.Equal(t, annotation.ID("v"), spans[1].ID)
	assert.Equal(t, span(text, "cat"), spans[1].Range)
	assert.Equal(t, 1, spans[1].Depth)

	id, el := AnnotationOf(d.NodeAt(5))
	assert.Equal(t, annotation.ID("v"), id)
	assert.Equal(t, d.ElementOf("v"), el)

	id, _ = AnnotationOf(d.NodeAt(0))
	assert.Equal(t, annotation.ID("s"), id)
	assert.Nil(t, d.NodeAt(len(text)))

	assert.Equal(t, map[annotation.ID]int{"v": 1, "s": 1}, d.Marks())
}

func TestBreaks(t *testing.T) {
	d := parse(t, "<h1>Title</h1><p>One <b>two</b>.</p><p>Three<br>four</p>")
	text := d.Text()
	require.Equal(t, "TitleOne two.Threefour", text)
	assert.Equal(t, []int{
		strings.Index(text, "One"),
		strings.Index(text, "Three"),
		strings.Index(text, "four"),
	}, d.Breaks())

	_, err := d.Bind(span(text, "two"), "v", annotation.Vocabulary)
	require.NoError(t, err)
	assert.Len(t, d.Breaks(), 3, "markup does not add breaks")
}
