package bulk

import (
	"context"
	"math/rand"
	"regexp"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/geometry"
)

func newEngine(t *testing.T, src string) (*engine.Engine, *binder.Document) {
	t.Helper()
	doc, err := binder.ParseString(src)
	require.NoError(t, err)
	e := engine.New(doc, engine.Options{})
	t.Cleanup(func() { _ = e.Close() })
	return e, doc
}

func create(t *testing.T, e *engine.Engine, start, end int, kind annotation.Kind) annotation.ID {
	t.Helper()
	res, err := e.Create(context.Background(), geometry.Range{Start: start, End: end}, kind)
	require.NoError(t, err)
	require.True(t, res.Created())
	return res.ID
}

func TestPreviewAndConfirmOnlyEnclosed(t *testing.T) {
	const text = "the cat sat on the mat and slept."
	e, doc := newEngine(t, "<p>"+text+"</p>")
	the := create(t, e, 0, 3, annotation.Vocabulary)
	cat := create(t, e, 4, 7, annotation.Vocabulary)
	mat := create(t, e, 19, 22, annotation.Vocabulary)
	satOn := create(t, e, 8, 33, annotation.Sentence)

	var events []engine.Event
	e.Subscribe(func(ev engine.Event) { events = append(events, ev) })

	d := New(e, nil)
	got := d.Preview(geometry.Range{Start: 0, End: 22})
	assert.ElementsMatch(t, []annotation.ID{the, cat, mat}, got)
	for _, id := range got {
		assert.True(t, doc.HasState(id, binder.PendingDelete))
	}
	assert.False(t, doc.HasState(satOn, binder.PendingDelete))
	assert.Len(t, e.Snapshot(), 4, "preview has no storage effect")

	res := d.Confirm(context.Background())
	assert.Equal(t, 3, res.Count())
	assert.Equal(t, map[annotation.Kind]int{annotation.Vocabulary: 3}, res.ByKind)

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, satOn, snap[0].ID)
	assert.Equal(t, text, doc.Text())
	assert.Empty(t, d.Pending())

	require.Len(t, events, 1)
	assert.Equal(t, engine.BulkRemoved, events[0].Type)
	assert.Equal(t, 3, events[0].Count)
}

func TestPreviewReplacedAndCleared(t *testing.T) {
	e, doc := newEngine(t, "<p>the cat sat on the mat</p>")
	the := create(t, e, 0, 3, annotation.Vocabulary)
	mat := create(t, e, 19, 22, annotation.Vocabulary)

	d := New(e, nil)
	assert.Equal(t, []annotation.ID{the}, d.Preview(geometry.Range{Start: 0, End: 5}))
	assert.Equal(t, []annotation.ID{mat}, d.Preview(geometry.Range{Start: 15, End: 22}))
	assert.False(t, doc.HasState(the, binder.PendingDelete), "old preview is cleared")
	assert.True(t, doc.HasState(mat, binder.PendingDelete))

	d.Clear()
	assert.Empty(t, d.Pending())
	assert.False(t, doc.HasState(mat, binder.PendingDelete))
	assert.Len(t, e.Snapshot(), 2)

	assert.Zero(t, d.Confirm(context.Background()).Count(), "nothing to confirm after clear")
	assert.Empty(t, d.Preview(geometry.Range{Start: 4, End: 12}))
}

func TestPreviewMatchesEnclosureExactly(t *testing.T) {
	const src = `<p>Alpha beta gamma delta. Epsilon <b>zeta eta</b> theta iota.</p>` +
		`<p>Kappa lambda mu nu xi omicron. Pi rho sigma tau.</p>`
	words := regexp.MustCompile(`\S+`)

	for seed := int64(1); seed <= 15; seed++ {
		r := rand.New(rand.NewSource(seed))
		e, doc := newEngine(t, src)
		text := doc.Text()
		idx := words.FindAllStringIndex(text, -1)
		for i := 0; i < 25; i++ {
			a := r.Intn(len(idx))
			b := a + r.Intn(min(5, len(idx)-a))
			kind := annotation.Kinds[r.Intn(2)]
			_, _ = e.Create(context.Background(), geometry.Range{Start: idx[a][0], End: idx[b][1]}, kind)
		}

		d := New(e, nil)
		for i := 0; i < 40; i++ {
			start := r.Intn(len(text))
			end := start + 1 + r.Intn(len(text)-start)
			sel := geometry.Range{Start: start, End: end}

			var want []annotation.ID
			for _, rec := range e.Snapshot() {
				if geometry.Contains(sel, rec.Range) {
					want = append(want, rec.ID)
				}
			}
			got := d.Preview(sel)
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
			require.Equal(t, want, got, "seed %d selection %v", seed, sel)

			for _, rec := range e.Snapshot() {
				require.Equal(t, geometry.Contains(sel, rec.Range), doc.HasState(rec.ID, binder.PendingDelete))
			}
		}
	}
}
