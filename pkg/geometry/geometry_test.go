package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ranges enumerates every non-empty range over [0, n].
func ranges(n int) []Range {
	var out []Range
	for s := 0; s < n; s++ {
		for e := s + 1; e <= n; e++ {
			out = append(out, Range{Start: s, End: e})
		}
	}
	return out
}

// points returns the set of covered offsets, the model the functions must agree with.
func points(r Range) map[int]bool {
	m := make(map[int]bool, r.Len())
	for i := r.Start; i < r.End; i++ {
		m[i] = true
	}
	return m
}

func subset(a, b map[int]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func shared(a, b map[int]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func TestGeometryAgainstPointSets(t *testing.T) {
	all := ranges(7)
	for _, a := range all {
		for _, b := range all {
			pa, pb := points(a), points(b)

			assert.Equal(t, subset(pb, pa), Contains(a, b), "Contains(%v, %v)", a, b)
			assert.Equal(t, shared(pa, pb), Intersects(a, b), "Intersects(%v, %v)", a, b)

			wantOverlap := shared(pa, pb) && !subset(pb, pa) && !subset(pa, pb)
			assert.Equal(t, wantOverlap, Overlaps(a, b), "Overlaps(%v, %v)", a, b)
			assert.Equal(t, Overlaps(a, b), Overlaps(b, a), "Overlaps symmetry %v %v", a, b)

			// Exactly one relation holds: disjoint, nested either way, or partial overlap.
			relations := 0
			if !Intersects(a, b) {
				relations++
			}
			if Contains(a, b) || Contains(b, a) {
				relations++
			}
			if Overlaps(a, b) {
				relations++
			}
			assert.Equal(t, 1, relations, "relations for %v %v", a, b)

			if Contains(a, b) && Contains(b, a) {
				assert.True(t, Equal(a, b))
			}
		}
	}
}

func TestCompareBoundaries(t *testing.T) {
	a := Range{Start: 2, End: 5}
	b := Range{Start: 3, End: 5}
	assert.Equal(t, Before, CompareStart(a, b))
	assert.Equal(t, After, CompareStart(b, a))
	assert.Equal(t, Same, CompareEnd(a, b))
	assert.Equal(t, "before", Before.String())
}

func TestAdjacentRangesDoNotIntersect(t *testing.T) {
	a := Range{Start: 0, End: 5}
	b := Range{Start: 5, End: 9}
	assert.False(t, Intersects(a, b))
	assert.False(t, Overlaps(a, b))
	assert.False(t, Contains(a, b))
}

func TestRangeHelpers(t *testing.T) {
	r := Range{Start: 3, End: 8}
	assert.Equal(t, 5, r.Len())
	assert.False(t, r.Empty())
	assert.True(t, r.Valid(8))
	assert.False(t, r.Valid(7))
	assert.True(t, Range{Start: 4, End: 4}.Empty())
	assert.Equal(t, "[3,8)", r.String())
}
