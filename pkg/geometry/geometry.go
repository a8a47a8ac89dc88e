// Package geometry compares text ranges. Every function here is pure.
package geometry

import "fmt"

// Ordering is the result of comparing two range boundaries.
type Ordering int

const (
	Before Ordering = -1
	Same   Ordering = 0
	After  Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case Same:
		return "same"
	case After:
		return "after"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// Range is a half-open span [Start, End) of byte offsets into a document's
// flattened text.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes covered.
func (r Range) Len() int { return r.End - r.Start }

// Empty reports whether the range covers nothing.
func (r Range) Empty() bool { return r.End <= r.Start }

// Valid reports whether the range is non-empty and fits in a text of length n.
func (r Range) Valid(n int) bool {
	return r.Start >= 0 && r.End <= n && r.Start < r.End
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

func compare(x, y int) Ordering {
	switch {
	case x < y:
		return Before
	case x > y:
		return After
	default:
		return Same
	}
}

// CompareStart orders the start of a against the start of b.
func CompareStart(a, b Range) Ordering { return compare(a.Start, b.Start) }

// CompareEnd orders the end of a against the end of b.
func CompareEnd(a, b Range) Ordering { return compare(a.End, b.End) }

// Equal reports whether both boundaries coincide.
func Equal(a, b Range) bool {
	return CompareStart(a, b) == Same && CompareEnd(a, b) == Same
}

// Contains reports whether outer starts at or before inner and ends at or
// after it.
func Contains(outer, inner Range) bool {
	return CompareStart(outer, inner) <= Same && CompareEnd(outer, inner) >= Same
}

// Intersects reports whether a and b share at least one point.
func Intersects(a, b Range) bool {
	return a.Start < b.End && b.Start < a.End
}

// Overlaps reports a partial overlap: the ranges share a point but neither
// contains the other.
func Overlaps(a, b Range) bool {
	return Intersects(a, b) && !Contains(a, b) && !Contains(b, a)
}
