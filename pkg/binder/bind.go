package binder

import (
	"errors"
	"slices"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/geometry"
)

var (
	// ErrOutOfBounds means the range does not fit the current text.
	ErrOutOfBounds = errors.New("range outside document text")
	// ErrMisaligned means a boundary falls inside a UTF-8 sequence.
	ErrMisaligned = errors.New("range boundary splits a character")
	// ErrCrossesAnnotation means isolating the range would cut an existing
	// annotation element in two.
	ErrCrossesAnnotation = errors.New("range crosses an annotation boundary")
	// ErrNoMarkup means no element carries the id.
	ErrNoMarkup = errors.New("no markup for annotation")
)

// State is a transient visual state toggled on markup.
type State int

const (
	Selected State = iota
	PendingDelete
)

func (s State) class() string {
	if s == PendingDelete {
		return ClassPending
	}
	return ClassSelected
}

// Bind wraps the text covered by r in a markup element tagged with id and
// kind and returns that element. Annotation elements inside r become
// children of the new element. On error the tree may hold extra text node
// splits but its text and markup are unchanged.
func (d *Document) Bind(r geometry.Range, id annotation.ID, kind annotation.Kind) (*html.Node, error) {
	stale := func(err error) error {
		return &annotation.StaleRangeError{ID: id, Range: r, Err: err}
	}
	text := d.Text()
	if !r.Valid(len(text)) {
		return nil, stale(ErrOutOfBounds)
	}
	if !utf8.RuneStart(text[r.Start]) || (r.End < len(text) && !utf8.RuneStart(text[r.End])) {
		return nil, stale(ErrMisaligned)
	}

	first := d.splitStart(r.Start)
	last := d.splitEnd(r.End)
	if first == nil || last == nil {
		return nil, stale(ErrOutOfBounds)
	}

	parent, startTop, endTop := isolationPoints(first, last)
	if err := checkIsolation(first, startTop, last, endTop); err != nil {
		return nil, stale(err)
	}
	startTop = isolateStart(first, parent, id)
	endTop = isolateEnd(last, parent, id)

	// Place the new element outside marks it covers exactly when its kind
	// may wrap theirs.
	for parent.Parent != nil && startTop == parent.FirstChild && endTop == parent.LastChild {
		if _, ok := markID(parent); !ok || KindOf(parent).Rank() > kind.Rank() {
			break
		}
		startTop, endTop = parent, parent
		parent = parent.Parent
	}

	mark := &html.Node{
		Type:     html.ElementNode,
		Data:     atom.Mark.String(),
		DataAtom: atom.Mark,
		Attr: []html.Attribute{
			{Key: AttrID, Val: string(id)},
			{Key: AttrKind, Val: string(kind)},
			{Key: "class", Val: ClassPrefix + string(kind)},
		},
	}
	parent.InsertBefore(mark, startTop)
	for n := startTop; n != nil; {
		next := n.NextSibling
		parent.RemoveChild(n)
		mark.AppendChild(n)
		if n == endTop {
			break
		}
		n = next
	}
	return mark, nil
}

// Unbind removes every element tagged with id, splicing its children into
// its place so nested annotations survive, then rejoins elements that were
// split to make room for it and merges adjacent text nodes.
func (d *Document) Unbind(id annotation.ID) (int, error) {
	els := d.elementsOf(id)
	if len(els) == 0 {
		return 0, &annotation.StaleRangeError{ID: id, Err: ErrNoMarkup}
	}
	for _, el := range els {
		parent := el.Parent
		if parent == nil {
			continue
		}
		for c := el.FirstChild; c != nil; c = el.FirstChild {
			el.RemoveChild(c)
			parent.InsertBefore(c, el)
		}
		parent.RemoveChild(el)
		normalize(parent)
	}
	d.rejoin(id)
	return len(els), nil
}

// SetState toggles a transient state class on the markup for id.
func (d *Document) SetState(id annotation.ID, s State, on bool) bool {
	els := d.elementsOf(id)
	cls := s.class()
	for _, el := range els {
		cur := classes(el)
		has := slices.Contains(cur, cls)
		switch {
		case on && !has:
			setClasses(el, append(cur, cls))
		case !on && has:
			setClasses(el, slices.DeleteFunc(cur, func(c string) bool { return c == cls }))
		}
	}
	return len(els) > 0
}

// HasState reports whether the markup for id carries state s.
func (d *Document) HasState(id annotation.ID, s State) bool {
	el := d.ElementOf(id)
	return el != nil && slices.Contains(classes(el), s.class())
}

// splitStart returns a text node that begins exactly at off.
func (d *Document) splitStart(off int) *html.Node {
	for _, s := range d.segments() {
		if s.start <= off && off < s.end {
			if off == s.start {
				return s.node
			}
			return splitText(s.node, off-s.start)
		}
	}
	return nil
}

// splitEnd returns a text node that ends exactly at off.
func (d *Document) splitEnd(off int) *html.Node {
	for _, s := range d.segments() {
		if s.start < off && off <= s.end {
			if off != s.end {
				splitText(s.node, off-s.start)
			}
			return s.node
		}
	}
	return nil
}

// splitText cuts n at byte i and returns the new node holding the tail.
func splitText(n *html.Node, i int) *html.Node {
	tail := &html.Node{Type: html.TextNode, Data: n.Data[i:]}
	n.Data = n.Data[:i]
	n.Parent.InsertBefore(tail, n.NextSibling)
	return tail
}

// isolationPoints returns the lowest common ancestor of first and last and
// the children of it that lead to each.
func isolationPoints(first, last *html.Node) (parent, startTop, endTop *html.Node) {
	if first == last {
		return first.Parent, first, first
	}
	seen := make(map[*html.Node]bool)
	for n := first; n != nil; n = n.Parent {
		seen[n] = true
	}
	for n := last; n != nil; n = n.Parent {
		if seen[n] {
			parent = n
			break
		}
	}
	startTop, endTop = first, last
	for startTop.Parent != parent {
		startTop = startTop.Parent
	}
	for endTop.Parent != parent {
		endTop = endTop.Parent
	}
	return parent, startTop, endTop
}

// checkIsolation fails when reaching a boundary would require cutting an
// annotation element.
func checkIsolation(first, startTop, last, endTop *html.Node) error {
	leading := true
	for cur := first; cur != startTop; cur = cur.Parent {
		leading = leading && cur.PrevSibling == nil
		if _, ok := markID(cur.Parent); ok && !leading {
			return ErrCrossesAnnotation
		}
	}
	trailing := true
	for cur := last; cur != endTop; cur = cur.Parent {
		trailing = trailing && cur.NextSibling == nil
		if _, ok := markID(cur.Parent); ok && !trailing {
			return ErrCrossesAnnotation
		}
	}
	return nil
}

// isolateStart splits the ancestors of n below parent so n begins its
// branch, and returns the child of parent that now starts with n.
func isolateStart(n, parent *html.Node, id annotation.ID) *html.Node {
	cur := n
	for cur.Parent != parent {
		up := cur.Parent
		if cur.PrevSibling == nil {
			cur = up
			continue
		}
		twin := cloneShallow(up, id)
		for c := cur; c != nil; {
			next := c.NextSibling
			up.RemoveChild(c)
			twin.AppendChild(c)
			c = next
		}
		up.Parent.InsertBefore(twin, up.NextSibling)
		cur = twin
	}
	return cur
}

// isolateEnd splits the ancestors of n below parent so n ends its branch,
// and returns the child of parent that now ends with n.
func isolateEnd(n, parent *html.Node, id annotation.ID) *html.Node {
	cur := n
	for cur.Parent != parent {
		up := cur.Parent
		if cur.NextSibling != nil {
			twin := cloneShallow(up, id)
			for c := cur.NextSibling; c != nil; {
				next := c.NextSibling
				up.RemoveChild(c)
				twin.AppendChild(c)
				c = next
			}
			up.Parent.InsertBefore(twin, up.NextSibling)
		}
		cur = up
	}
	return cur
}

func cloneShallow(n *html.Node, id annotation.ID) *html.Node {
	twin := &html.Node{
		Type:      n.Type,
		Data:      n.Data,
		DataAtom:  n.DataAtom,
		Namespace: n.Namespace,
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && (a.Key == "id" || a.Key == AttrSplit) {
			continue
		}
		twin.Attr = append(twin.Attr, a)
	}
	twin.Attr = append(twin.Attr, html.Attribute{Key: AttrSplit, Val: string(id)})
	return twin
}

// rejoin merges elements split for id back into the sibling they were cut
// from, when the two are still adjacent.
func (d *Document) rejoin(id annotation.ID) {
	var twins []*html.Node
	walkElements(d.root, func(n *html.Node) {
		if attr(n, AttrSplit) == string(id) {
			twins = append(twins, n)
		}
	})
	for _, twin := range twins {
		prev := twin.PrevSibling
		if prev == nil || !sameShape(prev, twin) {
			continue
		}
		for c := twin.FirstChild; c != nil; c = twin.FirstChild {
			twin.RemoveChild(c)
			prev.AppendChild(c)
		}
		twin.Parent.RemoveChild(twin)
		normalize(prev)
	}
}

// sameShape reports whether twin is a split-off copy of orig.
func sameShape(orig, twin *html.Node) bool {
	if orig.Type != html.ElementNode || orig.Data != twin.Data {
		return false
	}
	if _, ok := markID(orig); ok {
		return false
	}
	want := 0
	for _, a := range twin.Attr {
		if a.Key == AttrSplit {
			continue
		}
		want++
		if attr(orig, a.Key) != a.Val {
			return false
		}
	}
	have := 0
	for _, a := range orig.Attr {
		if a.Key != "id" && a.Key != AttrSplit {
			have++
		}
	}
	return have == want
}

// normalize merges adjacent text children of n and drops empty ones.
func normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode {
			if c.Data == "" {
				n.RemoveChild(c)
				c = next
				continue
			}
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				after := next.NextSibling
				n.RemoveChild(next)
				next = after
			}
		}
		c = next
	}
}
