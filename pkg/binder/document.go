// Package binder renders annotations as <mark> elements inside an HTML
// tree and removes them again without disturbing the text around them.
package binder

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/geometry"
)

// Attributes and classes written on markup elements.
const (
	AttrID    = "data-annotation-id"
	AttrKind  = "data-annotation-kind"
	AttrSplit = "data-rm-split"

	ClassPrefix   = "rm-"
	ClassSelected = "rm-selected"
	ClassPending  = "rm-pending-delete"
)

// Document is an HTML tree whose text content is addressed by byte
// offsets into Text().
type Document struct {
	root *html.Node
}

// New wraps an existing tree.
func New(root *html.Node) *Document {
	return &Document{root: root}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return New(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the underlying tree.
func (d *Document) Root() *html.Node { return d.root }

// Render writes the tree, markup included.
func (d *Document) Render(w io.Writer) error { return html.Render(w, d.root) }

// segment is one text node and the offsets it covers.
type segment struct {
	node       *html.Node
	start, end int
}

// skipped holds elements whose text is never shown.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Noscript: true,
}

func (d *Document) segments() []segment {
	var segs []segment
	off := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			segs = append(segs, segment{node: n, start: off, end: off + len(n.Data)})
			off += len(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return segs
}

// Text returns the concatenated visible text.
func (d *Document) Text() string {
	var b strings.Builder
	for _, s := range d.segments() {
		b.WriteString(s.node.Data)
	}
	return b.String()
}

// Len returns len(Text()) without building it.
func (d *Document) Len() int {
	segs := d.segments()
	if len(segs) == 0 {
		return 0
	}
	return segs[len(segs)-1].end
}

// NodeAt returns the text node holding offset, or nil past the end.
func (d *Document) NodeAt(offset int) *html.Node {
	for _, s := range d.segments() {
		if s.start <= offset && offset < s.end {
			return s.node
		}
	}
	return nil
}

// AnnotationOf returns the innermost annotation element enclosing n, n
// included.
func AnnotationOf(n *html.Node) (annotation.ID, *html.Node) {
	for cur := n; cur != nil; cur = cur.Parent {
		if id, ok := markID(cur); ok {
			return id, cur
		}
	}
	return "", nil
}

// KindOf reports the kind written on an annotation element.
func KindOf(el *html.Node) annotation.Kind {
	return annotation.Kind(attr(el, AttrKind))
}

// Contains reports whether n is ancestor or a descendant of it.
func Contains(ancestor, n *html.Node) bool {
	if ancestor == nil {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// ElementOf returns the first element tagged with id.
func (d *Document) ElementOf(id annotation.ID) *html.Node {
	els := d.elementsOf(id)
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

// Count returns how many elements are tagged with id.
func (d *Document) Count(id annotation.ID) int {
	return len(d.elementsOf(id))
}

// Marks counts elements per annotation id across the whole tree.
func (d *Document) Marks() map[annotation.ID]int {
	out := make(map[annotation.ID]int)
	walkElements(d.root, func(n *html.Node) {
		if id, ok := markID(n); ok {
			out[id]++
		}
	})
	return out
}

// Span describes one rendered annotation element.
type Span struct {
	ID      annotation.ID
	Kind    annotation.Kind
	Range   geometry.Range
	Classes []string
	Depth   int
}

// Spans lists every annotation element with the text range it covers, in
// document order, outer elements before the ones they contain.
func (d *Document) Spans() []Span {
	var spans []Span
	off := 0
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			off += len(n.Data)
			return
		}
		idx := -1
		if id, ok := markID(n); ok {
			idx = len(spans)
			spans = append(spans, Span{
				ID:      id,
				Kind:    KindOf(n),
				Range:   geometry.Range{Start: off},
				Classes: classes(n),
				Depth:   depth,
			})
			depth++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth)
		}
		if idx >= 0 {
			spans[idx].Range.End = off
		}
	}
	walk(d.root, 0)
	return spans
}

// blocks are elements that start on a line of their own.
var blocks = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// Breaks returns the offsets, ascending and strictly inside the text, at
// which a block element opens or closes.
func (d *Document) Breaks() []int {
	var out []int
	off := 0
	add := func() {
		if off > 0 && (len(out) == 0 || out[len(out)-1] != off) {
			out = append(out, off)
		}
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			off += len(n.Data)
			return
		}
		block := n.Type == html.ElementNode && blocks[n.DataAtom]
		if block {
			add()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			add()
		}
	}
	walk(d.root)
	if len(out) > 0 && out[len(out)-1] >= off {
		out = out[:len(out)-1]
	}
	return out
}

func (d *Document) elementsOf(id annotation.ID) []*html.Node {
	var out []*html.Node
	walkElements(d.root, func(n *html.Node) {
		if got, ok := markID(n); ok && got == id {
			out = append(out, n)
		}
	})
	return out
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}

func markID(n *html.Node) (annotation.ID, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == AttrID {
			return annotation.ID(a.Val), true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func setClasses(n *html.Node, cls []string) {
	val := strings.Join(cls, " ")
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: val})
}
