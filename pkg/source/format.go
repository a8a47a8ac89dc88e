package source

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"github.com/yuin/goldmark"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/japaniel/readmark/pkg/lang"
)

// Page is a file rendered as HTML.
type Page struct {
	HTML   []byte
	Title  string
	Byline string
}

// Format turns a local file into HTML.
type Format interface {
	Name() string
	Extensions() []string
	Render(path string) (Page, error)
}

var registry []Format

// Register adds a format to the registry. Later registrations win for a
// shared extension.
func Register(f Format) {
	registry = append([]Format{f}, registry...)
}

func formatFor(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f
			}
		}
	}
	return TextFormat{}
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

func init() {
	Register(TextFormat{})
	Register(MarkdownFormat{})
	Register(HTMLFormat{})
	Register(EPUBFormat{})
}

// TextFormat turns blank-line separated paragraphs into <p> elements.
type TextFormat struct{}

func (TextFormat) Name() string         { return "Text" }
func (TextFormat) Extensions() []string { return []string{".txt"} }

func (TextFormat) Render(path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, err
	}
	return Page{HTML: TextToHTML(string(data)), Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}, nil
}

// TextToHTML wraps each paragraph of text in <p>. Line breaks inside a
// paragraph are kept as text; none are added between paragraphs so the
// document text holds only what the file held.
func TextToHTML(text string) []byte {
	var b bytes.Buffer
	b.WriteString("<html><body>")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(para))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")
	return b.Bytes()
}

// MarkdownFormat renders CommonMark.
type MarkdownFormat struct{}

func (MarkdownFormat) Name() string         { return "Markdown" }
func (MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

func (MarkdownFormat) Render(path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, err
	}
	var b bytes.Buffer
	b.WriteString("<html><body>\n")
	if err := goldmark.Convert(data, &b); err != nil {
		return Page{}, fmt.Errorf("render markdown: %w", err)
	}
	b.WriteString("</body></html>")
	return Page{HTML: b.Bytes(), Title: markdownTitle(data)}, nil
}

func markdownTitle(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// HTMLFormat reads local HTML as is, minus ruby readings.
type HTMLFormat struct{}

func (HTMLFormat) Name() string         { return "HTML" }
func (HTMLFormat) Extensions() []string { return []string{".html", ".htm", ".xhtml"} }

func (HTMLFormat) Render(path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, err
	}
	return Page{HTML: lang.SanitizeRuby(data)}, nil
}

// EPUBFormat concatenates the bodies of the spine documents.
type EPUBFormat struct{}

func (EPUBFormat) Name() string         { return "EPUB" }
func (EPUBFormat) Extensions() []string { return []string{".epub"} }

func (EPUBFormat) Render(path string) (Page, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return Page{}, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()
	if len(rc.Rootfiles) == 0 {
		return Page{}, fmt.Errorf("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]

	var out bytes.Buffer
	out.WriteString("<html><body>")
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}
		out.WriteString("<section>")
		if err := writeBody(&out, lang.SanitizeRuby(data)); err != nil {
			return Page{}, fmt.Errorf("chapter %s: %w", ref.Item.HREF, err)
		}
		out.WriteString("</section>")
	}
	out.WriteString("</body></html>")
	return Page{HTML: out.Bytes(), Title: book.Metadata.Title, Byline: book.Metadata.Creator}, nil
}

// writeBody renders the children of the <body> of an HTML document.
func writeBody(w io.Writer, doc []byte) error {
	root, err := xhtml.Parse(bytes.NewReader(doc))
	if err != nil {
		return err
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return nil
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := xhtml.Render(w, c); err != nil {
			return err
		}
	}
	return nil
}

func findElement(n *xhtml.Node, a atom.Atom) *xhtml.Node {
	if n.Type == xhtml.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
