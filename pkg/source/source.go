// Package source loads web pages and local files into annotatable
// documents.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/lang"
)

// DefaultMaxBody caps how much of a remote page is read.
const DefaultMaxBody = 10 * 1024 * 1024

// Info describes where a document came from.
type Info struct {
	Location string
	Title    string
	Byline   string
	Site     string
	Format   string
	// Hash identifies the document text; annotations are anchored to it.
	Hash string
}

// Loaded is a parsed document ready for annotation.
type Loaded struct {
	Doc  *binder.Document
	Info Info
}

// Loader fetches and parses documents.
type Loader struct {
	Client  *http.Client
	MaxBody int64
	Logger  *slog.Logger
}

// NewLoader returns a Loader with a 30 second HTTP timeout.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{Client: &http.Client{Timeout: 30 * time.Second}, MaxBody: DefaultMaxBody, Logger: logger}
}

// Load reads location, which is an http(s) URL or a file path.
func Load(ctx context.Context, location string) (*Loaded, error) {
	return NewLoader(nil).Load(ctx, location)
}

// Load reads location, which is an http(s) URL or a file path.
func (l *Loader) Load(ctx context.Context, location string) (*Loaded, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return l.loadURL(ctx, u)
	}
	f := formatFor(location)
	page, err := f.Render(location)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	return finish(page, Info{Location: location, Format: f.Name()})
}

func (l *Loader) loadURL(ctx context.Context, u *url.URL) (*Loaded, error) {
	body, err := l.fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	body = lang.SanitizeRuby(body)
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	content := article.Content
	if strings.TrimSpace(content) == "" {
		content = string(TextToHTML(article.TextContent))
	}
	l.Logger.Info("article extracted", "url", u.String(), "title", article.Title, "chars", len(article.TextContent))
	return finish(Page{HTML: []byte(content), Title: article.Title, Byline: article.Byline},
		Info{Location: u.String(), Site: article.SiteName, Format: "Web"})
}

// fetch downloads url with browser-like headers, refusing bodies larger
// than MaxBody.
func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,ja;q=0.8")
	req.Header.Set("Referer", "https://www.google.com/")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	limit := l.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("content-length %d exceeds limit of %d bytes", resp.ContentLength, limit)
	}
	// Read one byte past the limit to tell a full body from a cut one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response body exceeded maximum size limit of %d bytes", limit)
	}
	return body, nil
}

func finish(page Page, info Info) (*Loaded, error) {
	doc, err := binder.Parse(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", info.Location, err)
	}
	if info.Title == "" {
		info.Title = page.Title
	}
	if info.Byline == "" {
		info.Byline = page.Byline
	}
	info.Hash = Hash(doc.Text())
	return &Loaded{Doc: doc, Info: info}, nil
}

// Hash fingerprints document text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
