package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/binder"
	"github.com/japaniel/readmark/pkg/config"
	"github.com/japaniel/readmark/pkg/geometry"
	"github.com/japaniel/readmark/pkg/session"
)

const articleHTML = `<!DOCTYPE html>
<html lang="ja"><head><title>吾輩は猫である</title></head>
<body>
<nav><a href="/">トップ</a> <a href="/news">ニュース</a></nav>
<article>
<h1>吾輩は猫である</h1>
<p>吾輩は猫である。名前はまだ無い。どこで生れたかとんと見当がつかぬ。何でも薄暗いじめじめした所でニャーニャー泣いていた事だけは記憶している。</p>
<p>吾輩はここで始めて人間というものを見た。しかもあとで聞くとそれは書生という人間中で一番獰悪な種族であったそうだ。この書生というのは時々我々を捕えて煮て食うという話である。</p>
<p>しかしその当時は何という考もなかったから別段恐しいとも思わなかった。ただ彼の掌に載せられてスーと持ち上げられた時何だかフワフワした感じがあったばかりである。</p>
</article>
<footer>Copyright</footer>
</body></html>`

type cliEnv struct {
	dir        string
	configPath string
	cfg        config.Config
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "readmark.db")
	cfg.Log.File = filepath.Join(dir, "readmark.log")
	cfg.Engine.Segmentation = config.SegmentWhitespace
	cfg.Translate.Provider = config.ProviderNone
	cfg.Translate.DictionaryPath = filepath.Join(dir, "jmdict-eng-common.json")
	path := filepath.Join(dir, "config.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return &cliEnv{dir: dir, configPath: path, cfg: cfg}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String() + errOut.String(), err
}

// annotate opens location the way the reader does and marks each phrase
// with the paired kind.
func (e *cliEnv) annotate(t *testing.T, location string, marks map[string]annotation.Kind) {
	t.Helper()
	ctx := context.Background()
	s, err := session.Open(ctx, location, session.Options{Config: e.cfg})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	var text string
	s.Engine.View(func(doc *binder.Document) { text = doc.Text() })
	for phrase, kind := range marks {
		i := strings.Index(text, phrase)
		if i < 0 {
			t.Fatalf("phrase %q not in document text:\n%s", phrase, text)
		}
		res, err := s.Engine.Create(ctx, geometry.Range{Start: i, End: i + len(phrase)}, kind)
		if err != nil || !res.Created() {
			t.Fatalf("failed to create %s %q: %v", kind, phrase, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}
}

func TestCLI_OfflineServer(t *testing.T) {
	env := newCLIEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	env.annotate(t, srv.URL, map[string]annotation.Kind{
		"書生":                annotation.Vocabulary,
		"どこで生れたかとんと見当がつかぬ。": annotation.Sentence,
	})

	out, err := env.run(t, "list")
	if err != nil {
		t.Fatalf("list failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, srv.URL) || !strings.Contains(out, "吾輩は猫である") {
		t.Fatalf("document missing from list output:\n%s", out)
	}

	out, err = env.run(t, "list", srv.URL, "--kind", "sentence")
	if err != nil {
		t.Fatalf("list annotations failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "見当がつかぬ") || strings.Contains(out, "書生") {
		t.Fatalf("unexpected annotation list:\n%s", out)
	}

	out, err = env.run(t, "export", srv.URL, "-o", "json")
	if err != nil {
		t.Fatalf("export failed: %v\noutput:\n%s", err, out)
	}
	var deck struct {
		Source string `json:"source"`
		Count  int    `json:"count"`
		Cards  []struct {
			Kind  string `json:"kind"`
			Front string `json:"front"`
		} `json:"cards"`
	}
	if err := json.Unmarshal([]byte(out), &deck); err != nil {
		t.Fatalf("export output is not JSON: %v\n%s", err, out)
	}
	if deck.Source != srv.URL || deck.Count != 2 {
		t.Fatalf("unexpected deck: %+v", deck)
	}
	if deck.Cards[0].Front != "どこで生れたかとんと見当がつかぬ。" || deck.Cards[1].Front != "書生" {
		t.Fatalf("cards not in document order: %+v", deck.Cards)
	}
}

func TestCLI_ExportToFile(t *testing.T) {
	env := newCLIEnv(t)
	doc := filepath.Join(env.dir, "story.txt")
	if err := os.WriteFile(doc, []byte("The cat sat on the mat.\n\nThe dog slept all afternoon."), 0o644); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	env.annotate(t, doc, map[string]annotation.Kind{"dog": annotation.Vocabulary})

	// A relative path finds the same document.
	t.Chdir(env.dir)

	tsv := filepath.Join(env.dir, "cards.tsv")
	out, err := env.run(t, "export", "story.txt", "-o", "tsv", "--file", tsv)
	if err != nil {
		t.Fatalf("export failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(out, "Exported 1 cards") {
		t.Fatalf("unexpected export output:\n%s", out)
	}
	data, err := os.ReadFile(tsv)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "dog\t") || !strings.Contains(string(data), "vocabulary") {
		t.Fatalf("unexpected TSV:\n%s", data)
	}
}

func TestCLI_Errors(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "export", filepath.Join(env.dir, "never.txt")); err == nil || !strings.Contains(err.Error(), "not been opened") {
		t.Fatalf("expected not-opened error, got %v", err)
	}
	if _, err := env.run(t, "export", "x.txt", "-o", "csv"); err == nil {
		t.Fatalf("expected unknown format error")
	}
	if _, err := env.run(t, "list", "--kind", "phrase"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := env.run(t, "open"); err == nil {
		t.Fatalf("expected missing argument error")
	}
	out, err := env.run(t, "list")
	if err != nil || !strings.Contains(out, "No documents yet") {
		t.Fatalf("unexpected empty list: %v\n%s", err, out)
	}
}

func TestCLI_ConfigAndFormats(t *testing.T) {
	env := newCLIEnv(t)

	if _, err := env.run(t, "config", "init"); err == nil {
		t.Fatalf("config init overwrote an existing file")
	}
	fresh := filepath.Join(env.dir, "fresh", "config.toml")
	out, err := env.run(t, "--config", fresh, "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	out, err = env.run(t, "--db", "other.db", "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "other.db") || !strings.Contains(out, "whitespace") {
		t.Fatalf("config show ignores overrides:\n%s", out)
	}

	out, err = env.run(t, "formats")
	if err != nil {
		t.Fatalf("formats failed: %v", err)
	}
	for _, want := range []string{"EPUB", "Markdown", "Web"} {
		if !strings.Contains(out, want) {
			t.Fatalf("formats output missing %s:\n%s", want, out)
		}
	}
}

func TestCLI_DictLookup(t *testing.T) {
	env := newCLIEnv(t)
	dict := `{"words": [
  {"id": "1", "kanji": [{"text": "猫", "common": true}], "kana": [{"text": "ねこ", "common": true}],
   "sense": [{"gloss": [{"text": "cat"}], "partOfSpeech": ["n"]}]}
]}`
	if err := os.WriteFile(env.cfg.Translate.DictionaryPath, []byte(dict), 0o644); err != nil {
		t.Fatalf("failed to write dictionary: %v", err)
	}

	out, err := env.run(t, "dict", "lookup", "猫")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !strings.Contains(out, "猫 [ねこ]") || !strings.Contains(out, "cat") {
		t.Fatalf("unexpected lookup output:\n%s", out)
	}
	if _, err := env.run(t, "dict", "lookup", "犬"); err == nil {
		t.Fatalf("expected no entry error")
	}

	out, err = env.run(t, "dict", "fetch")
	if err != nil || !strings.Contains(out, "already present") {
		t.Fatalf("fetch should skip an existing file: %v\n%s", err, out)
	}
}
