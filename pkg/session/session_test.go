package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/config"
	"github.com/japaniel/readmark/pkg/geometry"
	"github.com/japaniel/readmark/pkg/persist"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "readmark.db")
	cfg.Engine.Segmentation = config.SegmentWhitespace
	cfg.Translate.Provider = config.ProviderNone
	return cfg
}

func TestOpenRestoresAnnotations(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "story.txt")
	require.NoError(t, os.WriteFile(path, []byte("The cat sat on the mat."), 0o644))

	s, err := Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, "story", s.Info.Title)
	assert.Empty(t, s.Restored.Restored)
	res, err := s.Engine.Create(ctx, geometry.Range{Start: 4, End: 7}, annotation.Vocabulary)
	require.NoError(t, err)
	require.True(t, res.Created())
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, []annotation.ID{res.ID}, s.Restored.Restored)
	assert.Zero(t, s.Carried)
	rec, ok := s.Engine.Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, "cat", rec.PrimaryText)
	require.NoError(t, s.Close())
}

func TestOpenCarriesAnnotationsToNewVersion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "story.txt")
	require.NoError(t, os.WriteFile(path, []byte("The cat sat on the mat."), 0o644))

	s, err := Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	first := s.Document.ID
	res, err := s.Engine.Create(ctx, geometry.Range{Start: 4, End: 7}, annotation.Vocabulary)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(path, []byte("Preface. The cat sat on the mat."), 0o644))
	s, err = Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	assert.NotEqual(t, first, s.Document.ID)
	assert.Equal(t, int64(1), s.Carried)
	require.Len(t, s.Restored.Restored, 1)
	rec, ok := s.Engine.Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, geometry.Range{Start: 13, End: 16}, rec.Range)
	second := s.Document.ID
	require.NoError(t, s.Close())

	db, err := persist.Open(cfg.Storage.Path)
	require.NoError(t, err)
	defer db.Close()
	stored, err := persist.LoadAnnotations(ctx, db, second)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 13, stored[0].Range().Start)
	old, err := persist.LoadAnnotations(ctx, db, first)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestDefaultRulesCountWhitespaceWords(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "readmark.db")
	cfg.Translate.Provider = config.ProviderNone
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("A state-of-the-art design. 昨日は勉強しました。"), 0o644))

	s, err := Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Engine.Create(ctx, geometry.Range{Start: 2, End: 18}, annotation.Vocabulary)
	require.NoError(t, err)
	require.True(t, res.Created())
	rec, _ := s.Engine.Get(res.ID)
	assert.Equal(t, "state-of-the-art", rec.PrimaryText)

	text := "A state-of-the-art design. 昨日は勉強しました。"
	start := strings.Index(text, "勉強しました")
	res, err = s.Engine.Create(ctx, geometry.Range{Start: start, End: start + len("勉強しました")}, annotation.Vocabulary)
	require.NoError(t, err)
	assert.True(t, res.Created(), "a conjugated verb is one word")
}

func TestMorphologicalSegmentationIsOptIn(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Engine.Segmentation = config.SegmentMorphological
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("A state-of-the-art design."), 0o644))

	s, err := Open(ctx, path, Options{Config: cfg})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Engine.Create(ctx, geometry.Range{Start: 2, End: 18}, annotation.Vocabulary)
	var verr *annotation.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOpenMissingSource(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), Options{Config: testConfig(t)})
	assert.Error(t, err)
}

func TestBuildTranslator(t *testing.T) {
	ctx := context.Background()
	svc, err := BuildTranslator(ctx, config.Translate{Provider: config.ProviderNone}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, svc)

	t.Setenv("READMARK_TEST_KEY", "")
	_, err = BuildTranslator(ctx, config.Translate{
		Provider:       config.ProviderOpenAI,
		APIKeyEnv:      "READMARK_TEST_KEY",
		DictionaryPath: filepath.Join(t.TempDir(), "none.json"),
	}, nil, nil)
	assert.Error(t, err)

	svc, err = BuildTranslator(ctx, config.Translate{
		Provider:       config.ProviderOpenAI,
		APIKeyEnv:      "READMARK_TEST_KEY",
		BaseURL:        "http://127.0.0.1:1/v1",
		Model:          "test",
		DictionaryPath: filepath.Join(t.TempDir(), "none.json"),
	}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
