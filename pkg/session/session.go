// Package session opens a document for annotation: it loads the source,
// finds or records it in the database, restores stored annotations and
// wires up translation.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/bulk"
	"github.com/japaniel/readmark/pkg/config"
	"github.com/japaniel/readmark/pkg/dictionary"
	"github.com/japaniel/readmark/pkg/engine"
	"github.com/japaniel/readmark/pkg/lang"
	"github.com/japaniel/readmark/pkg/persist"
	"github.com/japaniel/readmark/pkg/source"
	"github.com/japaniel/readmark/pkg/translate"
)

// Options configures Open.
type Options struct {
	Config config.Config
	Logger *slog.Logger
	// Loader overrides the default source loader.
	Loader *source.Loader
	// Translator overrides the one built from Config.
	Translator translate.Service
}

// Session is one open document.
type Session struct {
	Info     source.Info
	Document persist.Document
	Engine   *engine.Engine
	Bulk     *bulk.Deleter
	Restored engine.RestoreResult
	// Carried is how many annotations were taken over from an earlier
	// version of the document.
	Carried int64

	db    *sql.DB
	store *persist.Store
	log   *slog.Logger
}

// Open loads location and restores its annotations.
func Open(ctx context.Context, location string, opts Options) (*Session, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	loader := opts.Loader
	if loader == nil {
		loader = source.NewLoader(log)
	}

	loaded, err := loader.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	info := loaded.Info
	log.Info("document loaded", "location", info.Location, "title", info.Title, "format", info.Format)

	db, err := persist.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Session{Info: info, db: db, log: log}
	if err := s.attach(ctx, cfg); err != nil {
		db.Close()
		return nil, err
	}

	analyzer, err := lang.NewAnalyzer()
	if err != nil {
		s.store.Close()
		db.Close()
		return nil, fmt.Errorf("create analyzer: %w", err)
	}

	svc := opts.Translator
	if svc == nil {
		svc, err = BuildTranslator(ctx, cfg.Translate, analyzer, log)
		if err != nil {
			log.Warn("translation disabled", "err", err)
		}
	}

	eopts := engine.Options{
		Rules: annotation.Rules{
			MaxVocabularyTokens: cfg.Engine.MaxVocabularyTokens,
			MinSentenceChars:    cfg.Engine.MinSentenceChars,
		},
		ContextWindow:   cfg.Engine.ContextWindow,
		MetadataTimeout: cfg.Engine.MetadataTimeout(),
		MetadataWorkers: cfg.Engine.MetadataWorkers,
		Lexicon:         analyzer,
		Persister:       s.store,
		Logger:          log,
	}
	// Vocabulary is counted in whitespace words unless morphemes are asked for.
	if cfg.Engine.Segmentation == config.SegmentMorphological {
		eopts.Rules.Tokens = analyzer
	}
	if svc != nil {
		eopts.Translator = svc
	}
	s.Engine = engine.New(loaded.Doc, eopts)
	s.Bulk = bulk.New(s.Engine, log)

	records, err := s.store.Load(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	s.Restored = s.Engine.Restore(ctx, records)
	return s, nil
}

// attach finds the database row for this version of the document, taking
// over the annotations of the previous version when this one is new.
func (s *Session) attach(ctx context.Context, cfg config.Config) error {
	info := s.Info
	prev, prevErr := persist.LatestDocument(ctx, s.db, info.Location)
	if prevErr != nil && !errors.Is(prevErr, persist.ErrNoDocument) {
		return prevErr
	}
	doc := persist.Document{
		Location:    info.Location,
		Title:       info.Title,
		Byline:      info.Byline,
		Site:        info.Site,
		ContentHash: info.Hash,
	}
	id, err := persist.CreateOrGetDocument(ctx, s.db, doc)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	doc.ID = id
	s.Document = doc

	if prevErr == nil && prev.ID != id {
		counts, err := persist.CountByKind(ctx, s.db, id)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			n, err := persist.MoveAnnotations(ctx, s.db, prev.ID, id)
			if err != nil {
				return err
			}
			s.Carried = n
			if n > 0 {
				s.log.Info("document changed, carrying annotations over", "from", prev.ID, "to", id, "count", n)
			}
		}
	}

	s.store = persist.NewStore(s.db, id, persist.StoreOptions{
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval(),
		Logger:        s.log,
	})
	return nil
}

// Flush waits until every queued annotation write is committed.
func (s *Session) Flush(ctx context.Context) error {
	return s.store.Flush(ctx)
}

// Close stops the engine and writes what is still queued.
func (s *Session) Close() error {
	var errs []error
	if s.Engine != nil {
		errs = append(errs, s.Engine.Close())
	}
	errs = append(errs, s.store.Close(), s.db.Close())
	return errors.Join(errs...)
}

// BuildTranslator assembles the configured translation services. The
// dictionary sits behind the chat model when both are available. A nil
// service with a nil error means translation is switched off.
func BuildTranslator(ctx context.Context, cfg config.Translate, lex dictionary.Lexicon, log *slog.Logger) (translate.Service, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var chain translate.Chain
	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		if key := cfg.APIKey(); key != "" || cfg.BaseURL != "" {
			chain = append(chain, translate.NewOpenAI(translate.OpenAIConfig{
				APIKey:            key,
				BaseURL:           cfg.BaseURL,
				Model:             cfg.Model,
				TargetLanguage:    cfg.TargetLanguage,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Burst:             cfg.Burst,
				Timeout:           cfg.Timeout(),
				Logger:            log,
			}))
		} else {
			log.Warn("no API key, using the dictionary only", "env", cfg.APIKeyEnv)
		}
		if _, err := os.Stat(cfg.DictionaryPath); err == nil {
			tr, err := loadDictionary(cfg.DictionaryPath, lex, log)
			if err != nil {
				return nil, err
			}
			chain = append(chain, tr)
		}
	case config.ProviderDictionary:
		if err := dictionary.EnsureDictionary(ctx, cfg.DictionaryPath); err != nil {
			return nil, fmt.Errorf("ensure dictionary: %w", err)
		}
		tr, err := loadDictionary(cfg.DictionaryPath, lex, log)
		if err != nil {
			return nil, err
		}
		chain = append(chain, tr)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no translation service available for provider %q", cfg.Provider)
	}
	return chain, nil
}

func loadDictionary(path string, lex dictionary.Lexicon, log *slog.Logger) (*dictionary.Translator, error) {
	start := time.Now()
	entries, err := dictionary.LoadJMdictSimplified(path)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	log.Info("dictionary loaded", "entries", len(entries), "took", time.Since(start))
	return dictionary.NewTranslator(dictionary.NewIndex(entries), lex), nil
}
