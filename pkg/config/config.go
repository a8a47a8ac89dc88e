// Package config loads readmark settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Segmentation names how vocabulary selections are counted.
const (
	SegmentMorphological = "morphological"
	SegmentWhitespace    = "whitespace"
)

// Translation providers.
const (
	ProviderOpenAI     = "openai"
	ProviderDictionary = "dictionary"
	ProviderNone       = "none"
)

// Config is the whole file.
type Config struct {
	Engine    Engine    `toml:"engine"`
	Translate Translate `toml:"translate"`
	Storage   Storage   `toml:"storage"`
	Log       Log       `toml:"log"`
}

type Engine struct {
	HoverDelayMS        int    `toml:"hover_delay_ms"`
	MinSentenceChars    int    `toml:"min_sentence_chars"`
	MaxVocabularyTokens int    `toml:"max_vocabulary_tokens"`
	ContextWindow       int    `toml:"context_window"`
	MetadataTimeoutMS   int    `toml:"metadata_timeout_ms"`
	MetadataWorkers     int    `toml:"metadata_workers"`
	Segmentation        string `toml:"segmentation"`
}

type Translate struct {
	// Provider is openai, dictionary or none. openai falls back to the
	// dictionary when one is present.
	Provider          string  `toml:"provider"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	APIKeyEnv         string  `toml:"api_key_env"`
	TargetLanguage    string  `toml:"target_language"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutMS         int     `toml:"timeout_ms"`
	DictionaryPath    string  `toml:"dictionary_path"`
}

type Storage struct {
	Path            string `toml:"path"`
	BatchSize       int    `toml:"batch_size"`
	FlushIntervalMS int    `toml:"flush_interval_ms"`
}

type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		Engine: Engine{
			HoverDelayMS:        300,
			MinSentenceChars:    10,
			MaxVocabularyTokens: 3,
			ContextWindow:       280,
			MetadataTimeoutMS:   15000,
			MetadataWorkers:     2,
			Segmentation:        SegmentWhitespace,
		},
		Translate: Translate{
			Provider:          ProviderOpenAI,
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			TargetLanguage:    "English",
			RequestsPerSecond: 1,
			Burst:             2,
			TimeoutMS:         20000,
			DictionaryPath:    "jmdict-eng-common.json",
		},
		Storage: Storage{
			Path:            "readmark.db",
			BatchSize:       32,
			FlushIntervalMS: 500,
		},
		Log: Log{
			Level: "info",
			File:  "readmark.log",
		},
	}
}

// DefaultPath is ~/.readmark/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".readmark", "config.toml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path with owner-only permissions.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// FieldError names the first invalid setting.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Engine.HoverDelayMS < 0:
		return &FieldError{"engine.hover_delay_ms", "must not be negative"}
	case c.Engine.MinSentenceChars < 1:
		return &FieldError{"engine.min_sentence_chars", "must be at least 1"}
	case c.Engine.MaxVocabularyTokens < 1:
		return &FieldError{"engine.max_vocabulary_tokens", "must be at least 1"}
	case c.Engine.ContextWindow < 0:
		return &FieldError{"engine.context_window", "must not be negative"}
	case c.Engine.MetadataTimeoutMS <= 0:
		return &FieldError{"engine.metadata_timeout_ms", "must be positive"}
	case c.Engine.MetadataWorkers < 1:
		return &FieldError{"engine.metadata_workers", "must be at least 1"}
	case c.Engine.Segmentation != SegmentMorphological && c.Engine.Segmentation != SegmentWhitespace:
		return &FieldError{"engine.segmentation", fmt.Sprintf("must be %q or %q", SegmentMorphological, SegmentWhitespace)}
	}
	switch c.Translate.Provider {
	case ProviderOpenAI, ProviderDictionary, ProviderNone:
	default:
		return &FieldError{"translate.provider", "must be openai, dictionary or none"}
	}
	switch {
	case c.Translate.RequestsPerSecond < 0:
		return &FieldError{"translate.requests_per_second", "must not be negative"}
	case c.Translate.TimeoutMS < 0:
		return &FieldError{"translate.timeout_ms", "must not be negative"}
	case c.Storage.Path == "":
		return &FieldError{"storage.path", "is required"}
	case c.Storage.BatchSize < 1:
		return &FieldError{"storage.batch_size", "must be at least 1"}
	case c.Storage.FlushIntervalMS <= 0:
		return &FieldError{"storage.flush_interval_ms", "must be positive"}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return &FieldError{"log.level", err.Error()}
	}
	return nil
}

// APIKey reads the key from the configured environment variable.
func (t Translate) APIKey() string {
	if t.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.APIKeyEnv)
}

func (t Translate) Timeout() time.Duration { return ms(t.TimeoutMS) }

func (e Engine) HoverDelay() time.Duration      { return ms(e.HoverDelayMS) }
func (e Engine) MetadataTimeout() time.Duration { return ms(e.MetadataTimeoutMS) }

func (s Storage) FlushInterval() time.Duration { return ms(s.FlushIntervalMS) }

// SlogLevel parses Level; empty means info.
func (l Log) SlogLevel() (slog.Level, error) {
	var lv slog.Level
	if strings.TrimSpace(l.Level) == "" {
		return slog.LevelInfo, nil
	}
	if err := lv.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", l.Level)
	}
	return lv, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
