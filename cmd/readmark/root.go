package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/config"
)

// app holds what every command shares once flags are parsed.
type app struct {
	configPath string
	dbPath     string
	verbose    bool

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "readmark",
		Short: "Annotate vocabulary and sentences while reading",
		Long: `Readmark opens an article, a web page or a book in the terminal and lets
you mark vocabulary and sentences with the mouse. Marks are translated in
the background and kept in a local SQLite database so they come back the
next time the document is opened, and can be exported as flashcards.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	defaultConfig, err := config.DefaultPath()
	if err != nil {
		defaultConfig = "readmark.toml"
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfig, "Path to the configuration file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the SQLite database (overrides storage.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug messages")

	root.AddCommand(
		newOpenCmd(a),
		newListCmd(a),
		newExportCmd(a),
		newDictCmd(a),
		newConfigCmd(a),
		newFormatsCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Storage.Path = a.dbPath
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	return nil
}

// logger writes to w at the configured level.
func (a *app) logger(w io.Writer) *slog.Logger {
	level, err := a.cfg.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// fileLogger logs to the configured log file so the terminal stays free for
// the reader. It falls back to discarding when no file is configured.
func (a *app) fileLogger() (*slog.Logger, func(), error) {
	if a.cfg.Log.File == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	if dir := filepath.Dir(a.cfg.Log.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return a.logger(f), func() { f.Close() }, nil
}

// resolveLocation turns a command line argument into the location documents
// are stored under: an absolute path for files, the normalized URL otherwise.
func resolveLocation(arg string) (string, error) {
	if u, err := url.Parse(arg); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u.String(), nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	return abs, nil
}
