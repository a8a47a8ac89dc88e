package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/dictionary"
)

func newDictCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage the offline dictionary",
	}
	cmd.AddCommand(newDictFetchCmd(a), newDictLookupCmd(a))
	return cmd
}

func newDictFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the JMdict dictionary when it is missing",
		Long: `Download the latest jmdict-simplified English release to
translate.dictionary_path. Set GITHUB_TOKEN to avoid the anonymous API
rate limit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Translate.DictionaryPath
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Dictionary already present at %s\n", path)
				return nil
			}
			ctx := cmd.Context()
			d := dictionary.NewDownloader(ctx, os.Getenv("GITHUB_TOKEN"), a.logger(cmd.ErrOrStderr()))
			if err := d.Ensure(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Dictionary saved to %s\n", path)
			return nil
		},
	}
}

func newDictLookupCmd(a *app) *cobra.Command {
	var senses int
	cmd := &cobra.Command{
		Use:   "lookup <word>",
		Short: "Look a word up in the offline dictionary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := dictionary.LoadJMdictSimplified(a.cfg.Translate.DictionaryPath)
			if err != nil {
				return fmt.Errorf("load dictionary (run 'readmark dict fetch' first): %w", err)
			}
			word := args[0]
			found := dictionary.NewIndex(entries).Lookup(word, word, "")
			if len(found) == 0 {
				return fmt.Errorf("no entry for %q", word)
			}
			out := cmd.OutOrStdout()
			if readings := dictionary.Readings(found); len(readings) > 0 {
				fmt.Fprintf(out, "%s [%s]\n", word, strings.Join(readings, ", "))
			} else {
				fmt.Fprintln(out, word)
			}
			fmt.Fprintln(out, dictionary.Gloss(found, senses))
			return nil
		},
	}
	cmd.Flags().IntVarP(&senses, "senses", "n", 3, "Maximum number of senses to show")
	return cmd
}
