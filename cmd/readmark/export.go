package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/export"
	"github.com/japaniel/readmark/pkg/persist"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format    string
		toFile    string
		clipboard bool
		kind      string
	)
	cmd := &cobra.Command{
		Use:   "export <file|url>",
		Short: "Export the annotations of a document as flashcards",
		Long: `Export the annotations of the latest version of a document as cards.

By default the cards are written to stdout as YAML. TSV output has one
card per line and can be imported into most flashcard programs.

Examples:
  readmark export chapter1.txt
  readmark export chapter1.txt -o tsv --file chapter1.tsv
  readmark export chapter1.txt -o json --clipboard`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var filter annotation.Kind
			if kind != "" {
				if filter, err = annotation.ParseKind(kind); err != nil {
					return err
				}
			}
			location, err := resolveLocation(args[0])
			if err != nil {
				return err
			}

			db, err := persist.Open(a.cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			doc, err := persist.LatestDocument(ctx, db, location)
			if errors.Is(err, persist.ErrNoDocument) {
				return fmt.Errorf("%s has not been opened yet", location)
			}
			if err != nil {
				return err
			}
			as, err := persist.LoadAnnotations(ctx, db, doc.ID)
			if err != nil {
				return err
			}
			if filter != "" {
				kept := as[:0]
				for _, an := range as {
					if an.Kind == filter {
						kept = append(kept, an)
					}
				}
				as = kept
			}
			cards := export.Cards(as)
			deck := export.Deck{Source: doc.Location, Title: doc.Title, Count: len(cards), Cards: cards}

			switch {
			case clipboard:
				if err := export.Copy(deck, f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Copied %d cards to clipboard\n", deck.Count)
			case toFile != "":
				out, err := os.Create(toFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", toFile, err)
				}
				if err := export.Write(out, deck, f); err != nil {
					out.Close()
					return err
				}
				if err := out.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d cards to %s\n", deck.Count, toFile)
			default:
				return export.Write(cmd.OutOrStdout(), deck, f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", string(export.FormatYAML), "Output format: yaml, json or tsv")
	cmd.Flags().StringVarP(&toFile, "file", "f", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVarP(&clipboard, "clipboard", "c", false, "Copy to the clipboard instead of stdout")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only export annotations of this kind")
	cmd.MarkFlagsMutuallyExclusive("file", "clipboard")
	return cmd
}
