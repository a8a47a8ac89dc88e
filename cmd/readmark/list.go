package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/annotation"
	"github.com/japaniel/readmark/pkg/persist"
)

func newListCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list [file|url]",
		Short: "List documents or the annotations of one document",
		Long: `Without an argument, list every document in the database with its
annotation counts. With a file or URL, list the annotations of the latest
version of that document.

Examples:
  readmark list
  readmark list chapter1.txt --kind vocabulary`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter annotation.Kind
			if kind != "" {
				k, err := annotation.ParseKind(kind)
				if err != nil {
					return err
				}
				filter = k
			}

			db, err := persist.Open(a.cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listDocuments(cmd, out, db)
			}
			location, err := resolveLocation(args[0])
			if err != nil {
				return err
			}
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

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tTEXT\tTRANSLATION\tSTATE")
			for _, an := range as {
				if filter != "" && an.Kind != filter {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", an.Kind, clip(an.PrimaryText, 40), clip(an.Translation, 40), an.Metadata)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only list annotations of this kind (vocabulary or sentence)")
	return cmd
}

func listDocuments(cmd *cobra.Command, out io.Writer, db persist.DBExecutor) error {
	ctx := cmd.Context()
	docs, err := persist.ListDocuments(ctx, db)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents yet. Run 'readmark open <file|url>' to start reading.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tVOCABULARY\tSENTENCES\tLOCATION")
	for _, d := range docs {
		counts, err := persist.CountByKind(ctx, db, d.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", d.ID, clip(d.Title, 40),
			counts[annotation.Vocabulary], counts[annotation.Sentence], d.Location)
	}
	return tw.Flush()
}

// clip shortens s to width terminal cells on a single line.
func clip(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}
