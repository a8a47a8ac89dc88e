package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/controller"
	"github.com/japaniel/readmark/pkg/session"
	"github.com/japaniel/readmark/pkg/tui"
)

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <file|url>",
		Short: "Read and annotate a document",
		Long: `Open a text, Markdown, HTML or EPUB file, or a web page, in the reader.

Press v for vocabulary mode or s for sentence mode, then drag across the
text to mark it. Hover a mark to see its translation. In browse mode (n)
dragging selects every mark inside the range and delete removes them.

Examples:
  readmark open chapter1.txt
  readmark open https://mainichi.jp/articles/20240101/k00/00m/040/001000c`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := resolveLocation(args[0])
			if err != nil {
				return err
			}
			log, closeLog, err := a.fileLogger()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			s, err := session.Open(ctx, location, session.Options{Config: a.cfg, Logger: log})
			if err != nil {
				return err
			}

			pres := tui.NewPresenter()
			ctrl := controller.New(s.Engine, s.Bulk, controller.Options{
				HoverDelay: a.cfg.Engine.HoverDelay(),
				Presenter:  pres,
				Logger:     log,
			})
			m := tui.New(ctx, s.Engine, ctrl, pres, tui.Options{Title: s.Info.Title, Logger: log})
			runErr := tui.Run(ctx, m)
			ctrl.Close()
			if err := s.Close(); err != nil {
				log.Error("closing session", "err", err)
				if runErr == nil {
					runErr = fmt.Errorf("save annotations: %w", err)
				}
			}
			return runErr
		},
	}
}
