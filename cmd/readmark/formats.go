package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/readmark/pkg/source"
)

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the document formats readmark can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, f := range source.SupportedFormats() {
				fmt.Fprintln(out, f)
			}
			fmt.Fprintln(out, "Web (http, https)")
			return nil
		},
	}
}
