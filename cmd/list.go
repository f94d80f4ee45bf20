package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gather-vision/internal/app"
)

func newListCmd() *cobra.Command {
	var (
		args   app.ListArgs
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(output, formatText, formatJSON, formatYAML); err != nil {
				return err
			}
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			listings, err := reg.List(args.Source)
			if err != nil {
				return err
			}
			res := app.ListResult{Sources: listings}
			return render(cmd.OutOrStdout(), output, res, func(w io.Writer) error {
				return writeListText(w, res)
			})
		},
	}
	cmd.Flags().StringVar(&args.Source, "source", "", "describe only this source")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format: text, json or yaml")
	return cmd
}

func writeListText(w io.Writer, res app.ListResult) error {
	for _, l := range res.Sources {
		line := l.Name
		if l.Description != "" {
			line += " - " + l.Description
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if len(l.SubSources) > 0 {
			if _, err := fmt.Fprintf(w, "  sub-sources: %s\n", strings.Join(l.SubSources, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}
