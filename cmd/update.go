package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gather-vision/internal/app"
)

func newUpdateCmd(c *cli) *cobra.Command {
	var (
		args   app.UpdateArgs
		output string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run data sources and store what they collect",
		Long: `Runs every registered source, one plugin with --source, or a single
sub-source with --source and --sub-source. Sources run independently: one
failing source does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(output, formatText, formatJSON); err != nil {
				return err
			}
			a, err := c.initApp(cmd)
			if err != nil {
				return err
			}
			res, err := a.Update(cmd.Context(), args)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), output, res, func(w io.Writer) error {
				return writeUpdateText(w, res)
			}); err != nil {
				return &exitError{code: ExitOther, err: err}
			}
			if !res.Success {
				return &exitError{code: ExitDomain, err: fmt.Errorf("%d of %d sources failed", failed(res), len(res.Results))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&args.Source, "source", "", "run only this source")
	cmd.Flags().StringVar(&args.SubSource, "sub-source", "", "run only this sub-source (requires --source)")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format: text or json")
	return cmd
}

func failed(res app.UpdateResult) int {
	n := 0
	for _, r := range res.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

func writeUpdateText(w io.Writer, res app.UpdateResult) error {
	var visited, items, errs int
	for _, r := range res.Results {
		s := r.Stats
		visited += s.Visited
		items += s.Items
		errs += s.FetchErrors + s.ParseErrors + s.SinkErrors
		status := "ok"
		if !r.Success {
			status = "FAILED"
		}
		if _, err := fmt.Fprintf(w, "%-32s %-6s state=%s visited=%d items=%d fetch_errors=%d parse_errors=%d sink_errors=%d\n",
			r.Name(), status, r.State, s.Visited, s.Items, s.FetchErrors, s.ParseErrors, s.SinkErrors); err != nil {
			return err
		}
		if r.Error != "" {
			if _, err := fmt.Fprintf(w, "  error: %s\n", r.Error); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d sources, %d failed: visited=%d items=%d errors=%d\n",
		len(res.Results), failed(res), visited, items, errs)
	return err
}
