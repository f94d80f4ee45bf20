package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/gather-vision/internal/api"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.initApp(cmd)
			if err != nil {
				return err
			}
			server := api.NewServer(a, a.Config().Server, a.Logger().Named("api"))
			return server.ListenAndServe(cmd.Context())
		},
	}
}
