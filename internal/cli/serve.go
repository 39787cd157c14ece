package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/lockcheck/pkg/server"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr      string
		noUpgrade bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan, resolve and upgrade operations over HTTP",
		Long: `Serve exposes lockcheck as a JSON API:

  GET  /healthz
  POST /api/v1/scans     {"package": "lodash", "range": "^4.17.21"}
  POST /api/v1/resolve   {"lockfile": "file:///...", "package": "lodash"}
  POST /api/v1/upgrades  {"lockfile": "file:///...", "package": "lodash", "version": "4.17.21"}

Upgrades only plan the edit; the response carries the patch and nothing is
written to disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.conf()
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}

			ctx := cmd.Context()
			store, err := c.newCache(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			_, fetcher := c.newWorkspace(store)
			opts := server.Options{
				Scanner:   c.newCoordinator(store),
				Fetcher:   fetcher,
				Traversal: cfg.ScanOptions().Traversal,
				Logger:    c.Logger,
			}
			if !noUpgrade {
				opts.Planner = c.newEditor(fetcher)
			}

			printInfo("Listening on %s", addr)
			return server.New(opts).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&noUpgrade, "no-upgrade", false, "disable the upgrade endpoint")

	return cmd
}
