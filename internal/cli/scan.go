package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockcheck/pkg/config"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/scan"
)

// scanOpts holds the command-line flags for the scan command.
// Zero values leave the config file setting in place.
type scanOpts struct {
	maxResults   int
	concurrency  int
	shrinkwrap   bool
	traversal    string
	repositories []string
	roots        []string
	backend      string
	all          bool // list satisfied and not-installed lockfiles too
	exitCode     bool // fail when any lockfile is outside the range
}

// apply overrides cfg with the flags that were set.
func (o *scanOpts) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-results") {
		cfg.Scan.MaxResults = o.maxResults
	}
	if flags.Changed("concurrency") {
		cfg.Scan.Concurrency = o.concurrency
	}
	if flags.Changed("shrinkwrap") {
		cfg.Scan.IncludeShrinkwrap = o.shrinkwrap
	}
	if flags.Changed("traversal") {
		cfg.Scan.Traversal = o.traversal
	}
	if flags.Changed("repo") {
		cfg.Scan.Repositories = o.repositories
	}
	if flags.Changed("root") {
		cfg.Search.Roots = o.roots
	}
	if flags.Changed("backend") {
		cfg.Search.Backend = o.backend
	}
	cfg.WithDefaults()
	return cfg.Validate()
}

// scanCommand creates the scan command.
func (c *CLI) scanCommand() *cobra.Command {
	opts := &scanOpts{}
	cmd := &cobra.Command{
		Use:   "scan <package> <range>",
		Short: "Find lockfiles whose installed version of a package is outside a range",
		Long: `Scan searches the configured roots (or a Sourcegraph instance) for package-lock.json
files mentioning <package>, resolves the version each project installs and lists
the ones that do not satisfy <range>.`,
		Example: `  lockcheck scan lodash '^4.17.21'
  lockcheck scan --root ~/src --exit-code minimist '>=1.2.6'
  lockcheck scan --backend sourcegraph --repo '^github\.com/acme/' -f json lodash '^4.17.21'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.apply(cmd, c.conf()); err != nil {
				return err
			}
			return c.runScan(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxResults, "max-results", scan.DefaultMaxResults, "maximum number of lockfiles to check")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", scan.DefaultConcurrency, "lockfiles checked in parallel")
	cmd.Flags().BoolVar(&opts.shrinkwrap, "shrinkwrap", false, "also check npm-shrinkwrap.json files")
	cmd.Flags().StringVar(&opts.traversal, "traversal", lockfile.TraversalLogical.String(), "lock tree walk: logical or physical")
	cmd.Flags().StringArrayVar(&opts.repositories, "repo", nil, "only search repositories matching this regex (repeatable)")
	cmd.Flags().StringArrayVar(&opts.roots, "root", nil, "directory to search, local backend (repeatable)")
	cmd.Flags().StringVar(&opts.backend, "backend", config.BackendLocal, "search backend: local or sourcegraph")
	cmd.Flags().BoolVar(&opts.all, "all", false, "list every lockfile checked, not only the failing ones")
	cmd.Flags().BoolVar(&opts.exitCode, "exit-code", false, "exit with status 1 when any lockfile is outside the range")

	return cmd
}

func (c *CLI) runScan(cmd *cobra.Command, name, rng string, opts *scanOpts) error {
	ctx := cmd.Context()
	store, err := c.newCache(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := c.newCoordinator(store)

	spinner := c.startSpinner(ctx, fmt.Sprintf("Scanning for %s...", name))
	prog := newProgress(loggerFromContext(ctx))
	report, err := coord.Scan(ctx, name, rng)
	if err != nil {
		spinner.StopWithError("Scan failed")
		return err
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Checked %d lockfiles", report.Candidates))

	if err := writeOutput(cmd.OutOrStdout(), c.format, report, func(w io.Writer) error {
		return writeScanReport(w, report, opts.all)
	}); err != nil {
		return err
	}

	n := report.Count(scan.StatusUnsatisfied)
	if c.format == formatText && n > 0 {
		printNextStep("Upgrade a project", fmt.Sprintf("lockcheck upgrade <dir> %s <version>", name))
	}
	if opts.exitCode && n > 0 {
		return fmt.Errorf("%d lockfiles install %s outside %s", n, name, rng)
	}
	return nil
}
