package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/upgrade"
	"github.com/matzehuels/lockcheck/pkg/versionrange"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

// upgradeResult is the output of the upgrade command.
type upgradeResult struct {
	Lockfile string `json:"lockfile" yaml:"lockfile"`
	Package  string `json:"package" yaml:"package"`
	From     string `json:"from,omitempty" yaml:"from,omitempty"`
	Version  string `json:"version" yaml:"version"`
	Patch    string `json:"patch" yaml:"patch"`
	Applied  bool   `json:"applied" yaml:"applied"`
}

// upgradeCommand creates the upgrade command.
func (c *CLI) upgradeCommand() *cobra.Command {
	var (
		write   bool
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "upgrade <dir|lockfile> <package> [version|range]",
		Short: "Regenerate a lockfile with a package pinned to a new version",
		Long: `Upgrade runs npm install --package-lock-only in a scratch copy of the project
and prints the resulting lockfile diff. A range or dist tag is resolved
against the npm registry to the highest matching published version; without
one the latest tag is used. Pass --write to replace the lockfile on disk.`,
		Example: `  lockcheck upgrade . lodash 4.17.21
  lockcheck upgrade ./web lodash '^4.17.0' --write`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			want := ""
			if len(args) == 3 {
				want = args[2]
			}
			return c.runUpgrade(cmd, args[0], args[1], want, write, refresh)
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the upgraded lockfile to disk")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the registry cache")

	return cmd
}

func (c *CLI) runUpgrade(cmd *cobra.Command, arg, name, want string, write, refresh bool) error {
	ctx := cmd.Context()
	pair, err := readPair(ctx, arg)
	if err != nil {
		return err
	}

	version := want
	if v, err := versionrange.ParseVersion(want); err == nil {
		version = v.String()
	} else {
		store, err := c.newCache(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		if version, err = c.newRegistry(store).ResolveVersion(ctx, name, want, refresh); err != nil {
			return err
		}
		c.Logger.Info("resolved version", "package", name, "range", want, "version", version)
	}

	res := upgradeResult{Lockfile: pair.Lockfile.URI, Package: name, Version: version}
	if dep, found, err := lockfile.Resolve(pair.Manifest.Text, pair.Lockfile.Text, name, lockfile.Options{}); err == nil && found {
		res.From = dep.Version
	}

	spinner := c.startSpinner(ctx, fmt.Sprintf("Running npm install %s@%s...", name, version))
	edit, err := c.newEditor(workspace.LocalFetcher{}).PlanUpgrade(ctx, pair, lockfile.Dependency{Name: name, Version: version})
	if err != nil {
		spinner.StopWithError("npm install failed")
		return err
	}
	spinner.StopWithSuccess(fmt.Sprintf("Planned %s %s -> %s", name, orUnknown(res.From), version))
	res.Patch = edit.Patch

	if write {
		if err := upgrade.Apply(edit); err != nil {
			return err
		}
		res.Applied = true
	}

	if err := writeOutput(cmd.OutOrStdout(), c.format, res, func(w io.Writer) error {
		writePatch(w, edit.Patch)
		return nil
	}); err != nil {
		return err
	}

	if c.format == formatText {
		switch {
		case res.Applied:
			printSuccess("Upgraded %s to %s", name, version)
			printDetail("Lockfile: %s", pair.Lockfile.URI)
		case res.From == version:
			printWarning("%s is already at %s; only metadata changed", name, version)
		default:
			printInfo("Dry run; pass --write to update the lockfile")
		}
	}
	return nil
}

func orUnknown(v string) string {
	if v == "" {
		return "(not installed)"
	}
	return v
}

// writePatch writes a unified diff with added and removed lines colored.
func writePatch(w io.Writer, patch string) {
	for _, line := range strings.SplitAfter(patch, "\n") {
		if line == "" {
			continue
		}
		text := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(text, "+++"), strings.HasPrefix(text, "---"):
			text = StyleTitle.Render(text)
		case strings.HasPrefix(text, "+"):
			text = StyleSuccess.Render(text)
		case strings.HasPrefix(text, "-"):
			text = StyleError.Render(text)
		case strings.HasPrefix(text, "@@"):
			text = StyleDim.Render(text)
		}
		fmt.Fprintln(w, text)
	}
}
