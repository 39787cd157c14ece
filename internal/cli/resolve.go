package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockcheck/pkg/lockfile"
)

// resolveResult is the output of the resolve command.
type resolveResult struct {
	Lockfile   string               `json:"lockfile" yaml:"lockfile"`
	Package    string               `json:"package" yaml:"package"`
	Found      bool                 `json:"found" yaml:"found"`
	Dependency *lockfile.Dependency `json:"dependency,omitempty" yaml:"dependency,omitempty"`
}

// resolveCommand creates the resolve command.
func (c *CLI) resolveCommand() *cobra.Command {
	var (
		traversal string
		from      string
	)
	cmd := &cobra.Command{
		Use:   "resolve <dir|lockfile> <package>",
		Short: "Print the version of a package a project installs",
		Long: `Resolve reads package.json and package-lock.json from a project and prints the
version of <package> that npm installs for it. With --path the package is
resolved as seen from that install path, as Node's module lookup would.`,
		Example: `  lockcheck resolve . lodash
  lockcheck resolve ./web/package-lock.json lodash --path node_modules/express`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := c.conf().Scan.Traversal
			if cmd.Flags().Changed("traversal") {
				t = traversal
			}
			mode, err := lockfile.ParseTraversal(t)
			if err != nil {
				return err
			}
			return c.runResolve(cmd, args[0], args[1], mode, from, cmd.Flags().Changed("path"))
		},
	}

	cmd.Flags().StringVar(&traversal, "traversal", lockfile.TraversalLogical.String(), "lock tree walk: logical or physical")
	cmd.Flags().StringVar(&from, "path", "", "resolve from this install path (e.g. node_modules/foo)")

	return cmd
}

func (c *CLI) runResolve(cmd *cobra.Command, arg, name string, mode lockfile.Traversal, from string, at bool) error {
	pair, err := readPair(cmd.Context(), arg)
	if err != nil {
		return err
	}

	var (
		dep   lockfile.Dependency
		found bool
	)
	if at {
		tree, perr := lockfile.ParseLockfile([]byte(pair.Lockfile.Text))
		if perr != nil {
			return perr
		}
		dep, found, err = tree.ResolveAt(from, name)
	} else {
		dep, found, err = lockfile.Resolve(pair.Manifest.Text, pair.Lockfile.Text, name, lockfile.Options{Traversal: mode})
	}
	if err != nil {
		return err
	}

	res := resolveResult{Lockfile: pair.Lockfile.URI, Package: name, Found: found}
	if found {
		res.Dependency = &dep
	}
	return writeOutput(cmd.OutOrStdout(), c.format, res, func(w io.Writer) error {
		if !found {
			fmt.Fprintln(w, StyleWarning.Render(name+" is not installed"))
			return nil
		}
		writeKeyValue(w, "Package", dep.Name)
		writeKeyValue(w, "Version", dep.Version)
		writeKeyValue(w, "Path", dep.Path)
		return nil
	})
}
