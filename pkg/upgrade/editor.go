// Package upgrade rewrites a lockfile so that it pins a new version of one
// package.
//
// The rewrite is delegated to npm itself: [Editor.PlanUpgrade] copies the
// manifest and lockfile into a sandbox, runs
//
//	npm install --no-audit --package-lock-only --ignore-scripts -- <name>@<version>
//
// and turns the regenerated lockfile into an [Edit]. Nothing is written until
// the caller applies the edit. When the editor has a fetcher, the project's
// .npmrc is copied into the sandbox as well so npm resolves against the same
// registry the project uses.
package upgrade

import (
	"bytes"
	"context"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	godiffpatch "github.com/sourcegraph/go-diff-patch"

	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/sandbox"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/versionrange"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

// DefaultTimeout bounds a single npm invocation.
const DefaultTimeout = 2 * time.Minute

const (
	manifestName = "package.json"
	npmrcName    = ".npmrc"
)

// Options configures an [Editor].
type Options struct {
	Timeout time.Duration
	Logger  *log.Logger
	// Fetcher loads the project .npmrc next to the manifest. Nil skips it.
	Fetcher workspace.Fetcher
}

// Edit replaces the whole text of one file.
type Edit struct {
	URI     string `json:"uri" yaml:"uri"`
	OldText string `json:"-" yaml:"-"`
	NewText string `json:"-" yaml:"-"`
	Patch   string `json:"patch" yaml:"patch"` // unified diff from OldText to NewText
}

// Editor plans lockfile upgrades.
type Editor struct {
	exec    sandbox.Executor
	fetcher workspace.Fetcher
	timeout time.Duration
	logger  *log.Logger
}

// NewEditor creates an editor that runs npm through exec.
func NewEditor(exec sandbox.Executor, opts Options) *Editor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Editor{exec: exec, fetcher: opts.Fetcher, timeout: opts.Timeout, logger: opts.Logger}
}

// Command returns the npm invocation that pins name to version.
// The "--" keeps a hostile name from being read as a flag.
func Command(name, version string) []string {
	return []string{
		"npm", "install",
		"--no-audit",
		"--package-lock-only",
		"--ignore-scripts",
		"--",
		name + "@" + version,
	}
}

// PlanUpgrade computes the lockfile edit that pins dep.Name to dep.Version
// in pkg. Only the lockfile is edited; npm may also rewrite package.json
// but that change is dropped.
//
// Errors from npm are returned as UPGRADE_FAILED with an
// [*errors.ExecFailure] cause holding the captured output.
func (e *Editor) PlanUpgrade(ctx context.Context, pkg scan.PackageJSONPackage, dep lockfile.Dependency) (*Edit, error) {
	if err := errors.ValidateNpmPackageName(dep.Name); err != nil {
		return nil, err
	}
	v, err := versionrange.ParseVersion(dep.Version)
	if err != nil {
		return nil, err
	}
	lockName := path.Base(pkg.Lockfile.URI)
	if lockName != "package-lock.json" && lockName != "npm-shrinkwrap.json" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s is not an npm lockfile", pkg.Lockfile.URI)
	}

	args := Command(dep.Name, v.String())
	dir := dirURI(pkg.Manifest.URI)
	req := sandbox.Request{
		Profile: sandbox.ProfileNpm,
		Dir:     dir,
		Args:    args,
		Files: map[string][]byte{
			manifestName: []byte(pkg.Manifest.Text),
			lockName:     []byte(pkg.Lockfile.Text),
		},
	}
	npmrc, err := e.npmrc(ctx, dir)
	if err != nil {
		return nil, err
	}
	if npmrc != nil {
		req.Files[npmrcName] = npmrc
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("running upgrade", "lockfile", pkg.Lockfile.URI, "args", args)
	res, err := e.exec.Exec(ctx, req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, errors.ErrCodeTimeout) {
			err = errors.Wrap(errors.ErrCodeTimeout, err, "npm install did not finish within %s", e.timeout)
		}
		return nil, failure(args, res, err, "upgrade %s to %s", dep.Name, v)
	}
	if res.ExitCode != 0 {
		return nil, failure(args, res, nil, "npm install exited with code %d", res.ExitCode)
	}

	updated, ok := res.Files[lockName]
	if !ok || bytes.Equal(updated, req.Files[lockName]) {
		return nil, failure(args, res, nil, "npm install did not change %s", lockName)
	}
	for _, name := range slices.Sorted(maps.Keys(res.Files)) {
		if name != lockName && name != npmrcName {
			e.logger.Debug("ignoring changed file", "file", name)
		}
	}

	edit := &Edit{
		URI:     pkg.Lockfile.URI,
		OldText: pkg.Lockfile.Text,
		NewText: string(updated),
	}
	edit.Patch = godiffpatch.GeneratePatch(lockName, edit.OldText, edit.NewText)
	e.logger.Info("planned upgrade", "lockfile", edit.URI, "package", dep.Name, "version", v.String())
	return edit, nil
}

// dirURI strips the last path element from uri. Unlike path.Dir it keeps
// the "//" of a scheme intact.
func dirURI(uri string) string {
	i := strings.LastIndex(uri, "/")
	if i < 0 {
		return ""
	}
	return uri[:i]
}

// npmrc returns the .npmrc in dir, or nil when there is none.
func (e *Editor) npmrc(ctx context.Context, dir string) ([]byte, error) {
	if e.fetcher == nil {
		return nil, nil
	}
	uri := npmrcName
	if dir != "" {
		uri = dir + "/" + npmrcName
	}
	doc, err := e.fetcher.Fetch(ctx, uri)
	switch {
	case err == nil:
		e.logger.Debug("using project npmrc", "uri", doc.URI)
		return []byte(doc.Text), nil
	case errors.Is(err, errors.ErrCodeFileNotFound), errors.Is(err, errors.ErrCodeNotFound):
		return nil, nil
	default:
		return nil, errors.Wrap(errors.ErrCodeUpgradeFailed, err, "read %s", npmrcName)
	}
}

func failure(args []string, res *sandbox.Result, cause error, format string, a ...any) error {
	f := &errors.ExecFailure{Command: args, ExitCode: -1, Err: cause}
	if res != nil {
		f.ExitCode = res.ExitCode
		f.Stdout = res.Stdout
		f.Stderr = res.Stderr
	}
	return errors.Wrap(errors.ErrCodeUpgradeFailed, f, format, a...)
}

// Apply writes edit to disk. Only file:// URIs are supported. The file must
// still hold edit.OldText; an edit planned against stale contents is
// refused.
func Apply(edit *Edit) error {
	p, err := workspace.PathFromURI(edit.URI)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileNotFound, err, "stat %s", p)
	}
	current, err := os.ReadFile(p)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "read %s", p)
	}
	if string(current) != edit.OldText {
		return errors.New(errors.ErrCodeInvalidInput, "%s changed since the upgrade was planned", p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", p)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(edit.NewText); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", p)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", p)
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", p)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", p)
	}
	return nil
}
