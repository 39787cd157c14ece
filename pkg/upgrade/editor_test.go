package upgrade

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/sandbox"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

const manifest = `{"dependencies":{"lodash":"^3.0.0"}}`

func lock(version string) string {
	return "{\n  \"lockfileVersion\": 3,\n  \"packages\": {\n    \"node_modules/lodash\": {\n      \"version\": \"" + version + "\"\n    }\n  }\n}\n"
}

func pair(dir string) scan.PackageJSONPackage {
	return scan.PackageJSONPackage{
		Manifest: workspace.Document{URI: dir + "/package.json", Text: manifest},
		Lockfile: workspace.Document{URI: dir + "/package-lock.json", Text: lock("3.10.1")},
	}
}

type fakeExec struct {
	req  sandbox.Request
	exec func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)
}

func (f *fakeExec) Exec(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.req = req
	return f.exec(ctx, req)
}

func rewritesTo(version string) *fakeExec {
	return &fakeExec{exec: func(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
		return &sandbox.Result{
			Stdout: "added 1 package",
			Files: map[string][]byte{
				"package-lock.json": []byte(lock(version)),
				"package.json":      []byte(`{"dependencies":{"lodash":"^` + version + `"}}`),
			},
		}, nil
	}}
}

func TestCommand(t *testing.T) {
	assert.Equal(t,
		[]string{"npm", "install", "--no-audit", "--package-lock-only", "--ignore-scripts", "--", "@scope/pkg@1.2.3"},
		Command("@scope/pkg", "1.2.3"))
}

func TestPlanUpgrade(t *testing.T) {
	fx := rewritesTo("4.17.21")
	e := NewEditor(fx, Options{})

	edit, err := e.PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "v4.17.21"})
	require.NoError(t, err)

	assert.Equal(t, "file:///src/web/package-lock.json", edit.URI)
	assert.Equal(t, lock("3.10.1"), edit.OldText)
	assert.Equal(t, lock("4.17.21"), edit.NewText)
	assert.Contains(t, edit.Patch, `-      "version": "3.10.1"`)
	assert.Contains(t, edit.Patch, `+      "version": "4.17.21"`)
	assert.NotContains(t, edit.Patch, "dependencies")

	assert.Equal(t, sandbox.ProfileNpm, fx.req.Profile)
	assert.Equal(t, "file:///src/web", fx.req.Dir)
	assert.Equal(t, Command("lodash", "4.17.21"), fx.req.Args)
	assert.Equal(t, manifest, string(fx.req.Files["package.json"]))
	assert.Equal(t, lock("3.10.1"), string(fx.req.Files["package-lock.json"]))
}

func TestPlanUpgradeMixedCaseName(t *testing.T) {
	fx := rewritesTo("1.3.5")
	_, err := NewEditor(fx, Options{}).PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "JSONStream", Version: "1.3.5"})
	require.NoError(t, err)
	assert.Equal(t, Command("JSONStream", "1.3.5"), fx.req.Args)
}

// memFetcher serves files from a map keyed by URI.
type memFetcher map[string]string

func (m memFetcher) Fetch(_ context.Context, uri string) (workspace.Document, error) {
	text, ok := m[uri]
	if !ok {
		return workspace.Document{}, errors.New(errors.ErrCodeFileNotFound, "%s not found", uri)
	}
	return workspace.Document{URI: uri, Text: text}, nil
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) (workspace.Document, error) {
	return workspace.Document{}, errors.New(errors.ErrCodeNetwork, "connection reset")
}

func TestPlanUpgradeCopiesNpmrc(t *testing.T) {
	const npmrc = "registry=https://npm.internal.example/\n"
	fx := rewritesTo("4.17.21")
	e := NewEditor(fx, Options{Fetcher: memFetcher{"file:///src/web/.npmrc": npmrc}})

	_, err := e.PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "4.17.21"})
	require.NoError(t, err)
	assert.Equal(t, npmrc, string(fx.req.Files[".npmrc"]))
}

func TestPlanUpgradeWithoutNpmrc(t *testing.T) {
	fx := rewritesTo("4.17.21")
	e := NewEditor(fx, Options{Fetcher: memFetcher{}})

	_, err := e.PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "4.17.21"})
	require.NoError(t, err)
	assert.NotContains(t, fx.req.Files, ".npmrc")
	assert.Len(t, fx.req.Files, 2)
}

func TestPlanUpgradeNpmrcFetchError(t *testing.T) {
	fx := rewritesTo("4.17.21")
	e := NewEditor(fx, Options{Fetcher: failingFetcher{}})

	_, err := e.PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "4.17.21"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpgradeFailed))
	assert.True(t, errors.Is(err, errors.ErrCodeNetwork))
	assert.Empty(t, fx.req.Args, "npm must not run")
}

func TestDirURI(t *testing.T) {
	assert.Equal(t, "file:///src/web", dirURI("file:///src/web/package.json"))
	assert.Equal(t, "https://sg.example/github.com/acme/web/-/raw", dirURI("https://sg.example/github.com/acme/web/-/raw/package.json"))
	assert.Equal(t, "", dirURI("package.json"))
}

func TestPlanUpgradeShrinkwrap(t *testing.T) {
	fx := &fakeExec{exec: func(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
		return &sandbox.Result{Files: map[string][]byte{"npm-shrinkwrap.json": []byte(lock("4.17.21"))}}, nil
	}}
	pkg := pair("file:///src/cli")
	pkg.Lockfile.URI = "file:///src/cli/npm-shrinkwrap.json"

	edit, err := NewEditor(fx, Options{}).PlanUpgrade(context.Background(), pkg, lockfile.Dependency{Name: "lodash", Version: "4.17.21"})
	require.NoError(t, err)
	assert.Equal(t, pkg.Lockfile.URI, edit.URI)
	assert.Contains(t, fx.req.Files, "npm-shrinkwrap.json")
}

func TestPlanUpgradeNonZeroExit(t *testing.T) {
	fx := &fakeExec{exec: func(context.Context, sandbox.Request) (*sandbox.Result, error) {
		return &sandbox.Result{
			Stdout:   "",
			Stderr:   "npm ERR! notarget No matching version found for lodash@9.9.9",
			ExitCode: 1,
		}, nil
	}}

	_, err := NewEditor(fx, Options{}).PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "9.9.9"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpgradeFailed))

	var f *errors.ExecFailure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, 1, f.ExitCode)
	assert.Contains(t, f.Stderr, "notarget")
	assert.Equal(t, Command("lodash", "9.9.9"), f.Command)
}

func TestPlanUpgradeUnchangedLockfile(t *testing.T) {
	for name, files := range map[string]map[string][]byte{
		"missing":   {"package.json": []byte(manifest)},
		"identical": {"package-lock.json": []byte(lock("3.10.1"))},
	} {
		t.Run(name, func(t *testing.T) {
			fx := &fakeExec{exec: func(context.Context, sandbox.Request) (*sandbox.Result, error) {
				return &sandbox.Result{Stdout: "up to date", Files: files}, nil
			}}
			_, err := NewEditor(fx, Options{}).PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "3.10.1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeUpgradeFailed))

			var f *errors.ExecFailure
			require.True(t, stderrors.As(err, &f))
			assert.Equal(t, "up to date", f.Stdout)
			assert.Equal(t, 0, f.ExitCode)
		})
	}
}

func TestPlanUpgradeTimeout(t *testing.T) {
	fx := &fakeExec{exec: func(ctx context.Context, _ sandbox.Request) (*sandbox.Result, error) {
		<-ctx.Done()
		return &sandbox.Result{Stderr: "fetching", ExitCode: -1}, ctx.Err()
	}}

	start := time.Now()
	_, err := NewEditor(fx, Options{Timeout: 50 * time.Millisecond}).PlanUpgrade(context.Background(), pair("file:///src/web"), lockfile.Dependency{Name: "lodash", Version: "4.17.21"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, errors.Is(err, errors.ErrCodeUpgradeFailed))
	assert.True(t, errors.Is(err, errors.ErrCodeTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var f *errors.ExecFailure
	require.True(t, stderrors.As(err, &f))
	assert.Equal(t, "fetching", f.Stderr)
}

func TestPlanUpgradeRejectsBadInput(t *testing.T) {
	fx := rewritesTo("4.17.21")
	e := NewEditor(fx, Options{})

	tests := []struct {
		name string
		pkg  scan.PackageJSONPackage
		dep  lockfile.Dependency
		code errors.Code
	}{
		{"flag as name", pair("file:///a"), lockfile.Dependency{Name: "--registry=http://evil", Version: "1.0.0"}, errors.ErrCodeInvalidPackage},
		{"range as version", pair("file:///a"), lockfile.Dependency{Name: "lodash", Version: "^4.0.0"}, errors.ErrCodeInvalidVersion},
		{"not a lockfile", scan.PackageJSONPackage{
			Manifest: workspace.Document{URI: "file:///a/package.json"},
			Lockfile: workspace.Document{URI: "file:///a/yarn.lock"},
		}, lockfile.Dependency{Name: "lodash", Version: "4.17.21"}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx.req = sandbox.Request{}
			_, err := e.PlanUpgrade(context.Background(), tt.pkg, tt.dep)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.Empty(t, fx.req.Args, "npm must not run")
		})
	}
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "package-lock.json")
	require.NoError(t, os.WriteFile(p, []byte(lock("3.10.1")), 0o600))

	edit := &Edit{URI: workspace.FileURI(p), OldText: lock("3.10.1"), NewText: lock("4.17.21")}
	require.NoError(t, Apply(edit))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, lock("4.17.21"), string(got))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestApplyStale(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "package-lock.json")
	require.NoError(t, os.WriteFile(p, []byte(lock("3.9.0")), 0o644))

	err := Apply(&Edit{URI: workspace.FileURI(p), OldText: lock("3.10.1"), NewText: lock("4.17.21")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	got, _ := os.ReadFile(p)
	assert.True(t, strings.Contains(string(got), "3.9.0"))
}

func TestApplyRemoteURI(t *testing.T) {
	err := Apply(&Edit{URI: "https://sourcegraph.example.com/github.com/a/b/-/raw/package-lock.json"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnsupported))
}
