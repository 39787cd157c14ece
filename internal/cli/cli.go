package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/lockcheck/pkg/buildinfo"
	"github.com/matzehuels/lockcheck/pkg/cache"
	"github.com/matzehuels/lockcheck/pkg/config"
	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/integrations/npm"
	"github.com/matzehuels/lockcheck/pkg/integrations/sourcegraph"
	"github.com/matzehuels/lockcheck/pkg/sandbox"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/upgrade"
	"github.com/matzehuels/lockcheck/pkg/workspace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "lockcheck"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	noCache    bool
	format     string

	// cfg is loaded once per invocation by the root command's pre-run hook.
	cfg *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "lockcheck finds npm lockfiles that install an out-of-range package version",
		Long:         `lockcheck searches a codebase for package-lock.json files, resolves the version of a package each one actually installs, reports the ones outside a semver range and can regenerate their lockfiles with npm.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			installDebugHooks(c.Logger)
			return c.loadConfig()
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to "+config.FileName+" (default: search upwards from the working directory)")
	flags.BoolVar(&c.noCache, "no-cache", false, "disable the search and fetch cache")
	flags.StringVarP(&c.format, "format", "f", formatText, "output format: text, json or yaml")

	// Register all subcommands
	root.AddCommand(c.scanCommand())
	root.AddCommand(c.resolveCommand())
	root.AddCommand(c.upgradeCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())

	return root
}

func (c *CLI) loadConfig() error {
	if err := validateFormat(c.format); err != nil {
		return err
	}
	var err error
	if c.configPath != "" {
		c.cfg, err = config.Load(c.configPath)
	} else {
		c.cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}
	if c.cfg.Path != "" {
		c.Logger.Debug("loaded config", "path", c.cfg.Path)
	}
	return nil
}

// conf returns the loaded configuration, or defaults when a command runs
// without the root pre-run hook (tests).
func (c *CLI) conf() *config.Config {
	if c.cfg == nil {
		c.cfg = config.Default()
	}
	return c.cfg
}

// =============================================================================
// Component Factories
// =============================================================================

// newCache opens the configured cache backend.
func (c *CLI) newCache(ctx context.Context) (cache.Cache, error) {
	cfg := c.conf()
	if c.noCache || cfg.Cache.Backend == config.CacheNone {
		return cache.NewNullCache(), nil
	}
	if cfg.Cache.Backend == config.CacheRedis {
		return cache.NewRedisCache(ctx, cache.RedisConfig{URL: cfg.Cache.RedisURL})
	}
	dir := cfg.Cache.Dir
	if dir == "" {
		var err error
		if dir, err = cacheDir(); err != nil {
			c.Logger.Warn("cache disabled", "err", err)
			return cache.NewNullCache(), nil
		}
	}
	return cache.NewFileCache(dir)
}

// newWorkspace builds the searcher and fetcher for the configured backend.
func (c *CLI) newWorkspace(store cache.Cache) (workspace.Searcher, workspace.Fetcher) {
	cfg := c.conf()
	if cfg.Search.Backend == config.BackendSourcegraph {
		sg := sourcegraph.NewClient(store, sourcegraph.Config{
			Endpoint: cfg.Search.Endpoint,
			Token:    cfg.Token(),
			CacheTTL: cfg.CacheTTL(),
		})
		return sg, sg
	}
	return workspace.NewLocalSearcher(cfg.Search.Roots, cfg.Scan.Exclude, c.Logger), workspace.LocalFetcher{}
}

// newCoordinator wires a scan coordinator from the configuration.
func (c *CLI) newCoordinator(store cache.Cache) *scan.Coordinator {
	searcher, fetcher := c.newWorkspace(store)
	return scan.NewCoordinator(searcher, fetcher, c.conf().ScanOptions(), c.Logger)
}

// newEditor creates an upgrade editor backed by the local sandbox. Project
// .npmrc files are read through fetcher.
func (c *CLI) newEditor(fetcher workspace.Fetcher) *upgrade.Editor {
	cfg := c.conf()
	exec := sandbox.NewLocal(c.Logger)
	if cfg.Upgrade.NpmPath != "" {
		p, _ := exec.Profile(sandbox.ProfileNpm)
		p.Path = cfg.Upgrade.NpmPath
		exec.Register(p)
	}
	return upgrade.NewEditor(exec, upgrade.Options{
		Timeout: cfg.UpgradeTimeout(),
		Logger:  c.Logger,
		Fetcher: fetcher,
	})
}

// newRegistry creates an npm registry client for range resolution.
func (c *CLI) newRegistry(store cache.Cache) *npm.Client {
	cfg := c.conf()
	return npm.NewClient(store, cfg.Upgrade.Registry, cfg.CacheTTL())
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/lockcheck/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// projectFiles locates the package.json and lockfile for a directory or a
// lockfile path given on the command line.
func projectFiles(arg string) (manifest, lock string, err error) {
	info, err := os.Stat(arg)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeFileNotFound, err, "%s", arg)
	}
	if !info.IsDir() {
		uri, ok := scan.ManifestURI(filepath.ToSlash(arg))
		if !ok {
			return "", "", errors.New(errors.ErrCodeInvalidInput, "%s is not a package-lock.json or npm-shrinkwrap.json", arg)
		}
		return filepath.FromSlash(uri), arg, nil
	}
	for _, name := range []string{"package-lock.json", "npm-shrinkwrap.json"} {
		p := filepath.Join(arg, name)
		if _, err := os.Stat(p); err == nil {
			return filepath.Join(arg, "package.json"), p, nil
		}
	}
	return "", "", errors.New(errors.ErrCodeFileNotFound, "no package-lock.json or npm-shrinkwrap.json in %s", arg)
}

// readPair loads a project's manifest and lockfile from disk.
func readPair(ctx context.Context, arg string) (scan.PackageJSONPackage, error) {
	manifestPath, lockPath, err := projectFiles(arg)
	if err != nil {
		return scan.PackageJSONPackage{}, err
	}
	var f workspace.LocalFetcher
	manifest, err := f.Fetch(ctx, workspace.FileURI(mustAbs(manifestPath)))
	if err != nil {
		return scan.PackageJSONPackage{}, err
	}
	lock, err := f.Fetch(ctx, workspace.FileURI(mustAbs(lockPath)))
	if err != nil {
		return scan.PackageJSONPackage{}, err
	}
	return scan.PackageJSONPackage{Manifest: manifest, Lockfile: lock}, nil
}

func mustAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
