package sandbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/observability"
)

// waitDelay bounds how long a killed command may hold its output pipes.
const waitDelay = 5 * time.Second

// Local runs commands on this machine in throwaway directories.
type Local struct {
	// TempDir is where working directories are created; os.TempDir when empty.
	TempDir string
	Logger  *log.Logger

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewLocal creates an executor with the default profiles registered.
func NewLocal(logger *log.Logger) *Local {
	if logger == nil {
		logger = log.Default()
	}
	l := &Local{Logger: logger, profiles: make(map[string]Profile)}
	for _, p := range DefaultProfiles() {
		l.Register(p)
	}
	return l
}

// Register adds or replaces a profile.
func (l *Local) Register(p Profile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiles[p.Name] = p
}

// Profile returns the registered profile called name.
func (l *Local) Profile(name string) (Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	return p, ok
}

// Exec runs req in a fresh directory.
func (l *Local) Exec(ctx context.Context, req Request) (*Result, error) {
	p, ok := l.Profile(req.Profile)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnsupported, "unknown exec profile %q", req.Profile)
	}
	if len(req.Args) == 0 || req.Args[0] != p.Command {
		return nil, errors.New(errors.ErrCodeInvalidInput, "profile %s only runs %s", p.Name, p.Command)
	}

	dir, err := os.MkdirTemp(l.TempDir, "lockcheck-exec-*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create sandbox directory")
	}
	defer os.RemoveAll(dir)

	if err := writeFiles(dir, req.Files); err != nil {
		return nil, err
	}

	bin := p.Path
	if bin == "" {
		bin = p.Command
	}
	cmd := exec.CommandContext(ctx, bin, req.Args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	hooks := observability.Exec()
	hooks.OnExecStart(ctx, p.Name, req.Args)
	l.Logger.Debug("exec", "profile", p.Name, "dir", req.Dir, "args", req.Args)
	start := time.Now()

	runErr := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		runErr = errors.Wrap(errors.ErrCodeTimeout, ctx.Err(), "%s did not finish", p.Command)
	case runErr != nil && !stderrors.As(runErr, &exitErr):
		runErr = errors.Wrap(errors.ErrCodeInternal, runErr, "run %s", p.Command)
	default:
		runErr = nil
	}
	hooks.OnExecComplete(ctx, p.Name, res.ExitCode, time.Since(start), runErr)
	l.Logger.Debug("exec finished", "profile", p.Name, "exit", res.ExitCode, "duration", time.Since(start))
	if runErr != nil {
		return res, runErr
	}

	res.Files, err = changedFiles(dir, req.Files, p.Skip)
	if err != nil {
		return res, errors.Wrap(errors.ErrCodeInternal, err, "collect sandbox output")
	}
	return res, nil
}

func writeFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		if err := errors.ValidatePath(name); err != nil {
			return err
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "create %s", name)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "write %s", name)
		}
	}
	return nil
}

// changedFiles returns every regular file under dir whose contents differ
// from the inputs, including new files.
func changedFiles(dir string, inputs map[string][]byte, skip []string) (map[string][]byte, error) {
	changed := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && slices.Contains(skip, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if old, ok := inputs[rel]; !ok || !bytes.Equal(old, data) {
			changed[rel] = data
		}
		return nil
	})
	return changed, err
}

var _ Executor = (*Local)(nil)
