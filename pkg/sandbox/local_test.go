package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

const shProfile = "sh-test"

func newShellExecutor(t *testing.T) *Local {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	l := NewLocal(nil)
	l.TempDir = t.TempDir()
	l.Register(Profile{Name: shProfile, Command: "sh", Env: []string{"GREETING=hi"}, Skip: []string{"node_modules"}})
	return l
}

func TestLocalExecReportsChangedFiles(t *testing.T) {
	l := newShellExecutor(t)

	res, err := l.Exec(context.Background(), Request{
		Profile: shProfile,
		Args: []string{"sh", "-c", `
			printf 'changed' > lock.json
			mkdir -p node_modules/x && echo ignored > node_modules/x/index.js
			echo new > sub/new.txt
			echo "$GREETING"
			echo warn >&2`},
		Files: map[string][]byte{
			"lock.json":        []byte("original"),
			"manifest.json":    []byte("untouched"),
			"sub/existing.txt": []byte("x"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, map[string][]byte{
		"lock.json":   []byte("changed"),
		"sub/new.txt": []byte("new\n"),
	}, res.Files)
}

func TestLocalExecNonZeroExit(t *testing.T) {
	l := newShellExecutor(t)

	res, err := l.Exec(context.Background(), Request{
		Profile: shProfile,
		Args:    []string{"sh", "-c", "echo boom >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
	assert.Empty(t, res.Files)
}

func TestLocalExecTimeout(t *testing.T) {
	l := newShellExecutor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Exec(ctx, Request{Profile: shProfile, Args: []string{"sh", "-c", "sleep 30"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLocalExecRejectsRequests(t *testing.T) {
	l := newShellExecutor(t)

	tests := []struct {
		name string
		req  Request
		code errors.Code
	}{
		{"unknown profile", Request{Profile: "bash-exec", Args: []string{"bash"}}, errors.ErrCodeUnsupported},
		{"wrong command", Request{Profile: shProfile, Args: []string{"rm", "-rf", "/"}}, errors.ErrCodeInvalidInput},
		{"no args", Request{Profile: shProfile}, errors.ErrCodeInvalidInput},
		{"escaping file", Request{Profile: shProfile, Args: []string{"sh"}, Files: map[string][]byte{"../x": nil}}, errors.ErrCodeInvalidPath},
		{"absolute file", Request{Profile: shProfile, Args: []string{"sh"}, Files: map[string][]byte{"/etc/x": nil}}, errors.ErrCodeInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Exec(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestLocalExecMissingBinary(t *testing.T) {
	l := NewLocal(nil)
	l.Register(Profile{Name: "ghost", Command: "ghost", Path: "/nonexistent/ghost-binary"})

	_, err := l.Exec(context.Background(), Request{Profile: "ghost", Args: []string{"ghost"}})
	assert.True(t, errors.Is(err, errors.ErrCodeInternal), "got %v", err)
}

func TestDefaultProfiles(t *testing.T) {
	l := NewLocal(nil)
	p, ok := l.Profile(ProfileNpm)
	require.True(t, ok)
	assert.Equal(t, "npm", p.Command)
	assert.Contains(t, p.Skip, "node_modules")
}
