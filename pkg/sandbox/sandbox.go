// Package sandbox runs package-manager commands in isolation.
//
// A command runs under a named [Profile] that fixes which binary may be
// executed. [Local] copies the request's input files into a fresh temporary
// directory, runs the command there, reports every file the command created
// or changed, and removes the directory.
//
//	exec := sandbox.NewLocal(nil)
//	res, err := exec.Exec(ctx, sandbox.Request{
//	    Profile: sandbox.ProfileNpm,
//	    Args:    []string{"npm", "install", "--package-lock-only", "--", "lodash@4.17.21"},
//	    Files:   map[string][]byte{"package.json": manifest, "package-lock.json": lock},
//	})
//
// A non-zero exit status is not an error; callers inspect Result.ExitCode.
// Errors are reserved for requests that could not run or were cut off.
package sandbox

import "context"

// ProfileNpm is the profile for npm invocations.
const ProfileNpm = "npm-exec"

// Request is a command to run.
type Request struct {
	Profile string
	// Dir is the directory the files came from. It is only used for logging;
	// the command always runs in a private copy.
	Dir   string
	Args  []string          // argv; Args[0] must be the profile's command
	Files map[string][]byte // input files, keyed by slash-separated relative path
}

// Result is the outcome of a command that ran.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Files    map[string][]byte // files created or changed by the command
}

// Executor runs commands in an isolated environment.
type Executor interface {
	Exec(ctx context.Context, req Request) (*Result, error)
}

// Profile describes a command an executor is allowed to run.
type Profile struct {
	Name    string
	Command string   // expected argv[0]
	Path    string   // executable to run; defaults to Command looked up in PATH
	Env     []string // extra environment, KEY=VALUE
	Skip    []string // directory names not reported in Result.Files
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:    ProfileNpm,
			Command: "npm",
			Env: []string{
				"npm_config_update_notifier=false",
				"npm_config_fund=false",
				"npm_config_audit=false",
			},
			Skip: []string{"node_modules"},
		},
	}
}
