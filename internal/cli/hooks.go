package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockcheck/pkg/observability"
)

// debugHooks logs observability events at debug level, so they show up
// with --verbose.
type debugHooks struct {
	logger *log.Logger
}

func installDebugHooks(l *log.Logger) {
	h := debugHooks{logger: l}
	observability.SetScanHooks(h)
	observability.SetCacheHooks(h)
	observability.SetHTTPHooks(h)
	observability.SetExecHooks(h)
}

func (h debugHooks) OnScanStart(_ context.Context, name, versionRange string) {
	h.logger.Debug("scan started", "package", name, "range", versionRange)
}

func (h debugHooks) OnPairChecked(_ context.Context, lockfileURI, outcome string, d time.Duration) {
	h.logger.Debug("pair checked", "lockfile", lockfileURI, "outcome", outcome, "duration", d.Round(time.Millisecond))
}

func (h debugHooks) OnScanComplete(_ context.Context, name string, candidates, unsatisfied int, d time.Duration, err error) {
	h.logger.Debug("scan complete", "package", name, "candidates", candidates, "unsatisfied", unsatisfied,
		"duration", d.Round(time.Millisecond), "err", err)
}

func (h debugHooks) OnCacheHit(_ context.Context, keyType string) {
	h.logger.Debug("cache hit", "namespace", keyType)
}

func (h debugHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.logger.Debug("cache miss", "namespace", keyType)
}

func (h debugHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.logger.Debug("cache set", "namespace", keyType, "bytes", size)
}

func (h debugHooks) OnRequest(_ context.Context, method, host, path string) {
	h.logger.Debug("http request", "method", method, "host", host, "path", path)
}

func (h debugHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("http response", "method", method, "host", host, "path", path, "status", status,
		"duration", d.Round(time.Millisecond))
}

func (h debugHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Debug("http error", "method", method, "host", host, "path", path, "err", err)
}

func (h debugHooks) OnExecStart(_ context.Context, profile string, args []string) {
	h.logger.Debug("exec start", "profile", profile, "args", args)
}

func (h debugHooks) OnExecComplete(_ context.Context, profile string, exitCode int, d time.Duration, err error) {
	h.logger.Debug("exec complete", "profile", profile, "exit", exitCode, "duration", d.Round(time.Millisecond), "err", err)
}

var (
	_ observability.ScanHooks  = debugHooks{}
	_ observability.CacheHooks = debugHooks{}
	_ observability.HTTPHooks  = debugHooks{}
	_ observability.ExecHooks  = debugHooks{}
)
