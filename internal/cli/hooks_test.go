package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lockcheck/pkg/observability"
)

func TestDebugHooks(t *testing.T) {
	var buf bytes.Buffer
	installDebugHooks(newLogger(&buf, log.DebugLevel))
	t.Cleanup(func() {
		observability.SetScanHooks(observability.NoopScanHooks{})
		observability.SetCacheHooks(observability.NoopCacheHooks{})
		observability.SetHTTPHooks(observability.NoopHTTPHooks{})
		observability.SetExecHooks(observability.NoopExecHooks{})
	})

	ctx := context.Background()
	observability.Exec().OnExecStart(ctx, "npm-exec", []string{"npm", "install"})
	observability.Scan().OnPairChecked(ctx, "file:///a/package-lock.json", "satisfied", time.Millisecond)
	observability.Cache().OnCacheMiss(ctx, "npm")

	out := buf.String()
	for _, want := range []string{"exec start", "pair checked", "cache miss"} {
		if !strings.Contains(out, want) {
			t.Errorf("debug log missing %q:\n%s", want, out)
		}
	}
}

func TestDebugHooksQuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	h := debugHooks{logger: newLogger(&buf, log.InfoLevel)}
	h.OnRequest(context.Background(), "GET", "registry.npmjs.org", "/lodash")
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}
