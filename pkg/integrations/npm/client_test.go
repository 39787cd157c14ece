package npm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/lockcheck/pkg/errors"
)

const lodashPackument = `{
  "name": "lodash",
  "dist-tags": {"latest": "4.17.21"},
  "versions": {
    "3.10.1": {},
    "4.17.20": {},
    "4.17.21": {},
    "4.17.22": {"deprecated": "broken publish"},
    "5.0.0-alpha.1": {},
    "not-semver": {}
  }
}`

func newTestClient(t *testing.T, body string) (*Client, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Accept"); got != abbreviatedMetadata {
			t.Errorf("Accept = %q, want %q", got, abbreviatedMetadata)
		}
		switch r.URL.EscapedPath() {
		case "/lodash", "/@scope%2Fpkg":
			w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(nil, srv.URL, time.Hour)
	c.SetHTTPClient(srv.Client())
	return c, &calls
}

func TestFetchPackage(t *testing.T) {
	c, _ := newTestClient(t, lodashPackument)

	info, err := c.FetchPackage(context.Background(), "lodash", false)
	if err != nil {
		t.Fatalf("FetchPackage() error: %v", err)
	}
	want := []string{"3.10.1", "4.17.20", "4.17.21", "4.17.22", "5.0.0-alpha.1"}
	if len(info.Versions) != len(want) {
		t.Fatalf("Versions = %v, want %v", info.Versions, want)
	}
	for i := range want {
		if info.Versions[i] != want[i] {
			t.Errorf("Versions[%d] = %q, want %q", i, info.Versions[i], want[i])
		}
	}
	if info.Latest != "4.17.21" {
		t.Errorf("Latest = %q, want 4.17.21", info.Latest)
	}
}

func TestFetchPackageScoped(t *testing.T) {
	c, _ := newTestClient(t, lodashPackument)
	if _, err := c.FetchPackage(context.Background(), "@scope/pkg", false); err != nil {
		t.Fatalf("FetchPackage(@scope/pkg) error: %v", err)
	}
}

func TestFetchPackageNotFound(t *testing.T) {
	c, _ := newTestClient(t, lodashPackument)
	_, err := c.FetchPackage(context.Background(), "left-pad", false)
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("FetchPackage() error = %v, want NOT_FOUND", err)
	}
}

func TestFetchPackageInvalidName(t *testing.T) {
	c, calls := newTestClient(t, lodashPackument)
	_, err := c.FetchPackage(context.Background(), "Not A Name", false)
	if err == nil {
		t.Fatal("FetchPackage() should reject invalid names")
	}
	if *calls != 0 {
		t.Errorf("invalid name should not reach the registry, got %d calls", *calls)
	}
}

func TestResolveVersion(t *testing.T) {
	c, _ := newTestClient(t, lodashPackument)

	tests := []struct {
		rng     string
		want    string
		wantErr errors.Code
	}{
		{"", "4.17.21", ""},
		{"latest", "4.17.21", ""},
		{"^4.0.0", "4.17.21", ""}, // 4.17.22 is deprecated
		{"^3.0.0", "3.10.1", ""},
		{"4.17.20", "4.17.20", ""},
		{">=5.0.0-alpha.0", "5.0.0-alpha.1", ""},
		{"^6.0.0", "", errors.ErrCodeNotFound},
		{"nope", "", errors.ErrCodeInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			got, err := c.ResolveVersion(context.Background(), "lodash", tt.rng, false)
			if tt.wantErr != "" {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveVersion(%q) error = %v, want %s", tt.rng, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveVersion(%q) error: %v", tt.rng, err)
			}
			if got != tt.want {
				t.Errorf("ResolveVersion(%q) = %q, want %q", tt.rng, got, tt.want)
			}
		})
	}
}
