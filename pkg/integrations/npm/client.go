package npm

import (
	"context"
	stderrors "errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/lockcheck/pkg/cache"
	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/integrations"
	"github.com/matzehuels/lockcheck/pkg/versionrange"
)

// DefaultRegistry is the public npm registry.
const DefaultRegistry = "https://registry.npmjs.org"

// abbreviatedMetadata asks the registry for the install-time document,
// which omits readmes and per-version manifests.
const abbreviatedMetadata = "application/vnd.npm.install-v1+json"

// PackageInfo lists the published versions of a package.
type PackageInfo struct {
	Name       string            `json:"name"`
	Latest     string            `json:"latest"`
	Versions   []string          `json:"versions"` // ascending semver order
	Deprecated map[string]string `json:"deprecated,omitempty"`
}

// Client reads package metadata from an npm registry.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a client for registry (DefaultRegistry when empty).
func NewClient(c cache.Cache, registry string, cacheTTL time.Duration) *Client {
	if registry == "" {
		registry = DefaultRegistry
	}
	registry = strings.TrimSuffix(registry, "/")
	return &Client{
		Client: integrations.NewClient(c, "npm:"+registry, cacheTTL, map[string]string{
			"Accept": abbreviatedMetadata,
		}),
		baseURL: registry,
	}
}

// FetchPackage returns the published versions of pkg.
func (c *Client) FetchPackage(ctx context.Context, pkg string, refresh bool) (*PackageInfo, error) {
	if err := errors.ValidateNpmPackageName(pkg); err != nil {
		return nil, err
	}
	var info PackageInfo
	err := c.Cached(ctx, pkg, refresh, &info, func() error {
		return c.fetch(ctx, pkg, &info)
	})
	if err != nil {
		if stderrors.Is(err, integrations.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, err, "npm package %s", pkg)
		}
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "fetch npm package %s", pkg)
	}
	return &info, nil
}

func (c *Client) fetch(ctx context.Context, pkg string, info *PackageInfo) error {
	var data registryResponse
	// Scoped names are requested as "@scope%2Fname".
	if err := c.Get(ctx, c.baseURL+"/"+url.PathEscape(pkg), &data); err != nil {
		return err
	}

	type parsed struct {
		raw string
		v   *semver.Version
	}
	var versions []parsed
	deprecated := make(map[string]string)
	for raw, details := range data.Versions {
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			continue
		}
		versions = append(versions, parsed{raw, v})
		if details.Deprecated != "" {
			deprecated[raw] = details.Deprecated
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].v.LessThan(versions[j].v) })

	*info = PackageInfo{Name: data.Name, Latest: data.DistTags.Latest}
	for _, p := range versions {
		info.Versions = append(info.Versions, p.raw)
	}
	if len(deprecated) > 0 {
		info.Deprecated = deprecated
	}
	return nil
}

// ResolveVersion picks the version an upgrade should pin: the "latest" tag
// for an empty range or "latest", otherwise the highest published,
// non-deprecated version inside rng.
func (c *Client) ResolveVersion(ctx context.Context, pkg, rng string, refresh bool) (string, error) {
	info, err := c.FetchPackage(ctx, pkg, refresh)
	if err != nil {
		return "", err
	}
	return info.Pick(rng)
}

// Pick applies the [Client.ResolveVersion] rules to already fetched metadata.
func (p *PackageInfo) Pick(rng string) (string, error) {
	rng = strings.TrimSpace(rng)
	if rng == "" || rng == "latest" {
		if p.Latest == "" {
			return "", errors.New(errors.ErrCodeNotFound, "%s has no latest tag", p.Name)
		}
		return p.Latest, nil
	}
	r, err := versionrange.ParseRange(rng)
	if err != nil {
		return "", err
	}
	for i := len(p.Versions) - 1; i >= 0; i-- {
		v := p.Versions[i]
		if _, dep := p.Deprecated[v]; dep {
			continue
		}
		if ok, err := r.Contains(v); err == nil && ok {
			return v, nil
		}
	}
	return "", errors.New(errors.ErrCodeNotFound, "no published version of %s satisfies %s", p.Name, rng)
}

type registryResponse struct {
	Name     string                    `json:"name"`
	DistTags distTags                  `json:"dist-tags"`
	Versions map[string]versionDetails `json:"versions"`
}

type distTags struct {
	Latest string `json:"latest"`
}

type versionDetails struct {
	Deprecated string `json:"deprecated"`
}
