package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/lockcheck/pkg/buildinfo"
	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/upgrade"
)

type scanRequest struct {
	Package string `json:"package"`
	Range   string `json:"range"`
}

type resolveRequest struct {
	Lockfile string `json:"lockfile"` // lockfile URI
	Package  string `json:"package"`
	Path     string `json:"path,omitempty"` // resolve as seen from this install path
}

type resolveResponse struct {
	Found      bool                 `json:"found"`
	Dependency *lockfile.Dependency `json:"dependency,omitempty"`
}

type upgradeRequest struct {
	Lockfile string `json:"lockfile"`
	Package  string `json:"package"`
	Version  string `json:"version"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		buildinfo.Info
	}{"ok", buildinfo.Get()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !s.decode(w, r, &req) {
		return
	}
	report, err := s.scanner.Scan(r.Context(), req.Package, req.Range)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Package == "" {
		s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "package is required"))
		return
	}
	pkg, err := s.fetchPair(r.Context(), req.Lockfile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		dep   lockfile.Dependency
		found bool
	)
	if req.Path == "" {
		dep, found, err = lockfile.Resolve(pkg.Manifest.Text, pkg.Lockfile.Text, req.Package,
			lockfile.Options{Traversal: s.traversal})
	} else {
		dep, found, err = resolveAt(pkg.Lockfile.Text, req.Path, req.Package)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := resolveResponse{Found: found}
	if found {
		resp.Dependency = &dep
	}
	writeJSON(w, http.StatusOK, resp)
}

func resolveAt(lockText, path, name string) (lockfile.Dependency, bool, error) {
	tree, err := lockfile.ParseLockfile([]byte(lockText))
	if err != nil {
		return lockfile.Dependency{}, false, err
	}
	return tree.ResolveAt(path, name)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	pkg, err := s.fetchPair(r.Context(), req.Lockfile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	edit, err := s.planner.PlanUpgrade(r.Context(), pkg, lockfile.Dependency{Name: req.Package, Version: req.Version})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edit)
}

func (s *Server) fetchPair(ctx context.Context, lockURI string) (scan.PackageJSONPackage, error) {
	manifestURI, ok := scan.ManifestURI(lockURI)
	if !ok {
		return scan.PackageJSONPackage{}, errors.New(errors.ErrCodeInvalidInput,
			"lockfile must be a package-lock.json or npm-shrinkwrap.json URI, got %q", lockURI)
	}

	var pkg scan.PackageJSONPackage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pkg.Manifest, err = s.fetcher.Fetch(gctx, manifestURI)
		return err
	})
	g.Go(func() (err error) {
		pkg.Lockfile, err = s.fetcher.Fetch(gctx, lockURI)
		return err
	})
	return pkg, g.Wait()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid request body"))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: errorDetail{
		Code:    string(errors.GetCode(err)),
		Message: errors.UserMessage(err),
	}}
	if body.Error.Code == "" {
		body.Error.Code = string(errors.ErrCodeInternal)
	}

	var f *errors.ExecFailure
	if stderrors.As(err, &f) {
		code := f.ExitCode
		body.Error.ExitCode = &code
		body.Error.Stdout = f.Stdout
		body.Error.Stderr = f.Stderr
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrCodeTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidRange, errors.ErrCodeInvalidVersion,
		errors.ErrCodeInvalidPackage, errors.ErrCodeInvalidPath:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound, errors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case errors.ErrCodeParse, errors.ErrCodeUnsupportedTopology:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUpgradeFailed, errors.ErrCodeNetwork:
		return http.StatusBadGateway
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

var _ Planner = (*upgrade.Editor)(nil)
var _ Scanner = (*scan.Coordinator)(nil)
