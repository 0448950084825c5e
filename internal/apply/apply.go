// Package apply installs a downloaded bundle as a new side-by-side version.
//
// An apply runs four strictly sequential steps:
//
//	stage    versions/.<v>_tmp, any stale copy removed first
//	extract  every zip entry validated, then written under the staging dir
//	promote  journal written, versions/<v> removed, staging dir renamed into place
//	commit   current -> previous, v -> current, journal cleared
//
// Failures before promote leave versions/<v> and the state document untouched.
package apply

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/tufup/internal/hostenv"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/versionstate"
	"github.com/3leaps/tufup/pkg/update"
)

// DefaultMaxExtractBytes caps the total uncompressed size of a bundle.
const DefaultMaxExtractBytes int64 = 4 << 30

// Store is the version bookkeeping the engine needs.
type Store interface {
	Root() string
	VersionDir(version string) string
	StagingDir(version string) string
	Load() (model.VersionState, error)
	Advance(version string) (model.VersionState, error)
	BeginApply(from, to string) error
	EndApply() error
}

var _ Store = (*versionstate.Store)(nil)

// Engine applies bundles into one versions root. At most one apply runs at a time.
type Engine struct {
	store    Store
	logger   *log.Logger
	sem      *semaphore.Weighted
	maxBytes int64
	noexec   func(string) bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; the engine logs under the "apply" prefix.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxExtractBytes overrides DefaultMaxExtractBytes.
func WithMaxExtractBytes(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// New returns an Engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   log.New(io.Discard),
		sem:      semaphore.NewWeighted(1),
		maxBytes: DefaultMaxExtractBytes,
		noexec:   hostenv.IsNoExec,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithPrefix("apply")
	return e
}

// Apply installs the zip at bundlePath as version newVersion. Waiting for a
// running apply honours ctx; once this apply starts it runs to completion.
//
// A *model.StateSyncError is returned together with a valid result when the
// files were promoted but the state document could not be written.
func (e *Engine) Apply(ctx context.Context, bundlePath, newVersion string) (model.ApplyResult, error) {
	version, err := update.ParseVersion(newVersion)
	if err != nil {
		return model.ApplyResult{}, &model.IOError{Op: "apply", Path: bundlePath, Err: err}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return model.ApplyResult{}, err
	}
	defer e.sem.Release(1)

	root := e.store.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return model.ApplyResult{}, &model.IOError{Op: "create versions root", Path: root, Err: err}
	}
	if e.noexec(root) {
		e.logger.Warn("versions root is on a noexec mount; installed binaries will not run", "path", root)
	}

	staging := e.store.StagingDir(version)
	final := e.store.VersionDir(version)
	lg := e.logger.With("version", version)

	// stage
	if err := os.RemoveAll(staging); err != nil {
		return model.ApplyResult{}, &model.IOError{Op: "remove stale staging dir", Path: staging, Err: err}
	}
	if err := os.Mkdir(staging, 0o755); err != nil {
		return model.ApplyResult{}, &model.IOError{Op: "create staging dir", Path: staging, Err: err}
	}
	promoted := false
	defer func() {
		if !promoted {
			_ = os.RemoveAll(staging)
		}
	}()

	// extract
	lg.Info("extracting bundle", "bundle", bundlePath)
	files, size, err := extractZip(bundlePath, staging, e.maxBytes)
	if err != nil {
		return model.ApplyResult{}, err
	}
	lg.Debug("extracted", "files", files, "size", size)

	// promote
	prev, err := e.store.Load()
	if err != nil {
		return model.ApplyResult{}, err
	}
	if err := e.store.BeginApply(prev.Current, version); err != nil {
		return model.ApplyResult{}, err
	}
	if err := os.RemoveAll(final); err != nil {
		_ = e.store.EndApply()
		return model.ApplyResult{}, &model.IOError{Op: "remove existing version dir", Path: final, Err: err}
	}
	if err := os.Rename(staging, final); err != nil {
		_ = e.store.EndApply()
		return model.ApplyResult{}, &model.IOError{Op: "promote", Path: final, Err: err}
	}
	promoted = true
	lg.Info("promoted", "path", final)

	// commit
	result := model.ApplyResult{FromVersion: prev.Current, ToVersion: version}
	if _, err := e.store.Advance(version); err != nil {
		lg.Error("version state not recorded; run reconcile", "err", err)
		return result, &model.StateSyncError{From: prev.Current, To: version, Err: err}
	}
	if err := e.store.EndApply(); err != nil {
		lg.Warn("apply journal not cleared", "err", err)
	}
	return result, nil
}

// IsSecurity reports whether err rejected an archive entry.
func IsSecurity(err error) bool {
	var se *model.SecurityError
	return errors.As(err, &se)
}
