// Package update is the invocation boundary of the updater: check for a
// release, download it into the verified cache and apply it.
//
// Check and download run on the caller's goroutine and honour its context.
// Applies run one at a time on a worker goroutine owned by the Service.
package update

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/3leaps/tufup/internal/apply"
	"github.com/3leaps/tufup/internal/fetch"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/release"
	"github.com/3leaps/tufup/internal/settings"
	"github.com/3leaps/tufup/internal/trustconfig"
	"github.com/3leaps/tufup/internal/tuf"
	"github.com/3leaps/tufup/internal/versionstate"
	versioning "github.com/3leaps/tufup/pkg/update"
)

// ErrClosed is returned by ApplyStagedUpdate after Close.
var ErrClosed = errors.New("update service closed")

// Service wires trust, resolution, fetching and applying for one session.
type Service struct {
	product string
	trust   *trustconfig.TrustConfig
	store   *versionstate.Store
	engine  *apply.Engine
	fetcher *fetch.Fetcher
	logger  *log.Logger
	tufOpts []tuf.Option

	jobs      chan applyJob
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type applyJob struct {
	ctx        context.Context
	bundlePath string
	version    string
	reply      chan applyReply
}

type applyReply struct {
	result model.ApplyResult
	err    error
}

type options struct {
	logger     *log.Logger
	httpClient *http.Client
	userAgent  string
	maxExtract int64
}

// Option configures a Service.
type Option func(*options)

// WithLogger sets the parent logger handed to every component.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client used for metadata and targets.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithUserAgent sets the User-Agent sent to the update endpoints.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithMaxExtractBytes caps the uncompressed size of an applied bundle.
func WithMaxExtractBytes(n int64) Option {
	return func(o *options) { o.maxExtract = n }
}

// New starts a Service. store owns the versions root; trust names the pinned
// root, caches and endpoints. Call Close to stop the apply worker.
func New(st settings.Settings, trust *trustconfig.TrustConfig, store *versionstate.Store, opts ...Option) *Service {
	o := options{logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(&o)
	}

	tufOpts := []tuf.Option{tuf.WithLogger(o.logger), tuf.WithUserAgent(o.userAgent)}
	if o.httpClient != nil {
		tufOpts = append(tufOpts, tuf.WithHTTPClient(o.httpClient))
	}

	s := &Service{
		product: st.Product,
		trust:   trust,
		store:   store,
		engine:  apply.New(store, apply.WithLogger(o.logger), apply.WithMaxExtractBytes(o.maxExtract)),
		fetcher: fetch.New(o.logger),
		logger:  o.logger.WithPrefix("update"),
		tufOpts: tufOpts,
		jobs:    make(chan applyJob),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// CheckForUpdates refreshes trusted metadata and reports whether the newest
// release for platformID is newer than currentVersion. A platform with no
// published release is not an error: LatestVersion is nil.
//
// currentVersion must be strict semver or a dev marker ("dev", "0.0.0-dev",
// empty); anything else is a *model.ConfigError before any network access.
func (s *Service) CheckForUpdates(ctx context.Context, currentVersion, platformID string) (model.CheckResult, error) {
	result := model.CheckResult{CurrentVersion: currentVersion}
	if !versioning.IsDevVersion(currentVersion) {
		if _, err := versioning.ParseVersion(currentVersion); err != nil {
			return result, &model.ConfigError{Op: "parse current version", Path: currentVersion, Err: err}
		}
	}

	desc, _, err := s.resolve(ctx, platformID)
	if err != nil {
		return result, err
	}
	if desc == nil {
		s.logger.Info("no release published", "platform", platformID)
		return result, nil
	}

	decision, reason := versioning.Decide(currentVersion, desc.Version)
	s.logger.Info(versioning.DescribeDecision(decision), "current", currentVersion, "latest", desc.Version)
	s.logger.Debug("update decision", "decision", decision, "reason", reason)
	latest := desc.Version
	result.LatestVersion = &latest
	result.UpdateAvailable = decision.Available()
	return result, nil
}

// DownloadUpdateBundle places the newest release for platformID in the
// targets cache. A cached copy that still verifies is reused.
func (s *Service) DownloadUpdateBundle(ctx context.Context, platformID string) (model.DownloadResult, error) {
	desc, repo, err := s.resolve(ctx, platformID)
	if err != nil {
		return model.DownloadResult{}, err
	}
	if desc == nil {
		return model.DownloadResult{}, &model.NotFoundError{Platform: platformID}
	}

	path, err := s.fetcher.SaveTargetToCache(ctx, repo, s.trust, desc)
	if err != nil {
		return model.DownloadResult{}, err
	}
	return model.DownloadResult{Version: desc.Version, BundlePath: path}, nil
}

// ApplyStagedUpdate installs the bundle at bundlePath as newVersion. The
// caller stops waiting when ctx ends; an apply that already started still
// runs to completion.
func (s *Service) ApplyStagedUpdate(ctx context.Context, bundlePath, newVersion string) (model.ApplyResult, error) {
	job := applyJob{ctx: ctx, bundlePath: bundlePath, version: newVersion, reply: make(chan applyReply, 1)}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return model.ApplyResult{}, ctx.Err()
	case <-s.done:
		return model.ApplyResult{}, ErrClosed
	}

	select {
	case r := <-job.reply:
		return r.result, r.err
	case <-ctx.Done():
		return model.ApplyResult{}, ctx.Err()
	}
}

// State returns the recorded current and previous versions.
func (s *Service) State() (model.VersionState, error) {
	return s.store.Load()
}

// Reconcile finishes bookkeeping left behind by an interrupted apply or a
// StateSyncError and returns the resulting state.
func (s *Service) Reconcile() (model.VersionState, error) {
	state, pending, err := s.store.Reconcile()
	if err != nil {
		return model.VersionState{}, err
	}
	if pending {
		s.logger.Info("reconciled pending apply", "current", state.Current, "previous", state.Previous)
	}
	return state, nil
}

// Close stops the apply worker after the running apply, if any, finishes.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case job := <-s.jobs:
			if err := job.ctx.Err(); err != nil {
				job.reply <- applyReply{err: err}
				continue
			}
			res, err := s.engine.Apply(job.ctx, job.bundlePath, job.version)
			job.reply <- applyReply{result: res, err: err}
		}
	}
}

// resolve loads a freshly verified repository and picks the newest release.
func (s *Service) resolve(ctx context.Context, platformID string) (*model.ReleaseDescriptor, tuf.Repository, error) {
	repo, err := tuf.Load(ctx, s.trust, s.tufOpts...)
	if err != nil {
		return nil, nil, err
	}
	desc, err := release.FindLatestForPlatform(repo, s.product, platformID, release.WithLogger(s.logger))
	if err != nil {
		return nil, nil, err
	}
	return desc, repo, nil
}
