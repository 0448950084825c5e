// Package tuf loads a verified view of the remote update repository.
//
// The pinned root.json is read from local disk and never fetched remotely.
// Everything else (root rotations, timestamp, snapshot, targets) comes from
// the metadata endpoint and is verified by go-tuf before any accessor returns.
package tuf

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/theupdateframework/go-tuf/v2/metadata"
	"github.com/theupdateframework/go-tuf/v2/metadata/config"
	"github.com/theupdateframework/go-tuf/v2/metadata/updater"

	"github.com/3leaps/tufup/internal/host/remote"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/trustconfig"
	"github.com/3leaps/tufup/internal/verify"
)

// Repository is the verified repository capability. Only data that passed
// signature, threshold, version and expiry checks is reachable through it.
type Repository interface {
	Targets() []model.Target
	DownloadTarget(ctx context.Context, name, dest string) error
	VerifyCached(name, path string) bool
}

// Client is a refreshed go-tuf updater. Calls are serialized.
type Client struct {
	mu      sync.Mutex
	up      *updater.Updater
	fetcher *remote.Fetcher
	targets []model.Target
	logger  *log.Logger
}

var _ Repository = (*Client)(nil)

type options struct {
	logger     *log.Logger
	httpClient *http.Client
	userAgent  string
}

// Option configures Load.
type Option func(*options)

// WithLogger sets the logger; the client logs under the "tuf" prefix.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithUserAgent sets the User-Agent sent to both endpoints.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// Load reads the pinned root, checks its attestation when a root key is
// configured, and refreshes the top-level metadata. Every failure is a
// *model.TrustError.
func Load(ctx context.Context, cfg *trustconfig.TrustConfig, opts ...Option) (*Client, error) {
	o := options{
		logger:    log.New(io.Discard),
		userAgent: remote.UserAgent("dev"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithPrefix("tuf")

	rootBytes, err := readPinnedRoot(cfg)
	if err != nil {
		return nil, err
	}

	upCfg, err := config.New(cfg.MetadataURL.String(), rootBytes)
	if err != nil {
		return nil, &model.TrustError{Kind: model.TrustRoot, Err: fmt.Errorf("updater config: %w", err)}
	}
	fetcher := remote.NewFetcher(o.httpClient, o.userAgent)
	fetcher.Bind(ctx)
	upCfg.LocalMetadataDir = cfg.MetadataCacheDir
	upCfg.LocalTargetsDir = cfg.TargetsCacheDir
	upCfg.RemoteTargetsURL = cfg.TargetsURL.String()
	upCfg.Fetcher = fetcher
	upCfg.PrefixTargetsWithHash = true

	up, err := updater.New(upCfg)
	if err != nil {
		return nil, &model.TrustError{Kind: model.TrustRoot, Err: fmt.Errorf("load pinned root: %w", err)}
	}

	logger.Debug("refreshing metadata", "url", cfg.MetadataURL.String())
	if err := up.Refresh(); err != nil {
		return nil, classify(ctx, "refresh metadata", err)
	}

	c := &Client{up: up, fetcher: fetcher, logger: logger}
	c.targets = collectTargets(up.GetTopLevelTargets())
	fetcher.Bind(context.Background())
	logger.Debug("metadata verified", "targets", len(c.targets))
	return c, nil
}

func readPinnedRoot(cfg *trustconfig.TrustConfig) ([]byte, error) {
	data, err := os.ReadFile(cfg.RootPath)
	if err != nil {
		return nil, &model.TrustError{Kind: model.TrustRoot, Err: fmt.Errorf("read pinned root: %w", err)}
	}
	if cfg.RootKey == "" {
		return data, nil
	}
	if err := verify.VerifyMinisignFile(data, cfg.RootSignaturePath(), cfg.RootKey); err != nil {
		return nil, &model.TrustError{Kind: model.TrustRoot, Err: fmt.Errorf("attest pinned root: %w", err)}
	}
	return data, nil
}

func collectTargets(files map[string]*metadata.TargetFiles) []model.Target {
	out := make([]model.Target, 0, len(files))
	for name, tf := range files {
		hashes := make(map[string]string, len(tf.Hashes))
		for algo, digest := range tf.Hashes {
			hashes[algo] = hex.EncodeToString(digest)
		}
		out = append(out, model.Target{Name: name, Length: tf.Length, Hashes: hashes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Targets lists every target in verified top-level targets metadata.
func (c *Client) Targets() []model.Target {
	out := make([]model.Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// DownloadTarget fetches name from the targets endpoint. go-tuf checks the
// committed length and hashes before writing to dest.
func (c *Client) DownloadTarget(ctx context.Context, name, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ti, err := c.up.GetTargetInfo(name)
	if err != nil {
		return &model.TrustError{Kind: model.TrustMalformed, Err: fmt.Errorf("target %s: %w", name, err)}
	}

	c.fetcher.Bind(ctx)
	defer c.fetcher.Bind(context.Background())

	c.logger.Debug("downloading target", "target", name, "size", ti.Length)
	if _, _, err := c.up.DownloadTarget(ti, dest, ""); err != nil {
		return classify(ctx, "download "+name, err)
	}
	return nil
}

// VerifyCached reports whether path holds the exact committed bytes of name.
func (c *Client) VerifyCached(name, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ti, err := c.up.GetTargetInfo(name)
	if err != nil {
		return false
	}
	found, _, err := c.up.FindCachedTarget(ti, path)
	return err == nil && found != ""
}

// classify maps go-tuf and transport errors onto TrustError kinds.
func classify(ctx context.Context, op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	var (
		badVersion   *metadata.ErrBadVersionNumber
		expired      *metadata.ErrExpiredMetadata
		unsigned     *metadata.ErrUnsignedMetadata
		hashMismatch *metadata.ErrLengthOrHashMismatch
		httpErr      *metadata.ErrDownloadHTTP
		lenErr       *metadata.ErrDownloadLengthMismatch
		dlErr        *metadata.ErrDownload
	)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return &model.TrustError{Kind: model.TrustNetwork, Err: wrapped}
	case errors.As(err, &badVersion):
		return &model.TrustError{Kind: model.TrustRollback, Err: wrapped}
	case errors.As(err, &expired):
		return &model.TrustError{Kind: model.TrustExpired, Err: wrapped}
	case errors.As(err, &unsigned):
		return &model.TrustError{Kind: model.TrustSignature, Err: wrapped}
	case errors.As(err, &hashMismatch):
		return &model.TrustError{Kind: model.TrustSignature, Err: fmt.Errorf("%s: %w: %v", op, model.ErrLengthOrHashMismatch, err)}
	case errors.As(err, &lenErr):
		return &model.TrustError{Kind: model.TrustSignature, Err: fmt.Errorf("%s: %w: %v", op, model.ErrLengthOrHashMismatch, err)}
	case errors.As(err, &httpErr), errors.As(err, &dlErr):
		return &model.TrustError{Kind: model.TrustNetwork, Err: wrapped}
	case isTransport(err):
		return &model.TrustError{Kind: model.TrustNetwork, Err: wrapped}
	default:
		return &model.TrustError{Kind: model.TrustMalformed, Err: wrapped}
	}
}
