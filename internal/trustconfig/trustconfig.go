// Package trustconfig resolves where trusted root material, remote metadata,
// remote targets and local caches live for the current installation.
//
// Layout under the session's config dir:
//
//	tuf/
//	  root.json          pinned root of trust, read-only to the updater
//	  root.json.minisig  optional minisign attestation of root.json
//	  metadata-cache/    verified timestamp, snapshot and targets documents
//	  targets-cache/     downloaded, verified bundles
package trustconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/tufup/internal/appdirs"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/settings"
)

// TrustConfig is immutable once built; every directory it names exists.
type TrustConfig struct {
	MetadataURL      *url.URL
	TargetsURL       *url.URL
	RootPath         string
	MetadataCacheDir string
	TargetsCacheDir  string
	RootKey          string // minisign public key; empty disables attestation
}

// Default builds the configuration from the session and the loaded settings.
func Default(sess *appdirs.Session, st settings.Settings) (*TrustConfig, error) {
	return build(sess, st, st.MetadataURL, st.TargetsURL)
}

// WithCustomURLs relocates the remote endpoints (test and dev builds) while
// keeping the same pinned root, caches and attestation key.
func WithCustomURLs(sess *appdirs.Session, st settings.Settings, metadataURL, targetsURL string) (*TrustConfig, error) {
	return build(sess, st, metadataURL, targetsURL)
}

func build(sess *appdirs.Session, st settings.Settings, metadataURL, targetsURL string) (*TrustConfig, error) {
	if sess == nil || sess.ConfigDir == "" {
		return nil, &model.ConfigError{Op: "resolve trust config", Err: fmt.Errorf("session has no config dir")}
	}

	metaURL, err := parseBaseURL(metadataURL)
	if err != nil {
		return nil, &model.ConfigError{Op: "parse metadata URL", Path: metadataURL, Err: err}
	}
	tgtURL, err := parseBaseURL(targetsURL)
	if err != nil {
		return nil, &model.ConfigError{Op: "parse targets URL", Path: targetsURL, Err: err}
	}
	if metaURL.String() == tgtURL.String() {
		return nil, &model.ConfigError{Op: "resolve trust config", Err: fmt.Errorf("metadata and targets must be separate endpoints (both %s)", metaURL)}
	}

	tufDir := sess.TUFDir()
	cfg := &TrustConfig{
		MetadataURL:      metaURL,
		TargetsURL:       tgtURL,
		RootPath:         filepath.Join(tufDir, "root.json"),
		MetadataCacheDir: filepath.Join(tufDir, "metadata-cache"),
		TargetsCacheDir:  filepath.Join(tufDir, "targets-cache"),
		RootKey:          st.RootKey,
	}
	if err := cfg.ensureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RootSignaturePath is where the minisign attestation of the pinned root lives.
func (c *TrustConfig) RootSignaturePath() string {
	return c.RootPath + ".minisig"
}

func (c *TrustConfig) ensureDirs() error {
	for _, dir := range []string{filepath.Dir(c.RootPath), c.MetadataCacheDir, c.TargetsCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &model.ConfigError{Op: "create dir", Path: dir, Err: err}
		}
	}
	return nil
}

// parseBaseURL requires an absolute http(s) URL and normalizes a trailing slash
// so relative document names resolve beneath it.
func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty URL")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q (want http or https)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
