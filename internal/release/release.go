// Package release maps verified targets onto the newest release for a platform.
//
// Target names follow "<product>/<platform-id>/app-<version>.zip", for example
// "filesup/desktop-windows-x86_64/app-0.2.3.zip".
package release

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"

	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/pkg/update"
)

const (
	bundlePrefix = "app-"
	bundleSuffix = ".zip"
)

// Lister exposes the targets of verified metadata.
type Lister interface {
	Targets() []model.Target
}

// Option configures FindLatestForPlatform.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger reports skipped target names.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// TargetName builds the repository path of a bundle.
func TargetName(product, platformID, version string) string {
	return product + "/" + platformID + "/" + bundlePrefix + version + bundleSuffix
}

// FindLatestForPlatform returns the highest-precedence release published for
// platformID, or (nil, nil) when the platform has no releases. Names whose
// version is not valid semver are skipped. Two targets with the same
// precedence make the metadata ambiguous and fail with TrustError{malformed}.
func FindLatestForPlatform(repo Lister, product, platformID string, opts ...Option) (*model.ReleaseDescriptor, error) {
	o := options{logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(&o)
	}

	prefix := product + "/" + platformID + "/" + bundlePrefix
	var (
		best     *model.ReleaseDescriptor
		tiedWith string
	)
	for _, t := range repo.Targets() {
		if !strings.HasPrefix(t.Name, prefix) || !strings.HasSuffix(t.Name, bundleSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(t.Name, prefix), bundleSuffix)
		if raw == "" || strings.Contains(raw, "/") {
			continue
		}
		version, err := update.ParseVersion(raw)
		if err != nil {
			o.logger.Warn("skipping target with invalid version", "target", t.Name, "err", err)
			continue
		}

		if best != nil {
			switch semver.Compare("v"+version, "v"+best.Version) {
			case -1:
				continue
			case 0:
				tiedWith = t.Name
				continue
			}
		}
		best = &model.ReleaseDescriptor{
			Version:    version,
			TargetName: t.Name,
			Length:     t.Length,
			Hashes:     copyHashes(t.Hashes),
		}
		tiedWith = ""
	}

	if tiedWith != "" {
		return nil, &model.TrustError{
			Kind: model.TrustMalformed,
			Err:  fmt.Errorf("targets %s and %s have equal version precedence", best.TargetName, tiedWith),
		}
	}

	if best != nil {
		o.logger.Debug("latest release", "platform", platformID, "version", best.Version, "target", best.TargetName)
	}
	return best, nil
}

func copyHashes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
