// Package fetch materializes verified release bundles in the targets cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/trustconfig"
	"github.com/3leaps/tufup/internal/tuf"
	"github.com/3leaps/tufup/internal/verify"
)

// Fetcher downloads targets into the cache. Concurrent requests for the same
// target share one download, which is cancelled only once every caller
// waiting on it has given up.
type Fetcher struct {
	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
	logger  *log.Logger
}

// flight is the context of one shared download and the number of callers
// still waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New returns a Fetcher logging under the "fetch" prefix. A nil logger discards.
func New(logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Fetcher{flights: map[string]*flight{}, logger: logger.WithPrefix("fetch")}
}

var shared = New(nil)

// SaveTargetToCache is Fetcher.SaveTargetToCache on a process-wide Fetcher.
func SaveTargetToCache(ctx context.Context, repo tuf.Repository, cfg *trustconfig.TrustConfig, desc *model.ReleaseDescriptor) (string, error) {
	return shared.SaveTargetToCache(ctx, repo, cfg, desc)
}

// SaveTargetToCache returns the cache path holding the verified bytes of
// desc. An existing file that still matches its commitments is reused
// without network access. Downloads go to a temp file beside the final path
// and are renamed into place only after an independent length and digest
// check; on any failure the temp file is removed.
func (f *Fetcher) SaveTargetToCache(ctx context.Context, repo tuf.Repository, cfg *trustconfig.TrustConfig, desc *model.ReleaseDescriptor) (string, error) {
	if desc == nil {
		return "", &model.IOError{Op: "save target", Err: fmt.Errorf("no release descriptor")}
	}
	finalPath, err := cachePath(cfg.TargetsCacheDir, desc.TargetName)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", &model.IOError{Op: "download", Path: desc.TargetName, Err: err}
	}

	fl := f.join(ctx, finalPath)
	defer f.leave(finalPath, fl)

	ch := f.group.DoChan(finalPath, func() (any, error) {
		return f.save(fl.ctx, repo, desc, finalPath)
	})
	select {
	case r := <-ch:
		if r.Shared {
			f.logger.Debug("shared download", "target", desc.TargetName)
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", &model.IOError{Op: "download", Path: desc.TargetName, Err: ctx.Err()}
	}
}

// join registers a caller for the download of key. The first caller creates
// a context detached from its own cancellation; leave cancels it when the
// last waiter goes away.
func (f *Fetcher) join(ctx context.Context, key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flights[key]
	if !ok {
		c, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: c, cancel: cancel}
		f.flights[key] = fl
	}
	fl.waiters++
	return fl
}

func (f *Fetcher) leave(key string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	delete(f.flights, key)
	// A later caller must start a fresh download instead of joining this
	// cancelled one.
	f.group.Forget(key)
}

func (f *Fetcher) save(ctx context.Context, repo tuf.Repository, desc *model.ReleaseDescriptor, finalPath string) (string, error) {
	if _, err := os.Stat(finalPath); err == nil && repo.VerifyCached(desc.TargetName, finalPath) {
		f.logger.Debug("cache hit", "target", desc.TargetName, "path", finalPath)
		return finalPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", &model.IOError{Op: "create cache dir", Path: filepath.Dir(finalPath), Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), "."+filepath.Base(finalPath)+".*.part")
	if err != nil {
		return "", &model.IOError{Op: "create temp file", Path: finalPath, Err: err}
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	f.logger.Info("downloading", "target", desc.TargetName, "size", verify.FormatSize(desc.Length))
	if err := repo.DownloadTarget(ctx, desc.TargetName, tmpPath); err != nil {
		return "", &model.IOError{Op: "download", Path: desc.TargetName, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &model.IOError{Op: "download", Path: desc.TargetName, Err: err}
	}
	if err := verify.VerifyFile(tmpPath, desc.Length, desc.Hashes); err != nil {
		return "", &model.IOError{Op: "verify", Path: desc.TargetName, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", &model.IOError{Op: "rename", Path: finalPath, Err: err}
	}
	committed = true

	f.logger.Info("cached", "target", desc.TargetName, "path", finalPath)
	return finalPath, nil
}

// cachePath joins name under dir and refuses names that would land outside it.
func cachePath(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "\\") {
		return "", &model.IOError{Op: "resolve cache path", Path: name, Err: fmt.Errorf("invalid target name")}
	}
	root := filepath.Clean(dir)
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &model.IOError{Op: "resolve cache path", Path: name, Err: fmt.Errorf("target escapes cache dir")}
	}
	return p, nil
}
