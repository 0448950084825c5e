package tuf

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/3leaps/tufup/internal/appdirs"
	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/settings"
	"github.com/3leaps/tufup/internal/testutil/minisigntest"
	"github.com/3leaps/tufup/internal/testutil/tufrepo"
	"github.com/3leaps/tufup/internal/trustconfig"
)

const bundleName = "filesup/desktop-linux-x86_64/app-1.1.0.zip"

func setup(t *testing.T, repo *tufrepo.Repo, rootKey string) *trustconfig.TrustConfig {
	t.Helper()
	sess := &appdirs.Session{ConfigDir: t.TempDir()}
	st := settings.Settings{Product: "filesup", RootKey: rootKey}
	cfg, err := trustconfig.WithCustomURLs(sess, st, repo.MetadataURL(), repo.TargetsURL())
	if err != nil {
		t.Fatalf("trust config: %v", err)
	}
	if err := os.WriteFile(cfg.RootPath, repo.RootBytes(), 0o644); err != nil {
		t.Fatalf("pin root: %v", err)
	}
	return cfg
}

func TestLoadListsTargets(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	repo.AddTarget(bundleName, []byte("bundle"))
	cfg := setup(t, repo, "")

	c, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	targets := c.Targets()
	if len(targets) != 1 || targets[0].Name != bundleName {
		t.Fatalf("targets: %+v", targets)
	}
	if targets[0].Length != int64(len("bundle")) {
		t.Fatalf("length: got %d", targets[0].Length)
	}
	if len(targets[0].Hashes["sha256"]) != 64 {
		t.Fatalf("sha256 hash: %q", targets[0].Hashes["sha256"])
	}
	if _, err := os.Stat(filepath.Join(cfg.MetadataCacheDir, "timestamp.json")); err != nil {
		t.Fatalf("timestamp should be cached: %v", err)
	}
}

func TestLoadFollowsRootRotation(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	cfg := setup(t, repo, "")
	repo.RotateRoot()
	repo.AddTarget(bundleName, []byte("bundle"))

	if _, err := Load(context.Background(), cfg); err != nil {
		t.Fatalf("Load after rotation: %v", err)
	}
	if repo.Hits("/metadata/2.root.json") == 0 {
		t.Fatal("expected root version 2 to be fetched")
	}
}

func TestLoadDetectsRollback(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	repo.AddTarget(bundleName, []byte("bundle"))
	repo.AddTarget("filesup/desktop-linux-x86_64/app-1.2.0.zip", []byte("newer"))
	cfg := setup(t, repo, "")

	if _, err := Load(context.Background(), cfg); err != nil {
		t.Fatalf("first Load: %v", err)
	}

	repo.SetTimestamp(repo.TimestampVersion()-1, time.Now().Add(time.Hour))
	_, err := Load(context.Background(), cfg)
	if !model.IsTrustFailure(err, model.TrustRollback) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestLoadDetectsExpiry(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	repo.SetTimestamp(repo.TimestampVersion()+1, time.Now().Add(-time.Hour))
	cfg := setup(t, repo, "")

	_, err := Load(context.Background(), cfg)
	if !model.IsTrustFailure(err, model.TrustExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestLoadRejectsUntrustedSignature(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	repo.SignTimestampWithUntrustedKey()
	cfg := setup(t, repo, "")

	_, err := Load(context.Background(), cfg)
	if !model.IsTrustFailure(err, model.TrustSignature) {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestLoadMissingRoot(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	cfg := setup(t, repo, "")
	if err := os.Remove(cfg.RootPath); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	_, err := Load(context.Background(), cfg)
	if !model.IsTrustFailure(err, model.TrustRoot) {
		t.Fatalf("expected root failure, got %v", err)
	}
	if repo.Hits("/metadata/timestamp.json") != 0 {
		t.Fatal("no metadata may be fetched without a pinned root")
	}
}

func TestLoadNetworkFailure(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	cfg := setup(t, repo, "")
	repo.Server.Close()

	_, err := Load(context.Background(), cfg)
	if !model.IsTrustFailure(err, model.TrustNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	cfg := setup(t, repo, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, cfg)
	if !model.IsTrustFailure(err, model.TrustNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestLoadRootAttestation(t *testing.T) {
	t.Parallel()

	key := minisigntest.NewKey(t)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		repo := tufrepo.New(t)
		cfg := setup(t, repo, key.PublicKeyString())
		if err := os.WriteFile(cfg.RootSignaturePath(), []byte(key.Sign(repo.RootBytes())), 0o644); err != nil {
			t.Fatalf("write sig: %v", err)
		}
		if _, err := Load(context.Background(), cfg); err != nil {
			t.Fatalf("Load: %v", err)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		repo := tufrepo.New(t)
		cfg := setup(t, repo, key.PublicKeyString())
		_, err := Load(context.Background(), cfg)
		if !model.IsTrustFailure(err, model.TrustRoot) {
			t.Fatalf("expected root failure, got %v", err)
		}
	})

	t.Run("signature over other root", func(t *testing.T) {
		t.Parallel()
		repo := tufrepo.New(t)
		cfg := setup(t, repo, key.PublicKeyString())
		other := tufrepo.New(t)
		if err := os.WriteFile(cfg.RootSignaturePath(), []byte(key.Sign(other.RootBytes())), 0o644); err != nil {
			t.Fatalf("write sig: %v", err)
		}
		_, err := Load(context.Background(), cfg)
		if !model.IsTrustFailure(err, model.TrustRoot) {
			t.Fatalf("expected root failure, got %v", err)
		}
	})
}

func TestDownloadTarget(t *testing.T) {
	t.Parallel()

	payload := []byte("verified bundle bytes")
	repo := tufrepo.New(t)
	repo.AddTarget(bundleName, payload)
	cfg := setup(t, repo, "")

	c, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "bundle.zip")
	if err := c.DownloadTarget(context.Background(), bundleName, dest); err != nil {
		t.Fatalf("DownloadTarget: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("dest content: got %q", got)
	}
	if !c.VerifyCached(bundleName, dest) {
		t.Fatal("VerifyCached should accept the downloaded file")
	}

	if err := os.WriteFile(dest, []byte("changed on disk"), 0o644); err != nil {
		t.Fatalf("rewrite dest: %v", err)
	}
	if c.VerifyCached(bundleName, dest) {
		t.Fatal("VerifyCached must reject modified bytes")
	}
	if c.VerifyCached("unknown", dest) {
		t.Fatal("VerifyCached must reject unknown targets")
	}
}

func TestDownloadTargetTampered(t *testing.T) {
	t.Parallel()

	payload := []byte("verified bundle bytes")
	repo := tufrepo.New(t)
	repo.AddTarget(bundleName, payload)
	cfg := setup(t, repo, "")

	c, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0xff
	repo.TamperTarget(bundleName, tampered)

	dest := filepath.Join(t.TempDir(), "bundle.zip")
	err = c.DownloadTarget(context.Background(), bundleName, dest)
	if !model.IsTrustFailure(err, model.TrustSignature) {
		t.Fatalf("expected signature failure, got %v", err)
	}
	if !errors.Is(err, model.ErrLengthOrHashMismatch) {
		t.Fatalf("expected ErrLengthOrHashMismatch in chain, got %v", err)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("tampered bytes must not be written, stat err = %v", statErr)
	}
}

func TestDownloadTargetUnknown(t *testing.T) {
	t.Parallel()

	repo := tufrepo.New(t)
	cfg := setup(t, repo, "")
	c, err := Load(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = c.DownloadTarget(context.Background(), "filesup/none/app-1.0.0.zip", filepath.Join(t.TempDir(), "x"))
	var te *model.TrustError
	if !errors.As(err, &te) {
		t.Fatalf("expected TrustError, got %v", err)
	}
}
