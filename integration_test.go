package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/release"
	"github.com/3leaps/tufup/internal/testutil/tufrepo"
)

func TestIntegrationCheckDownloadApply(t *testing.T) {
	var payload bytes.Buffer
	zw := zip.NewWriter(&payload)
	for name, body := range map[string]string{"bin/filesup": "#!/bin/sh\n", "share/about.txt": "1.1.0"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	platform := release.DefaultPlatformID()
	repo := tufrepo.New(t)
	repo.AddTarget(release.TargetName("filesup", platform, "1.0.0"), []byte("older"))
	repo.AddTarget(release.TargetName("filesup", platform, "1.1.0"), payload.Bytes())

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "tuf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tuf", "root.json"), repo.RootBytes(), 0o644); err != nil {
		t.Fatalf("pin root: %v", err)
	}
	common := []string{"--config-dir", dir, "--metadata-url", repo.MetadataURL(), "--targets-url", repo.TargetsURL(), "-o", "json"}

	code, out, errOut := runCLI(t, append([]string{"check", "--current", "1.0.0"}, common...)...)
	if code != 0 {
		t.Fatalf("check: exit %d: %s", code, errOut)
	}
	var check model.CheckResult
	if err := json.Unmarshal([]byte(out), &check); err != nil {
		t.Fatalf("decode check %q: %v", out, err)
	}
	if !check.UpdateAvailable || check.LatestVersion == nil || *check.LatestVersion != "1.1.0" {
		t.Fatalf("check: %+v", check)
	}

	code, out, errOut = runCLI(t, append([]string{"download"}, common...)...)
	if code != 0 {
		t.Fatalf("download: exit %d: %s", code, errOut)
	}
	var dl model.DownloadResult
	if err := json.Unmarshal([]byte(out), &dl); err != nil {
		t.Fatalf("decode download %q: %v", out, err)
	}
	if dl.Version != "1.1.0" {
		t.Fatalf("download: %+v", dl)
	}

	code, out, errOut = runCLI(t, append([]string{"apply", dl.BundlePath, dl.Version}, common...)...)
	if code != 0 {
		t.Fatalf("apply: exit %d: %s", code, errOut)
	}
	var applied model.ApplyResult
	if err := json.Unmarshal([]byte(out), &applied); err != nil {
		t.Fatalf("decode apply %q: %v", out, err)
	}
	if applied != (model.ApplyResult{FromVersion: "0.0.0", ToVersion: "1.1.0"}) {
		t.Fatalf("apply: %+v", applied)
	}
	about, err := os.ReadFile(filepath.Join(dir, "versions", "1.1.0", "share", "about.txt"))
	if err != nil || string(about) != "1.1.0" {
		t.Fatalf("installed file: %q, %v", about, err)
	}

	code, out, errOut = runCLI(t, append([]string{"check"}, common...)...)
	if code != 0 {
		t.Fatalf("second check: exit %d: %s", code, errOut)
	}
	check = model.CheckResult{}
	if err := json.Unmarshal([]byte(out), &check); err != nil {
		t.Fatalf("decode check %q: %v", out, err)
	}
	if check.CurrentVersion != "1.1.0" || check.UpdateAvailable {
		t.Fatalf("second check: %+v", check)
	}

	code, out, errOut = runCLI(t, append([]string{"state"}, common...)...)
	if code != 0 {
		t.Fatalf("state: exit %d: %s", code, errOut)
	}
	var state model.VersionState
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("decode state %q: %v", out, err)
	}
	if state != (model.VersionState{Current: "1.1.0", Previous: "0.0.0"}) {
		t.Fatalf("state: %+v", state)
	}
}
