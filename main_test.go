package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3leaps/tufup/internal/cli"
	"github.com/3leaps/tufup/internal/model"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, errOut := runCLI(t, "version", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Version != version || !strings.HasPrefix(info.Platform, "desktop-") {
		t.Fatalf("version info: %+v", info)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	code, _, errOut := runCLI(t, "state", "--config-dir", t.TempDir(), "-o", "xml")
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(errOut, "unknown format: xml") {
		t.Fatalf("stderr: %q", errOut)
	}
}

func TestStateFirstRun(t *testing.T) {
	code, out, errOut := runCLI(t, "state", "--config-dir", t.TempDir(), "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var state model.VersionState
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if state.Current != "0.0.0" || state.HasPrevious() {
		t.Fatalf("state: %+v", state)
	}
}

func TestCheckWithoutPinnedRoot(t *testing.T) {
	code, out, errOut := runCLI(t, "check",
		"--config-dir", t.TempDir(),
		"--metadata-url", "http://127.0.0.1:1/metadata/",
		"--targets-url", "http://127.0.0.1:1/targets/",
	)
	if code != 1 {
		t.Fatalf("exit %d, want 1 (stdout %q)", code, out)
	}
	if !strings.Contains(errOut, "error: trust error (root)") {
		t.Fatalf("stderr: %q", errOut)
	}
}

func TestCheckRejectsInvalidCurrent(t *testing.T) {
	code, out, errOut := runCLI(t, "check", "--current", "2.0", "--config-dir", t.TempDir(), "-o", "json")
	if code != 1 {
		t.Fatalf("exit %d, want 1 (stdout %q)", code, out)
	}
	if !strings.Contains(errOut, "configuration error: parse current version 2.0") {
		t.Fatalf("stderr: %q", errOut)
	}
}

func TestSameEndpointsRejected(t *testing.T) {
	code, _, errOut := runCLI(t, "download",
		"--config-dir", t.TempDir(),
		"--metadata-url", "https://updates.example.com/",
		"--targets-url", "https://updates.example.com/",
	)
	if code != 1 || !strings.Contains(errOut, "configuration error") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "config", "init", "--config-dir", dir)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	path := filepath.Join(dir, "tufup.toml")
	if strings.TrimSpace(out) != path {
		t.Fatalf("stdout: %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if !strings.Contains(string(data), "metadata_url") {
		t.Fatalf("settings file: %s", data)
	}

	if code, _, errOut := runCLI(t, "config", "init", "--config-dir", dir); code != 1 || !strings.Contains(errOut, "--force") {
		t.Fatalf("second init: exit %d, stderr %q", code, errOut)
	}
	if code, _, errOut := runCLI(t, "config", "init", "--config-dir", dir, "--force"); code != 0 {
		t.Fatalf("forced init: exit %d, %s", code, errOut)
	}
}

func TestConfigShowReadsSettingsFile(t *testing.T) {
	dir := t.TempDir()
	doc := "product = \"filesup-beta\"\nmetadata_url = \"https://beta.example.com/metadata/\"\ntargets_url = \"https://beta.example.com/targets/\"\n"
	if err := os.WriteFile(filepath.Join(dir, "tufup.toml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	code, out, errOut := runCLI(t, "config", "show", "--config-dir", dir, "-o", "yaml")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "product: filesup-beta") {
		t.Fatalf("stdout: %q", out)
	}
}

func TestApplyRejectsEscapingBundle(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(bundle)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../escaped")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_, _ = w.Write([]byte("x"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	_ = f.Close()

	code, _, errOut := runCLI(t, "apply", bundle, "1.1.0", "--config-dir", dir)
	if code != 1 || !strings.Contains(errOut, "security error") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, "versions", "1.1.0")); !os.IsNotExist(err) {
		t.Fatalf("version dir should not exist: %v", err)
	}
}
