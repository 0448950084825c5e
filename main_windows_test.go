//go:build windows

package main

import (
	"strings"
	"testing"
)

func TestVersionReportsWindowsPlatform(t *testing.T) {
	code, out, errOut := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "desktop-windows-") {
		t.Fatalf("stdout: %q", out)
	}
}
