package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func withHandler(t *testing.T, h func([]string, io.Writer, io.Writer) int) {
	t.Helper()
	prev := Handler
	Handler = h
	t.Cleanup(func() { Handler = prev })
}

func TestRunWithoutHandler(t *testing.T) {
	withHandler(t, nil)
	var stderr bytes.Buffer
	if code := Run(nil, io.Discard, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not configured") {
		t.Fatalf("stderr: %q", stderr.String())
	}
}

func TestRunPassesArgs(t *testing.T) {
	var got []string
	withHandler(t, func(args []string, stdout, stderr io.Writer) int {
		got = args
		return 3
	})
	if code := Run([]string{"check", "-o", "json"}, io.Discard, io.Discard); code != 3 {
		t.Fatalf("exit %d, want 3", code)
	}
	if strings.Join(got, " ") != "check -o json" {
		t.Fatalf("args: %v", got)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	withHandler(t, func([]string, io.Writer, io.Writer) int { panic("boom") })
	var stderr bytes.Buffer
	if code := Run(nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("exit %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "internal error: boom") {
		t.Fatalf("stderr: %q", stderr.String())
	}
}
