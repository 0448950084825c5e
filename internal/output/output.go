// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/tufup/internal/model"
	"github.com/3leaps/tufup/internal/settings"
	"github.com/3leaps/tufup/pkg/update"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Format reports the configured format.
func (w *Writer) Format() Format { return w.format }

// Write outputs v in the configured format.
func (w *Writer) Write(v any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w.w, Text(v))
		return err
	}
}

// Text is the human-readable rendering used by FormatText.
func Text(v any) string {
	switch r := v.(type) {
	case model.CheckResult:
		if r.LatestVersion == nil {
			return fmt.Sprintf("current %s; no release published for this platform", update.FormatVersionDisplay(r.CurrentVersion))
		}
		if r.UpdateAvailable {
			return fmt.Sprintf("update available: %s -> %s", update.FormatVersionDisplay(r.CurrentVersion), update.FormatVersionDisplay(*r.LatestVersion))
		}
		return fmt.Sprintf("up to date: current %s, latest %s", update.FormatVersionDisplay(r.CurrentVersion), update.FormatVersionDisplay(*r.LatestVersion))
	case model.DownloadResult:
		return fmt.Sprintf("downloaded %s to %s", update.FormatVersionDisplay(r.Version), r.BundlePath)
	case model.ApplyResult:
		return fmt.Sprintf("installed %s (previous %s)", update.FormatVersionDisplay(r.ToVersion), update.FormatVersionDisplay(r.FromVersion))
	case model.VersionState:
		if !r.HasPrevious() {
			return fmt.Sprintf("current: %s", r.Current)
		}
		return fmt.Sprintf("current: %s\nprevious: %s", r.Current, r.Previous)
	case settings.Settings:
		return fmt.Sprintf("product = %s\nmetadata_url = %s\ntargets_url = %s\nroot_key = %s\nlog_level = %s",
			r.Product, r.MetadataURL, r.TargetsURL, r.RootKey, r.LogLevel)
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
