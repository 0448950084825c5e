package update

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

type Decision string

const (
	DecisionProceed    Decision = "proceed"    // Newer release available
	DecisionSkip       Decision = "skip"       // Already at or ahead of latest
	DecisionDevInstall Decision = "devinstall" // Running a dev build; any release is an update
)

// Available reports whether the decision means an update should be offered.
func (d Decision) Available() bool {
	return d == DecisionProceed || d == DecisionDevInstall
}

// FormatVersionDisplay formats a version string for display, adding "v" prefix if needed.
func FormatVersionDisplay(v string) string {
	if v == "" || v == "dev" || v == "0.0.0-dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// NormalizeVersion strips the leading "v" prefix and validates that the
// version is a full MAJOR.MINOR.PATCH semver, optionally with prerelease and
// build metadata. "dev", empty strings and shorthand forms such as "1.2"
// return ("", false).
func NormalizeVersion(v string) (string, bool) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" || trimmed == "dev" || trimmed == "0.0.0-dev" {
		return "", false
	}

	normalized := strings.TrimPrefix(trimmed, "v")
	if !semver.IsValid("v" + normalized) {
		return "", false
	}
	core := normalized
	if idx := strings.IndexAny(core, "-+"); idx >= 0 {
		core = core[:idx]
	}
	if strings.Count(core, ".") != 2 {
		return "", false
	}
	return normalized, true
}

// IsDevVersion reports whether v marks an unreleased build: "dev",
// "0.0.0-dev" or empty.
func IsDevVersion(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "dev", "0.0.0-dev":
		return true
	}
	return false
}

// ParseVersion is NormalizeVersion with an error for callers that need one.
func ParseVersion(v string) (string, error) {
	normalized, ok := NormalizeVersion(v)
	if !ok {
		return "", fmt.Errorf("invalid semver %q", v)
	}
	return normalized, nil
}

// CompareSemver compares two semver strings (with or without "v").
// Returns -1 if a < b, 0 if a == b, 1 if a > b. Build metadata is ignored.
func CompareSemver(a, b string) (int, error) {
	an, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	bn, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return semver.Compare("v"+an, "v"+bn), nil
}

// Decide determines whether latest is an update over current.
//
// current: installed version (e.g. "1.0.0", "0.0.0" on first run, or "dev")
// latest:  newest release published for this platform
//
// Returns a Decision and a human message.
func Decide(current, latest string) (Decision, string) {
	latestNorm, latestOK := NormalizeVersion(latest)
	if !latestOK {
		return DecisionSkip, fmt.Sprintf("Latest release version %q is not valid semver; ignoring it.", latest)
	}

	if IsDevVersion(current) {
		return DecisionDevInstall, fmt.Sprintf("Release %s available (replacing dev build)", FormatVersionDisplay(latestNorm))
	}
	currentNorm, currentOK := NormalizeVersion(current)
	if !currentOK {
		return DecisionSkip, fmt.Sprintf("Current version %q is not valid semver; not comparing against %s.", current, FormatVersionDisplay(latestNorm))
	}

	switch semver.Compare("v"+currentNorm, "v"+latestNorm) {
	case 0:
		return DecisionSkip, fmt.Sprintf("Already at latest version (%s).", FormatVersionDisplay(latestNorm))
	case 1:
		return DecisionSkip, fmt.Sprintf("Already at version %s (latest %s is older).",
			FormatVersionDisplay(currentNorm), FormatVersionDisplay(latestNorm))
	default:
		return DecisionProceed, fmt.Sprintf("Update available: %s → %s", FormatVersionDisplay(currentNorm), FormatVersionDisplay(latestNorm))
	}
}

// DescribeDecision returns a human-readable status.
func DescribeDecision(d Decision) string {
	switch d {
	case DecisionSkip:
		return "Already at latest version (no update needed)"
	case DecisionProceed:
		return "Update available"
	case DecisionDevInstall:
		return "Release available (replacing dev build)"
	default:
		return string(d)
	}
}
