package model

// Target is a distributable artifact as committed by verified targets metadata.
type Target struct {
	Name   string
	Length int64
	Hashes map[string]string // algorithm -> lowercase hex digest
}

// ReleaseDescriptor is the newest eligible release for one platform.
// It is rebuilt on every check and never persisted.
type ReleaseDescriptor struct {
	Version    string // canonical semver without the "v" prefix
	TargetName string // "<product>/<platform-id>/app-<version>.zip"
	Length     int64
	Hashes     map[string]string
}

// FirstRunVersion is reported as current when no state document exists yet.
const FirstRunVersion = "0.0.0"

// VersionState is the durable current/previous record used for rollback bookkeeping.
// Schema: internal/versionstate/version-state.schema.json
type VersionState struct {
	Current  string `json:"current" yaml:"current"`
	Previous string `json:"previous,omitempty" yaml:"previous,omitempty"` // empty on first run
}

// HasPrevious reports whether a previous version was recorded.
func (s VersionState) HasPrevious() bool { return s.Previous != "" }

// CheckResult is returned by the check operation.
type CheckResult struct {
	CurrentVersion  string  `json:"current_version" yaml:"current_version"`
	LatestVersion   *string `json:"latest_version" yaml:"latest_version"`
	UpdateAvailable bool    `json:"update_available" yaml:"update_available"`
}

// DownloadResult is returned by the download operation.
type DownloadResult struct {
	Version    string `json:"version" yaml:"version"`
	BundlePath string `json:"bundle_path" yaml:"bundle_path"`
}

// ApplyResult is returned by the apply operation.
type ApplyResult struct {
	FromVersion string `json:"from_version" yaml:"from_version"`
	ToVersion   string `json:"to_version" yaml:"to_version"`
}

// ApplyJournal records a promotion whose bookkeeping has not been committed yet.
type ApplyJournal struct {
	From string `json:"from"`
	To   string `json:"to"`
}
