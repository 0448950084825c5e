// Package appdirs resolves the per-application configuration directory and
// carries it through the updater as an explicit Session value.
package appdirs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/3leaps/tufup/internal/model"
)

// AppName is the directory name used under the platform configuration root.
const AppName = "FilesUP"

// Session holds the resolved locations for one application session.
// Components receive it (or paths derived from it) instead of looking up
// platform directories themselves.
type Session struct {
	ConfigDir string
}

// New resolves the platform configuration directory for app. A non-empty
// override is used verbatim, which is how tests and dev builds relocate state.
func New(app, override string) (*Session, error) {
	if strings.TrimSpace(override) != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, &model.ConfigError{Op: "resolve config dir", Path: override, Err: err}
		}
		return &Session{ConfigDir: abs}, nil
	}
	dir, err := ConfigDir(app)
	if err != nil {
		return nil, &model.ConfigError{Op: "resolve config dir", Err: err}
	}
	return &Session{ConfigDir: dir}, nil
}

// ConfigDir returns the platform-standard configuration directory for app:
// %APPDATA% on Windows, ~/Library/Application Support on macOS and
// $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func ConfigDir(app string) (string, error) {
	var base string

	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			profile := os.Getenv("USERPROFILE")
			if profile == "" {
				return "", fmt.Errorf("neither APPDATA nor USERPROFILE is set")
			}
			base = filepath.Join(profile, "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, app), nil
}

// TUFDir is the root of the local trust material and caches.
func (s *Session) TUFDir() string { return filepath.Join(s.ConfigDir, "tuf") }

// VersionsRoot holds one directory per installed version.
func (s *Session) VersionsRoot() string { return filepath.Join(s.ConfigDir, "versions") }

// SettingsFile is the optional user settings file.
func (s *Session) SettingsFile() string { return filepath.Join(s.ConfigDir, "tufup.toml") }
