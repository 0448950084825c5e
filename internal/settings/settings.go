// Package settings loads updater settings from embedded defaults, an optional
// TOML file and TUFUP_* environment variables, and validates the merged result
// against an embedded JSON Schema.
package settings

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"
)

const (
	envPrefix = "TUFUP"
	schemaURL = "https://schemas.3leaps.dev/tufup/settings.schema.json"
)

//go:embed defaults.json
var embeddedDefaultsJSON []byte

//go:embed settings.schema.json
var schemaJSON []byte

// Settings are the user-tunable knobs of the updater.
// Schema: internal/settings/settings.schema.json
type Settings struct {
	Product     string `json:"product" mapstructure:"product" toml:"product" yaml:"product"`
	MetadataURL string `json:"metadata_url" mapstructure:"metadata_url" toml:"metadata_url" yaml:"metadata_url"`
	TargetsURL  string `json:"targets_url" mapstructure:"targets_url" toml:"targets_url" yaml:"targets_url"`
	RootKey     string `json:"root_key" mapstructure:"root_key" toml:"root_key,omitempty" yaml:"root_key,omitempty"` // minisign public key attesting tuf/root.json
	LogLevel    string `json:"log_level" mapstructure:"log_level" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
}

var (
	defaultsOnce sync.Once
	defaults     Settings
	defaultsErr  error

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Defaults returns the embedded production defaults.
func Defaults() (Settings, error) {
	defaultsOnce.Do(func() {
		if len(embeddedDefaultsJSON) == 0 {
			defaultsErr = errors.New("embedded settings defaults are empty")
			return
		}
		var s Settings
		if err := json.Unmarshal(embeddedDefaultsJSON, &s); err != nil {
			defaultsErr = fmt.Errorf("parse embedded settings defaults: %w", err)
			return
		}
		if err := Validate(s); err != nil {
			defaultsErr = fmt.Errorf("embedded settings defaults: %w", err)
			return
		}
		defaults = s
	})
	return defaults, defaultsErr
}

// Load merges the embedded defaults, the TOML file at path (ignored when
// absent) and TUFUP_* environment variables, in that order of precedence.
func Load(path string) (Settings, error) {
	d, err := Defaults()
	if err != nil {
		return Settings{}, err
	}

	v := viper.New()
	v.SetDefault("product", d.Product)
	v.SetDefault("metadata_url", d.MetadataURL)
	v.SetDefault("targets_url", d.TargetsURL)
	v.SetDefault("root_key", d.RootKey)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("stat settings %s: %w", path, statErr)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.Product = strings.TrimSpace(s.Product)
	s.MetadataURL = strings.TrimSpace(s.MetadataURL)
	s.TargetsURL = strings.TrimSpace(s.TargetsURL)
	s.RootKey = strings.TrimSpace(s.RootKey)
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))

	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks s against the settings schema.
func Validate(s Settings) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// WriteFile writes s as TOML to path, creating parent directories.
func WriteFile(path string, s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	// #nosec G306 -- settings hold no secrets
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse settings schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add settings schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}
