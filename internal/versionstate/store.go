// Package versionstate persists which installed version is current and which
// was current before it.
//
// Layout under the versions root:
//
//	version_state.json    {"current": "1.1.0", "previous": "1.0.0"}
//	.apply_journal.json   present only between promote and commit
//	<version>/            one directory per installed version
//	.<version>_tmp/       staging dir, present only until promotion
package versionstate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/3leaps/tufup/internal/appdirs"
	"github.com/3leaps/tufup/internal/model"
)

const (
	stateFile   = "version_state.json"
	journalFile = ".apply_journal.json"
	schemaURL   = "https://schemas.3leaps.dev/tufup/version-state.schema.json"
)

//go:embed version-state.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Store reads and writes the state document under one versions root.
type Store struct {
	root string
}

// New returns a Store rooted at versionsRoot.
func New(versionsRoot string) *Store {
	return &Store{root: versionsRoot}
}

// Open returns the Store for the session's versions root.
func Open(sess *appdirs.Session) *Store {
	return New(sess.VersionsRoot())
}

// Root is the versions root directory.
func (s *Store) Root() string { return s.root }

// Path is the location of the state document.
func (s *Store) Path() string { return filepath.Join(s.root, stateFile) }

// VersionDir is the install directory of version.
func (s *Store) VersionDir(version string) string { return filepath.Join(s.root, version) }

// StagingDir is where version is extracted before promotion. It is a sibling
// of VersionDir so promotion is a same-volume rename.
func (s *Store) StagingDir(version string) string {
	return filepath.Join(s.root, "."+version+"_tmp")
}

// Load returns the persisted state, or {current: "0.0.0"} when none exists.
func (s *Store) Load() (model.VersionState, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return model.VersionState{Current: model.FirstRunVersion}, nil
	}
	if err != nil {
		return model.VersionState{}, &model.IOError{Op: "read version state", Path: s.Path(), Err: err}
	}
	if err := validate(data); err != nil {
		return model.VersionState{}, &model.IOError{Op: "parse version state", Path: s.Path(), Err: err}
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.VersionState{}, &model.IOError{Op: "parse version state", Path: s.Path(), Err: err}
	}
	state := model.VersionState{Current: doc.Current}
	if doc.Previous != nil {
		state.Previous = *doc.Previous
	}
	return state, nil
}

// Save encodes and validates state before anything is written, then replaces
// the document atomically.
func (s *Store) Save(state model.VersionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &model.IOError{Op: "encode version state", Err: err}
	}
	if err := validate(data); err != nil {
		return &model.IOError{Op: "encode version state", Err: err}
	}
	if err := writeFileAtomic(s.Path(), append(data, '\n')); err != nil {
		return &model.IOError{Op: "write version state", Path: s.Path(), Err: err}
	}
	return nil
}

// stateDoc accepts "previous": null on read.
type stateDoc struct {
	Current  string  `json:"current"`
	Previous *string `json:"previous"`
}

func validate(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid version state: %w", err)
	}
	return nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse version state schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add version state schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// writeFileAtomic writes data to a temp file in path's directory, syncs it,
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Advance makes version current and shifts the old current into previous.
func (s *Store) Advance(version string) (model.VersionState, error) {
	state, err := s.Load()
	if err != nil {
		return model.VersionState{}, err
	}
	next := model.VersionState{Current: version, Previous: state.Current}
	if err := s.Save(next); err != nil {
		return state, err
	}
	return next, nil
}
