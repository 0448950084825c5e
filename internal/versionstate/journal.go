package versionstate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/3leaps/tufup/internal/model"
)

// JournalPath is where an in-progress promotion is recorded.
func (s *Store) JournalPath() string { return filepath.Join(s.root, journalFile) }

// BeginApply records that versions/<to> is about to replace current from.
func (s *Store) BeginApply(from, to string) error {
	data, err := json.Marshal(model.ApplyJournal{From: from, To: to})
	if err != nil {
		return &model.IOError{Op: "encode apply journal", Err: err}
	}
	if err := writeFileAtomic(s.JournalPath(), data); err != nil {
		return &model.IOError{Op: "write apply journal", Path: s.JournalPath(), Err: err}
	}
	return nil
}

// EndApply clears the journal. Missing journals are fine.
func (s *Store) EndApply() error {
	if err := os.Remove(s.JournalPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.IOError{Op: "clear apply journal", Path: s.JournalPath(), Err: err}
	}
	return nil
}

// PendingApply returns the recorded promotion, or nil when none is pending.
func (s *Store) PendingApply() (*model.ApplyJournal, error) {
	data, err := os.ReadFile(s.JournalPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.IOError{Op: "read apply journal", Path: s.JournalPath(), Err: err}
	}
	var j model.ApplyJournal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, &model.IOError{Op: "parse apply journal", Path: s.JournalPath(), Err: err}
	}
	if j.To == "" {
		return nil, &model.IOError{Op: "parse apply journal", Path: s.JournalPath(), Err: errors.New("missing target version")}
	}
	return &j, nil
}

// Reconcile finishes bookkeeping for a promotion that reached the filesystem
// but not the state document. Journals whose promotion never happened (the
// version directory is gone, or the staging dir was never renamed) are
// dropped. It reports whether anything was pending.
func (s *Store) Reconcile() (model.VersionState, bool, error) {
	j, err := s.PendingApply()
	if err != nil {
		return model.VersionState{}, false, err
	}
	if j == nil {
		state, err := s.Load()
		return state, false, err
	}

	if !s.promoted(j.To) {
		if err := s.EndApply(); err != nil {
			return model.VersionState{}, true, err
		}
		state, err := s.Load()
		return state, true, err
	}

	state, err := s.Load()
	if err != nil {
		return model.VersionState{}, true, err
	}
	if state.Current != j.To {
		if state, err = s.Advance(j.To); err != nil {
			return model.VersionState{}, true, err
		}
	}
	if err := s.EndApply(); err != nil {
		return state, true, err
	}
	return state, true, nil
}

// promoted reports whether versions/<v> exists and its staging dir is gone.
// A surviving staging dir means the rename did not happen and any existing
// versions/<v> is the previous install of the same version.
func (s *Store) promoted(version string) bool {
	info, err := os.Stat(s.VersionDir(version))
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Lstat(s.StagingDir(version))
	return errors.Is(err, os.ErrNotExist)
}
