package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a State to a single JSON file
type Store struct {
	path string
}

// NewStore creates a store writing to path, creating its directory
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. It always returns a usable state: a missing
// file yields a fresh one silently, an unreadable or corrupt file yields a
// fresh one together with the error so the caller can log it.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return NewState(), fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return NewState(), fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}
	if st.Version > Version {
		return NewState(), fmt.Errorf("unsupported checkpoint version %d", st.Version)
	}

	st.normalize()
	return &st, nil
}

// Save writes the state atomically: temp file, fsync, rename, directory fsync
func (s *Store) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return syncDir(dir)
}

// syncDir makes the rename durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint directory: %w", err)
	}
	return nil
}
