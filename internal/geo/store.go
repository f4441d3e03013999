package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StorageKey names the one persisted location record.
const StorageKey = "userLocation"

// FileStore keeps the fix as JSON in <Dir>/userLocation.json.
type FileStore struct {
	Dir string
}

func (s FileStore) path() string {
	return filepath.Join(s.Dir, StorageKey+".json")
}

func (s FileStore) Load() (*Fix, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", StorageKey, err)
	}

	var fix Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("parse %s: %w", StorageKey, err)
	}
	return &fix, nil
}

// Save writes through a temp file so a crash never leaves half a record.
func (s FileStore) Save(fix Fix) error {
	data, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", StorageKey, err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, StorageKey+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", StorageKey, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", StorageKey, err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", StorageKey, err)
	}
	return nil
}
