package status

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"statusd/internal/model"
)

// Write atomically replaces the per-entity status file. Readers polling the
// file never observe a partial document.
func Write(path string, rec model.StatusRecord) error {
	return writeJSON(path, rec)
}

// WriteSnapshot atomically replaces the combined multi-entity snapshot.
func WriteSnapshot(path string, snap model.Snapshot) error {
	return writeJSON(path, snap)
}

func writeJSON(path string, payload any) error {
	if path == "" {
		return errors.New("output path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
