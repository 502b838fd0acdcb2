package override

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "statusd/internal/log"
)

// Record is the manual override written by the control surface. Until is a
// UTC RFC 3339 expiry; the record is only honored while now < Until.
type Record struct {
	State  string `json:"state"`
	Label  string `json:"label"`
	Detail string `json:"detail"`
	Until  string `json:"until"`
}

// Load reads the override at path and returns it when valid and unexpired.
// A missing, unparsable or expired file is treated as no override and never
// surfaced to the user.
func Load(path string, now time.Time) *Record {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			appLog.Error("override read failed, ignoring override", err, "path", path)
		}
		return nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		appLog.Error("override unparsable, ignoring override", err, "path", path)
		return nil
	}

	expires, err := parseExpiry(rec.Until)
	if err != nil {
		appLog.Error("override expiry unparsable, ignoring override", err, "path", path)
		return nil
	}
	if !now.Before(expires) {
		return nil
	}
	return &rec
}

// parseExpiry accepts RFC 3339 and a bare date-time, which is read as UTC.
func parseExpiry(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty expiry")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
}

// Save atomically writes an override record (temp + rename), matching the
// convention the reader side relies on.
func Save(path string, rec Record) error {
	if path == "" {
		return errors.New("override path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".override-*.tmp")
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

// Clear removes the override file. A missing file is not an error.
func Clear(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
