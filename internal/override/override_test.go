package override

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		content string // "" means no file
		want    bool
	}{
		{
			name:    "valid unexpired override",
			content: `{"state":"busy","label":"BUSY","detail":"Call","until":"2024-01-01T13:00:00Z"}`,
			want:    true,
		},
		{
			name:    "expired override is ignored",
			content: `{"state":"busy","label":"BUSY","until":"2024-01-01T11:00:00Z"}`,
			want:    false,
		},
		{
			name:    "expiry equal to now is expired",
			content: `{"state":"busy","label":"BUSY","until":"2024-01-01T12:00:00Z"}`,
			want:    false,
		},
		{
			name:    "bare date-time expiry is read as UTC",
			content: `{"state":"busy","label":"BUSY","until":"2024-01-01T13:00:00"}`,
			want:    true,
		},
		{
			name:    "missing expiry is ignored",
			content: `{"state":"busy","label":"BUSY"}`,
			want:    false,
		},
		{
			name:    "corrupt JSON is ignored",
			content: `{"state":`,
			want:    false,
		},
		{
			name: "missing file is ignored",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "override.json")
			if tc.content != "" {
				if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
					t.Fatalf("write override: %v", err)
				}
			}

			got := Load(path, now)
			if tc.want && got == nil {
				t.Fatal("expected an override, got nil")
			}
			if !tc.want && got != nil {
				t.Fatalf("expected no override, got %+v", got)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "override.json")
	rec := Record{State: "ooo", Label: "OUT OF OFFICE", Detail: "Errand", Until: "2024-01-01T13:00:00Z"}

	if err := Save(path, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := Load(path, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	if got == nil {
		t.Fatal("expected override after save")
	}
	if *got != rec {
		t.Errorf("round trip mismatch: %+v != %+v", *got, rec)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the override file, got %d entries", len(entries))
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "override.json")
	if err := Clear(path); err != nil {
		t.Errorf("Clear on missing file: %v", err)
	}

	if err := Save(path, Record{State: "busy", Until: "2024-01-01T13:00:00Z"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("override file should be gone")
	}
}
