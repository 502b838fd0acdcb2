package poll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"statusd/internal/config"
	"statusd/internal/model"
)

const feedWithMeeting = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T100000Z\r\n" +
	"DTEND:20240101T110000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func readRecord(t *testing.T, path string) model.StatusRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status %s: %v", path, err)
	}
	var rec model.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return rec
}

func testConfig(t *testing.T, feedURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		RuntimeDir: dir,
		Timezone:   "UTC",
		Groups: []config.GroupConfig{
			{Name: "Alice", URL: feedURL},
			{Name: "Bob", URL: "http://127.0.0.1:1/unreachable.ics"},
		},
	}
	cfg.Normalize()
	return cfg
}

func TestRunCycleIsolatesEntityFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feedWithMeeting))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	r := New(cfg)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC) }

	r.RunCycle(context.Background())

	alice := readRecord(t, cfg.Groups[0].StatusPath)
	if alice.State != model.StateMeeting {
		t.Errorf("Alice state = %q, want meeting", alice.State)
	}
	if alice.Detail != "Standup" {
		t.Errorf("Alice detail = %q, want Standup", alice.Detail)
	}
	if alice.Until != "2024-01-01T11:00:00Z" {
		t.Errorf("Alice until = %q", alice.Until)
	}

	// Bob's unreachable feed must not affect Alice's record.
	bob := readRecord(t, cfg.Groups[1].StatusPath)
	if bob.State != model.StateError {
		t.Errorf("Bob state = %q, want error", bob.State)
	}
	if bob.Source != model.SourceError {
		t.Errorf("Bob source = %q, want error", bob.Source)
	}
	if len(bob.Detail) > 100 {
		t.Errorf("Bob error detail length = %d, want <= 100", len(bob.Detail))
	}
}

func TestRunCycleWritesSnapshotInConfigOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feedWithMeeting))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	r := New(cfg)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC) }

	r.RunCycle(context.Background())

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	if snap.Generated == "" {
		t.Error("snapshot must carry a generation timestamp")
	}
	if len(snap.People) != 2 {
		t.Fatalf("got %d people, want 2", len(snap.People))
	}
	if snap.People[0].Name != "Alice" || snap.People[1].Name != "Bob" {
		t.Errorf("snapshot order = %q, %q; want Alice, Bob", snap.People[0].Name, snap.People[1].Name)
	}
}

func TestBootRecords(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1/unused.ics")
	r := New(cfg)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) }

	r.writeBootRecords()

	for i, g := range cfg.Groups {
		rec := readRecord(t, g.StatusPath)
		if rec.State != model.StateAvailable {
			t.Errorf("group %d state = %q, want available", i, rec.State)
		}
		if rec.Source != model.SourceBoot {
			t.Errorf("group %d source = %q, want boot", i, rec.Source)
		}
	}
}

func TestNewDisablesInvalidWorkHours(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Groups[0].WorkHours = &config.WorkHoursConfig{Start: "not-a-time", End: "17:00"}
	cfg.Groups[1].WorkHours = &config.WorkHoursConfig{Start: "09:00", End: "17:00"}

	r := New(cfg)
	if r.groups[0].policy != nil {
		t.Error("invalid work hours must disable the policy")
	}
	if r.groups[1].policy == nil {
		t.Error("valid work hours must produce a policy")
	}
}

func TestResolveGroupUsesCacheAcrossCycles(t *testing.T) {
	t.Parallel()

	var failing bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(feedWithMeeting))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.RefreshSeconds = 0 // force a fetch attempt every cycle
	r := New(cfg)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC) }

	rec := r.resolveGroup(context.Background(), r.groups[0])
	if rec.State != model.StateMeeting {
		t.Fatalf("first cycle state = %q, want meeting", rec.State)
	}

	// The feed goes down; the cached copy keeps resolution working.
	failing = true
	rec = r.resolveGroup(context.Background(), r.groups[0])
	if rec.State != model.StateMeeting {
		t.Errorf("state after outage = %q, want meeting from cache", rec.State)
	}
}
