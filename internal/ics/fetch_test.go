package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func writeCacheFile(t *testing.T, dir, text string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, "feed.ics")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write cache: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestFetchUsesFreshCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	cache := writeCacheFile(t, t.TempDir(), "BEGIN:VCALENDAR\r\ncached\r\n", 10*time.Second)
	f := NewFetcher(FetcherOptions{RefreshWindow: 5 * time.Minute})

	got, err := f.Fetch(context.Background(), srv.URL, cache)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "BEGIN:VCALENDAR\r\ncached\r\n" {
		t.Errorf("expected cached body, got %q", got)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network access, got %d requests", hits.Load())
	}
}

func TestFetchRefreshesStaleCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	cache := writeCacheFile(t, t.TempDir(), "BEGIN:VCALENDAR\r\nstale\r\n", time.Hour)
	f := NewFetcher(FetcherOptions{RefreshWindow: 5 * time.Minute})

	got, err := f.Fetch(context.Background(), srv.URL, cache)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != feedBody {
		t.Errorf("expected fresh body, got %q", got)
	}

	// The cache file must have been atomically replaced.
	data, err := os.ReadFile(cache)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if string(data) != feedBody {
		t.Errorf("cache not updated, got %q", string(data))
	}
}

func TestFetchFallsBackToCacheOnFailure(t *testing.T) {
	t.Parallel()

	cachedText := "BEGIN:VCALENDAR\r\nold but usable\r\n"

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusInternalServerError)
			},
		},
		{
			name: "response is not a calendar",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("<html>login page</html>"))
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			cache := writeCacheFile(t, t.TempDir(), cachedText, time.Hour)
			f := NewFetcher(FetcherOptions{RefreshWindow: time.Minute})

			got, err := f.Fetch(context.Background(), srv.URL, cache)
			if err != nil {
				t.Fatalf("Fetch should fall back to cache, got error: %v", err)
			}
			if got != cachedText {
				t.Errorf("expected cached body, got %q", got)
			}
		})
	}
}

func TestFetchFailsWithoutCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{RefreshWindow: time.Minute})
	if _, err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "missing.ics")); err == nil {
		t.Error("expected error with no usable cache")
	}
}

func TestFetchEmptyURL(t *testing.T) {
	t.Parallel()

	f := NewFetcher(FetcherOptions{RefreshWindow: time.Minute})

	if _, err := f.Fetch(context.Background(), "", filepath.Join(t.TempDir(), "missing.ics")); err == nil {
		t.Error("expected error for empty URL with no cache")
	}

	cache := writeCacheFile(t, t.TempDir(), "BEGIN:VCALENDAR\r\nkept\r\n", time.Hour)
	got, err := f.Fetch(context.Background(), "", cache)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "BEGIN:VCALENDAR\r\nkept\r\n" {
		t.Errorf("expected cached body, got %q", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain https untouched",
			in:   "https://example.com/cal.ics",
			want: "https://example.com/cal.ics",
		},
		{
			name: "webcal upgraded",
			in:   "webcal://example.com/cal.ics",
			want: "https://example.com/cal.ics",
		},
		{
			name: "webcals upgraded",
			in:   "webcals://example.com/cal.ics?token=abc",
			want: "https://example.com/cal.ics?token=abc",
		},
		{
			name: "outlook subscription unwrapped",
			in:   "https://outlook.live.com/owa/?rru=addsubscription&url=https%3A%2F%2Fexample.com%2Fcal.ics&name=Work",
			want: "https://example.com/cal.ics",
		},
		{
			name: "outlook webcal payload upgraded",
			in:   "https://outlook.live.com/owa/?rru=addsubscription&url=webcal%3A%2F%2Fexample.com%2Fcal.ics",
			want: "https://example.com/cal.ics",
		},
		{
			name: "outlook without url param untouched",
			in:   "https://outlook.live.com/owa/?rru=addsubscription",
			want: "https://outlook.live.com/owa/?rru=addsubscription",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeURL(tc.in); got != tc.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
