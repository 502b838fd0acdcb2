package ics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "statusd/internal/log"
)

const userAgent = "statusd/1.0"

// calendarHeader must appear within the first headerSniffLen bytes of a
// response for it to count as a calendar document.
const (
	calendarHeader = "BEGIN:VCALENDAR"
	headerSniffLen = 2000
)

// FetcherOptions configures feed fetching for the process lifetime.
type FetcherOptions struct {
	// RefreshWindow is how long a cached copy stays fresh. Negative values
	// are clamped to zero (always refetch).
	RefreshWindow time.Duration

	// Timeout bounds a single HTTP fetch.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// CABundle, when set, is a PEM bundle path replacing system trust.
	CABundle string
}

// Fetcher retrieves calendar text with a disk-backed cache per feed. A fresh
// cache short-circuits the network; a failed fetch falls back to whatever
// cache exists. There is no retry loop here: retries happen naturally on the
// next poll tick.
type Fetcher struct {
	client        *http.Client
	refreshWindow time.Duration
}

// NewFetcher builds a Fetcher. An unreadable CA bundle logs a warning and
// falls back to system trust rather than failing fetches.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RefreshWindow < 0 {
		appLog.Info("negative refresh window, clamping to zero")
		opts.RefreshWindow = 0
	}

	tlsCfg := &tls.Config{}
	switch {
	case opts.InsecureSkipVerify:
		tlsCfg.InsecureSkipVerify = true
		appLog.Info("TLS verification disabled for feed fetches")
	case opts.CABundle != "":
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			appLog.Error("cannot read CA bundle, using system trust", err, "path", opts.CABundle)
			break
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			appLog.Error("CA bundle has no usable certificates, using system trust",
				errors.New("no PEM certificates"), "path", opts.CABundle)
			break
		}
		tlsCfg.RootCAs = pool
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		refreshWindow: opts.RefreshWindow,
	}
}

// Fetch returns calendar text for the given feed URL.
//
//   - Cache fresher than the refresh window: returned without network access.
//   - Otherwise a network fetch is attempted; on any failure (network,
//     status, validation) the cached copy is returned when one exists.
//   - With no usable cache the error propagates as this cycle's resolution
//     error.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, cachePath string) (string, error) {
	cached, age := readCache(cachePath)

	if cached != "" && age < f.refreshWindow {
		appLog.Debug("using cached feed", "path", cachePath, "age", age.Truncate(time.Second))
		return cached, nil
	}

	if feedURL == "" {
		if cached != "" {
			appLog.Info("feed URL not set, using cached feed", "path", cachePath)
			return cached, nil
		}
		return "", errors.New("feed URL is not set")
	}

	text, err := f.fetchRemote(ctx, feedURL)
	if err != nil {
		if cached != "" {
			appLog.Error("feed fetch failed, using cached feed", err, "url", redactURL(feedURL))
			return cached, nil
		}
		return "", err
	}

	if err := writeCache(cachePath, text); err != nil {
		// A cache write failure must not discard a good fetch.
		appLog.Error("feed cache write failed", err, "path", cachePath)
	}

	return text, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, feedURL string) (string, error) {
	fetchURL := NormalizeURL(feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	appLog.Debug("fetching feed", "url", redactURL(fetchURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feed fetch returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	text := string(body)
	head := text
	if len(head) > headerSniffLen {
		head = head[:headerSniffLen]
	}
	if !strings.Contains(head, calendarHeader) {
		return "", errors.New("feed response is not a VCALENDAR document")
	}

	return text, nil
}

// NormalizeURL upgrades webcal(s) schemes to https and unwraps Outlook
// subscription-redirect URLs that embed the real feed URL as a query
// parameter. Unparsable URLs are returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	switch u.Scheme {
	case "webcal", "webcals":
		u.Scheme = "https"
		return u.String()
	}

	if strings.Contains(u.Host, "outlook.live.com") && u.Query().Get("rru") == "addsubscription" {
		if inner := u.Query().Get("url"); inner != "" {
			if iu, err := url.Parse(inner); err == nil {
				if iu.Scheme == "webcal" || iu.Scheme == "webcals" {
					iu.Scheme = "https"
				}
				return iu.String()
			}
		}
	}

	return raw
}

// readCache returns the cached text and its age, or "" when unusable.
func readCache(path string) (string, time.Duration) {
	if path == "" {
		return "", 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		appLog.Error("feed cache read failed", err, "path", path)
		return "", 0
	}
	return string(data), time.Since(info.ModTime())
}

// writeCache atomically replaces the cache file (temp + rename) so a
// concurrent reader never sees a partial document.
func writeCache(path, text string) error {
	if path == "" {
		return errors.New("cache path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".feed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(text); err != nil {
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

// redactURL hides path and query of a feed URL for logging, since feed URLs
// frequently embed access tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "feed://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
