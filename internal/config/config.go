package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// TLSConfig controls trust for the calendar feed fetch.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification entirely.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// CABundle is a path to a PEM bundle used instead of system trust.
	// An unreadable path logs a warning and falls back to system trust.
	CABundle string `yaml:"ca_bundle,omitempty" json:"ca_bundle,omitempty"`
}

// WorkHoursConfig is the raw weekly working-hours window for one group.
// Days accepts names ("mon", "friday"), indexes (0=Monday .. 6=Sunday) and
// ranges ("mon-fri", "fri-mon" wraps the week), comma separated. Empty means
// Monday through Friday.
type WorkHoursConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
	Days  string `yaml:"days,omitempty" json:"days,omitempty"`
}

// GroupConfig describes one independently tracked person or resource.
type GroupConfig struct {
	// Name is the display name shown in the combined snapshot.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS feed endpoint. webcal:// and webcals:// are accepted.
	URL string `yaml:"url" json:"url"`
	// CachePath is the on-disk copy of the last good feed text.
	CachePath string `yaml:"cache_path,omitempty" json:"cache_path,omitempty"`
	// OverridePath is the manual-override file written by the control surface.
	OverridePath string `yaml:"override_path,omitempty" json:"override_path,omitempty"`
	// StatusPath is where this group's status record is written each cycle.
	StatusPath string `yaml:"status_path,omitempty" json:"status_path,omitempty"`
	// Timezone overrides the top-level timezone for this group.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	WorkHours *WorkHoursConfig `yaml:"work_hours,omitempty" json:"work_hours,omitempty"`
}

// Config is the top-level application configuration. It is built once at
// startup and passed down by reference; resolution code never reads the
// environment.
type Config struct {
	// Listen is the control server address (statusctl).
	Listen string `yaml:"listen" json:"listen"`
	// AuthToken protects the control API via the X-Auth-Token header.
	AuthToken string `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`

	// RuntimeDir anchors default cache/override/status paths. Supports "~".
	RuntimeDir string `yaml:"runtime_dir" json:"runtime_dir"`

	// Timezone is the default IANA zone for feeds and working hours.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Poll is a cron-style schedule for resolution cycles (robfig/cron
	// syntax, e.g. "@every 1m" or "*/5 * * * *").
	Poll string `yaml:"poll" json:"poll"`

	// RefreshSeconds is the feed cache staleness window. Clamped to >= 0.
	RefreshSeconds int `yaml:"refresh_seconds" json:"refresh_seconds"`

	// FetchTimeoutSeconds bounds a single feed fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	TLS TLSConfig `yaml:"tls" json:"tls"`

	// AllDayOnlyCountsIfOOO drops all-day events that are not out-of-office.
	// Defaults to true; use the accessor, not the field.
	AllDayOnlyCountsIfOOO *bool `yaml:"allday_only_counts_if_ooo,omitempty" json:"allday_only_counts_if_ooo,omitempty"`

	// UseMSBusyStatus enables X-MICROSOFT-CDO-BUSYSTATUS interpretation.
	UseMSBusyStatus bool `yaml:"use_ms_busy_status" json:"use_ms_busy_status"`

	// ShowEventDetails controls whether event names appear in status details.
	// Defaults to true; use the accessor, not the field.
	ShowEventDetails *bool `yaml:"show_event_details,omitempty" json:"show_event_details,omitempty"`

	// OutputPath is the combined snapshot file.
	OutputPath string `yaml:"output_path,omitempty" json:"output_path,omitempty"`

	Groups []GroupConfig `yaml:"groups" json:"groups"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:5000",
		RuntimeDir:          "~/status-screen",
		Timezone:            "America/Los_Angeles",
		Poll:                "@every 1m",
		RefreshSeconds:      300,
		FetchTimeoutSeconds: 30,
		Groups:              []GroupConfig{},
	}
}

// AllDayOOOOnly reports the all-day filter toggle with its default applied.
func (c *Config) AllDayOOOOnly() bool {
	if c.AllDayOnlyCountsIfOOO == nil {
		return true
	}
	return *c.AllDayOnlyCountsIfOOO
}

// ShowDetails reports the detail-visibility toggle with its default applied.
func (c *Config) ShowDetails() bool {
	if c.ShowEventDetails == nil {
		return true
	}
	return *c.ShowEventDetails
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly, and expands "~" in all paths. Group file paths
// default to per-group files under RuntimeDir, keyed by a slug of the name,
// so that no two groups share cache/override/output files.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:5000"
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = "~/status-screen"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
	if c.Poll == "" {
		c.Poll = "@every 1m"
	}
	if c.RefreshSeconds < 0 {
		c.RefreshSeconds = 0
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 30
	}
	if c.Groups == nil {
		c.Groups = []GroupConfig{}
	}

	c.RuntimeDir = ExpandPath(c.RuntimeDir)
	c.TLS.CABundle = ExpandPath(c.TLS.CABundle)

	if c.OutputPath == "" {
		c.OutputPath = filepath.Join(c.RuntimeDir, "status-multi.json")
	} else {
		c.OutputPath = ExpandPath(c.OutputPath)
	}

	for i := range c.Groups {
		g := &c.Groups[i]
		if g.Name == "" {
			g.Name = "Unknown"
		}
		slug := slugify(g.Name)
		if g.CachePath == "" {
			g.CachePath = filepath.Join(c.RuntimeDir, slug+".ics")
		} else {
			g.CachePath = ExpandPath(g.CachePath)
		}
		if g.OverridePath == "" {
			g.OverridePath = filepath.Join(c.RuntimeDir, slug+"-override.json")
		} else {
			g.OverridePath = ExpandPath(g.OverridePath)
		}
		if g.StatusPath == "" {
			g.StatusPath = filepath.Join(c.RuntimeDir, slug+"-status.json")
		} else {
			g.StatusPath = ExpandPath(g.StatusPath)
		}
		if g.Timezone == "" {
			g.Timezone = c.Timezone
		}
	}
}

// ExpandPath resolves a leading "~" to the user's home directory. Paths that
// cannot be expanded are returned unchanged.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// slugify lowercases a group name into a filename-safe token.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "group"
	}
	return b.String()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there (0600)
//     and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".statusd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
