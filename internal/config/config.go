package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lifeflow/internal/fsutil"
)

// FeedConfig describes a single ICS subscription merged into the timeline.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for story IDs and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// EntryFile is the root document that links every story file. Story
	// files are resolved relative to its directory.
	EntryFile string `yaml:"entry_file" json:"entry_file"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for periodic reloads.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Watch reloads the timeline when files in the vault directory change.
	Watch bool `yaml:"watch" json:"watch"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA timezone used for "today" and calendar
	// conversion (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarName is the X-WR-CALNAME of the exported calendar.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// FeedHorizonDays and FeedBackfillDays bound recurrence expansion of
	// feed events around today.
	FeedHorizonDays  int `yaml:"feed_horizon_days" json:"feed_horizon_days"`
	FeedBackfillDays int `yaml:"feed_backfill_days" json:"feed_backfill_days"`

	// CacheDir holds the ETag/Last-Modified cache of fetched feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultEntryFile    = "LaC/LifeFlow/lifeflow.md"
	defaultRefresh      = "*/15 * * * *"
	defaultLogLevel     = "info"
	defaultTimezone     = "Local"
	defaultCalendarName = "LifeFlow"
	defaultHorizonDays  = 365
	defaultBackfillDays = 365
	defaultCacheDir     = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           defaultListen,
		EntryFile:        defaultEntryFile,
		RefreshCron:      defaultRefresh,
		Watch:            true,
		LogLevel:         defaultLogLevel,
		Timezone:         defaultTimezone,
		CalendarName:     defaultCalendarName,
		Feeds:            []FeedConfig{},
		FeedHorizonDays:  defaultHorizonDays,
		FeedBackfillDays: defaultBackfillDays,
		CacheDir:         defaultCacheDir,
		BasicAuth:        nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.EntryFile == "" {
		c.EntryFile = defaultEntryFile
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// ok
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.CalendarName == "" {
		c.CalendarName = defaultCalendarName
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.FeedHorizonDays <= 0 {
		c.FeedHorizonDays = defaultHorizonDays
	}
	if c.FeedBackfillDays < 0 {
		c.FeedBackfillDays = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// The parent directory is created with 0700, and the YAML is written through
// a temp file in the same directory that is renamed over path with 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600, 0o700)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// ResolveEntryFile returns EntryFile, joined to base when it is relative.
// The CLI passes the config file's directory as base.
func (c *Config) ResolveEntryFile(base string) string {
	if filepath.IsAbs(c.EntryFile) || base == "" {
		return c.EntryFile
	}
	return filepath.Join(base, c.EntryFile)
}
