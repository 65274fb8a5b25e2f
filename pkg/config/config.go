package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/filter"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/linear"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/remote"
	"github.com/paulschiretz/rager/pkg/search"
	"github.com/paulschiretz/rager/pkg/store"
	"github.com/paulschiretz/rager/pkg/syncer"
	"github.com/paulschiretz/rager/pkg/util"
)

// ConfigFileName is the name of the configuration file inside the user config directory.
const ConfigFileName = "rager.toml"

const minDefaultThreads = 4

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// RuntimeConfig holds settings that only come from the command line.
type RuntimeConfig struct {
	ConfigPath string
	Quiet      bool
	DryRun     bool
	Force      bool
	Term       string
	Preview    bool
}

type Config struct {
	Server         string `toml:"server"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Threads        int    `toml:"threads"`
	RequestTimeout int    `toml:"request-timeout"`
	SyncDir        string `toml:"sync-dir"`
	DeleteWorkers  int    `toml:"delete-workers"`

	SyncOS           []string `toml:"sync-os"`
	SyncBefore       string   `toml:"sync-before"`
	SyncAfter        string   `toml:"sync-after"`
	SyncWhen         []string `toml:"sync-when"`
	SyncUser         string   `toml:"sync-user"`
	SyncAny          bool     `toml:"sync-any"`
	SyncUnsure       bool     `toml:"sync-unsure"`
	SyncSinceLastDay bool     `toml:"sync-since-last-day"`
	SyncRetryLimit   *int     `toml:"sync-retry-limit"`
	BeeperHacks      bool     `toml:"beeper-hacks"`
	CacheDetails     bool     `toml:"cache-details"`

	LinearToken string `toml:"linear-token"`

	LogLevel        string `toml:"log-level"`
	LogFile         string `toml:"log-file"`
	Metrics         bool   `toml:"metrics"`
	MetricsTextfile string `toml:"metrics-textfile"`

	Runtime RuntimeConfig `toml:"-"`
}

// NewDefault returns the configuration used when no file and no flags are given.
func NewDefault() Config {
	threads := runtime.NumCPU()
	if threads < minDefaultThreads {
		threads = minDefaultThreads
	}

	syncDir := "rageshake"
	if dataDir, err := util.UserDataDir(); err == nil {
		syncDir = filepath.Join(dataDir, "rageshake")
	}

	return Config{
		Threads:        threads,
		RequestTimeout: int(remote.DefaultTimeout / time.Second),
		SyncDir:        syncDir,
		DeleteWorkers:  store.DefaultDeleteWorkers,
		SyncUnsure:     true,
		LogLevel:       "info",
	}
}

// DefaultPath returns the location of the config file when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load reads the TOML file at path on top of the defaults. An empty path
// means DefaultPath. If the file doesn't exist, the defaults are returned
// without an error.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}
	configPath, err := util.ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	config := NewDefault()
	md, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			plog.Debug("No config file found, using defaults", "path", configPath)
			defaults := NewDefault()
			defaults.Runtime.ConfigPath = configPath
			return defaults, nil
		}
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	for _, key := range md.Undecoded() {
		plog.Warn("Unknown key in config file", "path", configPath, "key", key.String())
	}

	config.Runtime.ConfigPath = configPath
	config.Server = strings.TrimRight(config.Server, "/")
	plog.Debug("Loaded configuration", "path", configPath)
	return config, nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// With requireRemote the server credentials must be present.
func (c *Config) Validate(requireRemote bool) error {
	if c.Threads < 1 {
		return configErrorf("threads", "must be at least 1, got %d", c.Threads)
	}
	if c.RequestTimeout < 1 {
		return configErrorf("request-timeout", "must be at least 1 second, got %d", c.RequestTimeout)
	}
	if c.DeleteWorkers < 1 {
		return configErrorf("delete-workers", "must be at least 1, got %d", c.DeleteWorkers)
	}
	if c.SyncRetryLimit != nil && *c.SyncRetryLimit < 0 {
		return configErrorf("sync-retry-limit", "cannot be negative")
	}
	if strings.TrimSpace(c.SyncDir) == "" {
		return configErrorf("sync-dir", "cannot be empty")
	}
	if _, err := c.SyncPredicate(time.Now()); err != nil {
		return err
	}
	if _, err := c.TermRegexp(); err != nil {
		return err
	}

	if requireRemote {
		if c.Server == "" || c.Username == "" || c.Password == "" {
			return &ConfigError{Field: "server", Err: remote.ErrMissingCredentials}
		}
		if err := validateServer(c.Server); err != nil {
			return err
		}
	}
	return nil
}

func validateServer(server string) error {
	u, err := url.Parse(server)
	if err != nil {
		return &ConfigError{Field: "server", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return configErrorf("server", "must be an http or https URL, got %q", server)
	}
	if u.Host == "" {
		return configErrorf("server", "missing host in %q", server)
	}
	return nil
}

// ValidateIssueLookup checks the settings the issue command needs on top of Validate.
func (c *Config) ValidateIssueLookup() error {
	if c.LinearToken == "" {
		return &ConfigError{Field: "linear-token", Err: linear.ErrMissingToken}
	}
	if c.Server == "" {
		return configErrorf("server", "is needed to recognize entry links")
	}
	return validateServer(c.Server)
}

// LogSummary prints a summary of the configuration relevant to command.
func (c *Config) LogSummary(command flagparse.Command) {
	logArgs := []interface{}{
		"command", command.String(),
		"log_level", c.LogLevel,
		"sync_dir", c.SyncDir,
	}
	switch command {
	case flagparse.Sync, flagparse.Search, flagparse.Prune:
		if filters := c.filterSummary(); filters != "" {
			logArgs = append(logArgs, "filter", filters)
		}
	}

	switch command {
	case flagparse.Sync:
		retry := "none"
		if c.SyncRetryLimit != nil {
			if *c.SyncRetryLimit == 0 {
				retry = "until clean"
			} else {
				retry = fmt.Sprintf("%d", *c.SyncRetryLimit)
			}
		}
		logArgs = append(logArgs,
			"server", c.Server,
			"username", c.Username,
			"threads", c.Threads,
			"request_timeout", c.RequestTimeout,
			"retry_limit", retry,
			"since_last_day", c.SyncSinceLastDay,
			"beeper_hacks", c.BeeperHacks,
			"cache_details", c.CacheDetails,
			"metrics", c.Metrics,
		)
		if c.MetricsTextfile != "" {
			logArgs = append(logArgs, "metrics_textfile", c.MetricsTextfile)
		}
	case flagparse.Search:
		if c.Runtime.Term != "" {
			logArgs = append(logArgs, "term", c.Runtime.Term)
		}
	case flagparse.Prune:
		logArgs = append(logArgs, "dry_run", c.Runtime.DryRun, "delete_workers", c.DeleteWorkers)
	case flagparse.Desync:
		logArgs = append(logArgs, "delete_workers", c.DeleteWorkers)
	case flagparse.Issue:
		logArgs = append(logArgs, "server", c.Server)
	}
	plog.Info("Configuration loaded", logArgs...)
}

func (c *Config) filterSummary() string {
	var parts []string
	if len(c.SyncOS) > 0 {
		parts = append(parts, "os="+strings.Join(c.SyncOS, ","))
	}
	if c.SyncAfter != "" {
		parts = append(parts, "after="+c.SyncAfter)
	}
	if c.SyncBefore != "" {
		parts = append(parts, "before="+c.SyncBefore)
	}
	if len(c.SyncWhen) > 0 {
		parts = append(parts, "when="+strings.Join(c.SyncWhen, ","))
	}
	if c.SyncUser != "" {
		parts = append(parts, "user="+c.SyncUser)
	}
	if len(parts) == 0 {
		return ""
	}
	parts = append(parts, fmt.Sprintf("any=%t", c.SyncAny), fmt.Sprintf("unsure=%t", c.SyncUnsure))
	return strings.Join(parts, " ")
}

// SyncWindow resolves the configured dates relative to now.
func (c *Config) SyncWindow(now time.Time) (daterange.Window, error) {
	var w daterange.Window
	var err error
	if c.SyncAfter != "" {
		if w.After, err = daterange.Parse(c.SyncAfter, now); err != nil {
			return daterange.Window{}, &ConfigError{Field: "sync-after", Err: err}
		}
	}
	if c.SyncBefore != "" {
		if w.Before, err = daterange.Parse(c.SyncBefore, now); err != nil {
			return daterange.Window{}, &ConfigError{Field: "sync-before", Err: err}
		}
	}
	for _, s := range c.SyncWhen {
		day, err := daterange.Parse(s, now)
		if err != nil {
			return daterange.Window{}, &ConfigError{Field: "sync-when", Err: err}
		}
		w.When = append(w.When, day)
	}
	w.When = util.Deduplicate(w.When)
	daterange.SortDays(w.When)
	return w, nil
}

// SyncPredicate builds the entry filter from the configured conditions.
func (c *Config) SyncPredicate(now time.Time) (filter.Predicate, error) {
	var oses []entry.OS
	for _, name := range c.SyncOS {
		o, err := entry.ParseOS(name)
		if err != nil {
			return filter.Predicate{}, &ConfigError{Field: "sync-os", Err: err}
		}
		oses = append(oses, o)
	}
	w, err := c.SyncWindow(now)
	if err != nil {
		return filter.Predicate{}, err
	}
	return filter.Predicate{
		OSes:   util.Deduplicate(oses),
		Window: w,
		User:   c.SyncUser,
		Any:    c.SyncAny,
		Unsure: c.SyncUnsure,
	}, nil
}

// SyncOptions builds the syncer options. The caller sets Metrics.
func (c *Config) SyncOptions(now time.Time) (syncer.Options, error) {
	pred, err := c.SyncPredicate(now)
	if err != nil {
		return syncer.Options{}, err
	}
	return syncer.Options{
		Threads:      c.Threads,
		Filter:       pred,
		BeeperHacks:  c.BeeperHacks,
		CacheDetails: c.CacheDetails,
		RetryLimit:   c.SyncRetryLimit,
		SinceLastDay: c.SyncSinceLastDay,
		Window:       pred.Window,
		Now:          func() time.Time { return now },
	}, nil
}

// RemoteOptions builds the listing client options.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Server:   c.Server,
		Username: c.Username,
		Password: c.Password,
		Timeout:  time.Duration(c.RequestTimeout) * time.Second,
	}
}

// TermRegexp compiles the search term. It returns nil when no term is set.
func (c *Config) TermRegexp() (*regexp.Regexp, error) {
	if c.Runtime.Term == "" {
		return nil, nil
	}
	re, err := regexp.Compile(c.Runtime.Term)
	if err != nil {
		return nil, &ConfigError{Field: "term", Err: err}
	}
	return re, nil
}

// SearchQuery builds the local search query. Entries of which only the
// details are cached can only match when no term is given.
func (c *Config) SearchQuery(now time.Time) (search.Query, error) {
	pred, err := c.SyncPredicate(now)
	if err != nil {
		return search.Query{}, err
	}
	term, err := c.TermRegexp()
	if err != nil {
		return search.Query{}, err
	}
	return search.Query{Filter: pred, Term: term, IncludeCached: term == nil}, nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "config":
			merged.Runtime.ConfigPath = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "log-file":
			merged.LogFile = value.(string)
		case "quiet":
			merged.Runtime.Quiet = value.(bool)
		case "sync-dir":
			merged.SyncDir = value.(string)
		case "server":
			merged.Server = strings.TrimRight(value.(string), "/")
		case "username":
			merged.Username = value.(string)
		case "password":
			merged.Password = value.(string)
		case "request-timeout":
			merged.RequestTimeout = value.(int)
		case "os":
			merged.SyncOS = value.([]string)
		case "before":
			merged.SyncBefore = value.(string)
		case "after":
			merged.SyncAfter = value.(string)
		case "when":
			merged.SyncWhen = value.([]string)
		case "user":
			merged.SyncUser = value.(string)
		case "any":
			merged.SyncAny = value.(bool)
		case "unsure":
			merged.SyncUnsure = value.(bool)
		case "threads":
			merged.Threads = value.(int)
		case "since-last-day":
			merged.SyncSinceLastDay = value.(bool)
		case "beeper-hacks":
			merged.BeeperHacks = value.(bool)
		case "cache-details":
			merged.CacheDetails = value.(bool)
		case "retry-limit":
			limit := value.(int)
			merged.SyncRetryLimit = &limit
		case "metrics":
			merged.Metrics = value.(bool)
		case "metrics-textfile":
			merged.MetricsTextfile = value.(string)
		case "term":
			merged.Runtime.Term = value.(string)
		case "preview":
			merged.Runtime.Preview = value.(bool)
		case "force":
			merged.Runtime.Force = value.(bool)
		case "dry-run":
			switch command {
			case flagparse.Prune:
				merged.Runtime.DryRun = value.(bool)
			default:
			}
		case "delete-workers":
			merged.DeleteWorkers = value.(int)
		case "linear-token":
			merged.LinearToken = value.(string)
		case flagparse.ArgEntryID, flagparse.ArgFile, flagparse.ArgPrefix, flagparse.ArgIssueKey:
			// read by the command itself
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
