// Package config loads and validates aggregator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up in the state directory when no config path is given.
const DefaultFileName = "config.yaml"

// Hide-duplicate keys understood by the output engine.
const (
	DuplicateByID   = "id"
	DuplicateByLink = "link"
)

// Error reports a configuration problem. It is always fatal.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config captures all aggregator configuration knobs loaded via Viper.
type Config struct {
	OutputFile     string            `mapstructure:"output_file"`
	MaxArticles    int               `mapstructure:"max_articles"`
	MaxAge         time.Duration     `mapstructure:"max_age"`
	ExpireAge      time.Duration     `mapstructure:"expire_age"`
	KeepMin        int               `mapstructure:"keep_min"`
	DayFormat      string            `mapstructure:"day_format"`
	TimeFormat     string            `mapstructure:"time_format"`
	DateTimeFormat string            `mapstructure:"datetime_format"`
	UseRefresh     bool              `mapstructure:"use_refresh"`
	Template       string            `mapstructure:"template"`
	ItemTemplate   string            `mapstructure:"item_template"`
	DaySections    bool              `mapstructure:"day_sections"`
	TimeSections   bool              `mapstructure:"time_sections"`
	BlockLevelHTML bool              `mapstructure:"block_level_html"`
	ShowFeeds      bool              `mapstructure:"show_feeds"`
	NewFeedPeriod  string            `mapstructure:"new_feed_period"`
	NumThreads     int               `mapstructure:"num_threads"`
	SplitState     bool              `mapstructure:"split_state"`
	UseIDs         bool              `mapstructure:"use_ids"`
	CurrentOnly    bool              `mapstructure:"current_only"`
	HideDuplicates []string          `mapstructure:"hide_duplicates"`
	IgnoreTimeouts bool              `mapstructure:"ignore_timeouts"`
	ChangeConfig   bool              `mapstructure:"change_config"`
	SortByFeedDate bool              `mapstructure:"sort_by_feed_date"`
	Defines        map[string]string `mapstructure:"defines"`
	Logging        LoggingConfig     `mapstructure:"logging"`
	Metrics        MetricsConfig     `mapstructure:"metrics"`
	Fetch          FetchConfig       `mapstructure:"fetch"`
	Publish        PublishConfig     `mapstructure:"publish"`
	FetchLog       FetchLogConfig    `mapstructure:"fetchlog"`
	Notify         NotifyConfig      `mapstructure:"notify"`

	// Timeout is decoded separately because bare numbers mean seconds.
	Timeout time.Duration `mapstructure:"-"`
	// Feeds is the ordered feed list with feed_defaults applied.
	Feeds []FeedConfig `mapstructure:"-"`
	// Path is the file the configuration was read from.
	Path string `mapstructure:"-"`
	// Dir is the state directory that relative paths resolve against.
	Dir string `mapstructure:"-"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus textfile written after each run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// FetchConfig tunes HTTP retrieval.
type FetchConfig struct {
	UserAgent  string  `mapstructure:"user_agent"`
	PerHostRPS float64 `mapstructure:"per_host_rps"`
}

// PublishConfig selects where the rendered page is copied after it is written.
type PublishConfig struct {
	Provider string    `mapstructure:"provider"`
	GCS      GCSConfig `mapstructure:"gcs"`
}

// GCSConfig names the object the rendered page is uploaded to. An empty
// Object uses the output file's base name.
type GCSConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Object       string `mapstructure:"object"`
	CacheControl string `mapstructure:"cache_control"`
}

// FetchLogConfig controls the fetch audit log.
type FetchLogConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// NotifyConfig controls new-article notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from disk and environment. When path is empty the
// default file inside dir is used; relative paths resolve against dir.
func Load(dir, path string) (Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	v := viper.New()
	v.SetEnvPrefix("FEEDROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, &Error{Path: path, Err: fmt.Errorf("can't read config file: %w", err)}
		}
		return Config{}, &Error{Path: path, Err: fmt.Errorf("read config: %w", err)}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, &Error{Path: path, Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	cfg.Path = path
	cfg.Dir = dir
	cfg.HideDuplicates = splitFields(cfg.HideDuplicates)

	timeout, err := durationValue(v.Get("timeout"), time.Second)
	if err != nil {
		return Config{}, &Error{Path: path, Err: fmt.Errorf("timeout: %w", err)}
	}
	cfg.Timeout = timeout

	feeds, err := loadFeeds(v)
	if err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	cfg.Feeds = feeds

	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_file", "output.html")
	v.SetDefault("max_articles", 200)
	v.SetDefault("max_age", 0)
	v.SetDefault("expire_age", "24h")
	v.SetDefault("keep_min", 0)
	v.SetDefault("day_format", "%A, %d %B %Y")
	v.SetDefault("time_format", "%I:%M %p")
	v.SetDefault("datetime_format", "%A, %d %B %Y %I:%M %p")
	v.SetDefault("use_refresh", false)
	v.SetDefault("timeout", "30s")
	v.SetDefault("template", "default")
	v.SetDefault("item_template", "default")
	v.SetDefault("day_sections", true)
	v.SetDefault("time_sections", true)
	v.SetDefault("block_level_html", true)
	v.SetDefault("show_feeds", true)
	v.SetDefault("new_feed_period", "3h")
	v.SetDefault("num_threads", 0)
	v.SetDefault("split_state", false)
	v.SetDefault("use_ids", false)
	v.SetDefault("current_only", false)
	v.SetDefault("hide_duplicates", []string{})
	v.SetDefault("ignore_timeouts", false)
	v.SetDefault("change_config", true)
	v.SetDefault("sort_by_feed_date", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.user_agent", "feedroll/1.0")
	v.SetDefault("fetch.per_host_rps", 0)
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.gcs.cache_control", "public, max-age=300")
	v.SetDefault("fetchlog.provider", "noop")
	v.SetDefault("fetchlog.table", "feed_fetches")
	v.SetDefault("notify.provider", "noop")
}

func loadFeeds(v *viper.Viper) ([]FeedConfig, error) {
	defaults, err := feedEntryMap(v.Get("feed_defaults"))
	if err != nil {
		return nil, fmt.Errorf("feed_defaults: %w", err)
	}
	delete(defaults, "url")

	raw := v.Get("feeds")
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("feeds must be a list")
	}
	feeds := make([]FeedConfig, 0, len(entries))
	for i, entry := range entries {
		fc, err := decodeFeed(entry, defaults)
		if err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		feeds = append(feeds, fc)
	}
	return feeds, nil
}

func splitFields(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.Fields(strings.ToLower(s))...)
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.MaxArticles < 0 {
		return fmt.Errorf("max_articles must be >= 0")
	}
	if c.KeepMin < 0 {
		return fmt.Errorf("keep_min must be >= 0")
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num_threads must be >= 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.ExpireAge < 0 || c.MaxAge < 0 {
		return fmt.Errorf("expire_age and max_age must be >= 0")
	}
	if _, err := ParseDuration(c.NewFeedPeriod, time.Minute); err != nil {
		return fmt.Errorf("new_feed_period: %w", err)
	}
	for _, key := range c.HideDuplicates {
		if key != DuplicateByID && key != DuplicateByLink {
			return fmt.Errorf("hide_duplicates: unknown key %q", key)
		}
	}
	seen := make(map[string]struct{}, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feeds[%d]: url is required", i)
		}
		if _, dup := seen[f.URL]; dup {
			return fmt.Errorf("feeds[%d]: duplicate feed %s", i, f.URL)
		}
		seen[f.URL] = struct{}{}
		if f.Period < 0 {
			return fmt.Errorf("feeds[%d]: period must be >= 0", i)
		}
		if f.Options.KeepMin != nil && *f.Options.KeepMin < 0 {
			return fmt.Errorf("feeds[%d]: keep_min must be >= 0", i)
		}
	}
	switch c.Publish.Provider {
	case "", "local", "none":
	case "gcs":
		if c.Publish.GCS.Bucket == "" {
			return fmt.Errorf("publish.gcs.bucket is required when publish.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown publish.provider %q", c.Publish.Provider)
	}
	switch c.FetchLog.Provider {
	case "", "noop":
	case "postgres":
		if c.FetchLog.DSN == "" {
			return fmt.Errorf("fetchlog.dsn is required when fetchlog.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown fetchlog.provider %q", c.FetchLog.Provider)
	}
	switch c.Notify.Provider {
	case "", "noop":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id are required when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}

// ResolvePath joins a relative path onto the state directory.
func (c Config) ResolvePath(p string) string {
	if p == "" || p == "-" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
