package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

const (
	DefaultLogPath     = "/var/log/ufw.log"
	DefaultCachePath   = "/tmp/ufw-abuseipdb-reporter.cache"
	DefaultEndpoint    = "https://api.abuseipdb.com/api/v2/report"
	DefaultMetricsAddr = ":9090"

	OnMissingExit = "exit"
	OnMissingIdle = "idle"

	CacheBackendText = "text"
	CacheBackendBolt = "bolt"
)

// Config is the resolved runtime configuration.
type Config struct {
	LogPath      string
	BlockMarker  string
	OnMissing    string
	PollInterval time.Duration

	CachePath    string
	CacheBackend string

	APIKey          string
	Endpoint        string
	Interval        time.Duration
	Timeout         time.Duration
	CommentTemplate string
	DryRun          bool
	Categories      map[string]map[string]string

	AllowlistPath string
	JournalPath   string

	MetricsEnabled bool
	MetricsAddr    string

	LogLevel  string
	LogFormat string

	WatchConfig bool
}

// SetDefaults registers default values for every key on the global viper
// instance.
func SetDefaults() {
	viper.SetDefault("log.path", DefaultLogPath)
	viper.SetDefault("log.block_marker", domain.DefaultBlockMarker)
	viper.SetDefault("log.on_missing", OnMissingExit)
	viper.SetDefault("log.poll_interval", "0s")

	viper.SetDefault("cache.path", DefaultCachePath)
	viper.SetDefault("cache.backend", CacheBackendText)

	viper.SetDefault("report.api_key", "")
	viper.SetDefault("report.endpoint", DefaultEndpoint)
	viper.SetDefault("report.interval", DefaultReportInterval.String())
	viper.SetDefault("report.timeout", DefaultReportTimeout.String())
	viper.SetDefault("report.comment_template", "")
	viper.SetDefault("report.dry_run", false)

	viper.SetDefault("allowlist.path", "")
	viper.SetDefault("journal.path", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", DefaultMetricsAddr)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	viper.SetDefault("config.watch", false)
}

// LoadConfig reads the current viper state into a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogPath:         viper.GetString("log.path"),
		BlockMarker:     viper.GetString("log.block_marker"),
		OnMissing:       strings.ToLower(viper.GetString("log.on_missing")),
		PollInterval:    viper.GetDuration("log.poll_interval"),
		CachePath:       viper.GetString("cache.path"),
		CacheBackend:    strings.ToLower(viper.GetString("cache.backend")),
		APIKey:          strings.TrimSpace(viper.GetString("report.api_key")),
		Endpoint:        viper.GetString("report.endpoint"),
		Interval:        viper.GetDuration("report.interval"),
		Timeout:         viper.GetDuration("report.timeout"),
		CommentTemplate: viper.GetString("report.comment_template"),
		DryRun:          viper.GetBool("report.dry_run"),
		AllowlistPath:   viper.GetString("allowlist.path"),
		JournalPath:     viper.GetString("journal.path"),
		MetricsEnabled:  viper.GetBool("metrics.enabled"),
		MetricsAddr:     viper.GetString("metrics.addr"),
		LogLevel:        strings.ToLower(viper.GetString("logging.level")),
		LogFormat:       strings.ToLower(viper.GetString("logging.format")),
		WatchConfig:     viper.GetBool("config.watch"),
	}

	if viper.IsSet("report.categories") {
		raw := make(map[string]map[string]string)
		if err := viper.UnmarshalKey("report.categories", &raw); err != nil {
			return nil, &ConfigValidationError{Field: "report.categories", Value: "?", Reason: err.Error()}
		}
		cfg.Categories = raw
	}

	return cfg, nil
}

// Validate checks every field a running reporter depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LogPath) == "" {
		return &ConfigValidationError{Field: "log.path", Value: c.LogPath, Reason: "must not be empty"}
	}
	if c.OnMissing != OnMissingExit && c.OnMissing != OnMissingIdle {
		return &ConfigValidationError{Field: "log.on_missing", Value: c.OnMissing, Reason: "must be exit or idle"}
	}
	if c.PollInterval < 0 {
		return &ConfigValidationError{Field: "log.poll_interval", Value: c.PollInterval, Reason: "must not be negative"}
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return &ConfigValidationError{Field: "cache.path", Value: c.CachePath, Reason: "must not be empty"}
	}
	if c.CacheBackend != CacheBackendText && c.CacheBackend != CacheBackendBolt {
		return &ConfigValidationError{Field: "cache.backend", Value: c.CacheBackend, Reason: "must be text or bolt"}
	}
	if !c.DryRun && c.APIKey == "" {
		return &ConfigValidationError{Field: "report.api_key", Value: "", Reason: "required unless report.dry_run is set"}
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return &ConfigValidationError{Field: "report.endpoint", Value: c.Endpoint, Reason: "must be an http(s) URL"}
	}
	if c.Interval <= 0 {
		return &ConfigValidationError{Field: "report.interval", Value: c.Interval, Reason: "must be positive"}
	}
	if c.Timeout < time.Second || c.Timeout > 5*time.Minute {
		return &ConfigValidationError{Field: "report.timeout", Value: c.Timeout, Reason: "must be between 1s and 5m"}
	}
	if _, err := ParseCommentTemplate(c.CommentTemplate); err != nil {
		return &ConfigValidationError{Field: "report.comment_template", Value: "?", Reason: err.Error()}
	}
	if _, err := ParseCategoryOverrides(c.Categories); err != nil {
		return err
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return &ConfigValidationError{Field: "metrics.addr", Value: c.MetricsAddr, Reason: "required when metrics are enabled"}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigValidationError{Field: "logging.level", Value: c.LogLevel, Reason: "must be debug, info, warn or error"}
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return &ConfigValidationError{Field: "logging.format", Value: c.LogFormat, Reason: "must be console or json"}
	}
	return nil
}

type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, e.Value, e.Reason)
}

// HotReloadConfig re-applies the reloadable part of the configuration
// (category table, comment template, report interval) when the config file
// changes. Everything else requires a restart.
type HotReloadConfig struct {
	dispatcher *Dispatcher
	cache      *ReportCache

	configPath string
	mu         sync.Mutex
	stopped    atomic.Bool
	stopOnce   sync.Once
}

type HotReloadOptions struct {
	ConfigPath string
	Dispatcher *Dispatcher
	Cache      *ReportCache
}

func NewHotReloadConfig(opts HotReloadOptions) *HotReloadConfig {
	return &HotReloadConfig{
		dispatcher: opts.Dispatcher,
		cache:      opts.Cache,
		configPath: opts.ConfigPath,
	}
}

func (h *HotReloadConfig) StartWatching(ctx context.Context) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if h.stopped.Load() || ctx.Err() != nil {
			return
		}
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading...")

		if err := h.Reload(); err != nil {
			log.Error().Err(err).Msg("Config reload rejected, keeping current configuration")
		}
	})

	viper.WatchConfig()
	log.Info().Str("config", h.configPath).Msg("Hot-reload config watching started")
}

// Reload re-reads the config file and applies it. On any error the running
// configuration is left untouched.
func (h *HotReloadConfig) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("re-read config: %w", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return h.Apply(cfg)
}

// Apply swaps in the reloadable settings from cfg.
func (h *HotReloadConfig) Apply(cfg *Config) error {
	table, err := ParseCategoryOverrides(cfg.Categories)
	if err != nil {
		return err
	}
	tmpl, err := ParseCommentTemplate(cfg.CommentTemplate)
	if err != nil {
		return err
	}

	if h.dispatcher != nil {
		h.dispatcher.SetCategorizer(NewCategorizer(table))
		h.dispatcher.SetCommentTemplate(tmpl)
	}
	if h.cache != nil {
		h.cache.SetInterval(cfg.Interval)
	}

	log.Info().
		Dur("interval", cfg.Interval).
		Int("protocols", len(table)).
		Msg("Configuration hot-reloaded successfully")
	return nil
}

func (h *HotReloadConfig) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		log.Info().Msg("Hot-reload config watcher stopped")
	})
}
