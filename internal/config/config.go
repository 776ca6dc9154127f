// Package config handles application configuration from a settings file and
// environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"socialbot/internal/model"
	"socialbot/internal/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. SOCIALBOT_DAYS_OF_NEWS.
const EnvPrefix = "SOCIALBOT"

// Config holds the application configuration.
type Config struct {
	DatabasePath    string          `mapstructure:"database_path"`
	SecretKey       string          `mapstructure:"secret_key"`
	LogLevel        string          `mapstructure:"log_level"`
	Cron            string          `mapstructure:"cron"`
	DaysOfNews      int             `mapstructure:"days_of_news"`
	DaysOfRetention int             `mapstructure:"days_of_retention"`
	Mute            MuteConfig      `mapstructure:"mute"`
	Platforms       PlatformsConfig `mapstructure:"platforms"`
	AI              AIConfig        `mapstructure:"ai"`
	Feed            FeedConfig      `mapstructure:"feed"`
	Dispatch        DispatchConfig  `mapstructure:"dispatch"`
	StatusAddr      string          `mapstructure:"status_addr"`
}

// MuteConfig is the global quiet-hours window in HH:MM.
type MuteConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// PlatformsConfig switches whole platforms on or off.
type PlatformsConfig struct {
	Chat         bool `mapstructure:"chat"`
	Microblog    bool `mapstructure:"microblog"`
	Professional bool `mapstructure:"professional"`
}

// AIConfig configures the comment generator.
// Model "auto" picks the cheapest model listed at ModelsURL whose ID
// contains ModelFilter.
type AIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	ModelsURL   string        `mapstructure:"models_url"`
	ModelFilter string        `mapstructure:"model_filter"`
	MaxChars    int           `mapstructure:"max_chars"`
	Language    string        `mapstructure:"language"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// FeedConfig configures feed fetching and text cleanup.
type FeedConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	CutMarkers         []string      `mapstructure:"cut_markers"`
	FirstParagraphOnly bool          `mapstructure:"first_paragraph_only"`
}

// DispatchConfig bounds polling and publishing.
type DispatchConfig struct {
	PollWorkers        int           `mapstructure:"poll_workers"`
	Workers            int           `mapstructure:"workers"`
	PublishTimeout     time.Duration `mapstructure:"publish_timeout"`
	ProfessionalJitter time.Duration `mapstructure:"professional_jitter"`
	MaxHashtags        int           `mapstructure:"max_hashtags"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "./data/socialbot.db")
	v.SetDefault("secret_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cron", "0 * * * *")
	v.SetDefault("days_of_news", 1)
	v.SetDefault("days_of_retention", 10)
	v.SetDefault("mute.from", "00:00")
	v.SetDefault("mute.to", "00:00")
	v.SetDefault("platforms.chat", true)
	v.SetDefault("platforms.microblog", true)
	v.SetDefault("platforms.professional", true)
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.models_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai.model_filter", "openai")
	v.SetDefault("ai.max_chars", 160)
	v.SetDefault("ai.language", "en")
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("feed.user_agent", "socialbot/1.0")
	v.SetDefault("feed.timeout", 30*time.Second)
	v.SetDefault("feed.cut_markers", []string{"Contenuto a pagamento"})
	v.SetDefault("feed.first_paragraph_only", true)
	v.SetDefault("dispatch.poll_workers", 8)
	v.SetDefault("dispatch.workers", 8)
	v.SetDefault("dispatch.publish_timeout", 30*time.Second)
	v.SetDefault("dispatch.professional_jitter", 30*time.Minute)
	v.SetDefault("dispatch.max_hashtags", 5)
	v.SetDefault("status_addr", "")
}

// Load reads the optional settings file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once. The mute window is not
// checked here; an unparsable window disables muting at run time.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret_key is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	if _, err := scheduler.Parse(c.Cron); err != nil {
		errs = append(errs, err)
	}
	if c.DaysOfNews < 0 {
		errs = append(errs, fmt.Errorf("days_of_news must not be negative, got %d", c.DaysOfNews))
	}
	if c.DaysOfRetention < 0 {
		errs = append(errs, fmt.Errorf("days_of_retention must not be negative, got %d", c.DaysOfRetention))
	}
	if c.AI.MaxChars < 1 {
		errs = append(errs, fmt.Errorf("ai.max_chars must be positive, got %d", c.AI.MaxChars))
	}
	if c.Dispatch.PollWorkers < 1 {
		errs = append(errs, fmt.Errorf("dispatch.poll_workers must be positive, got %d", c.Dispatch.PollWorkers))
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, fmt.Errorf("dispatch.workers must be positive, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.PublishTimeout < 0 || c.Dispatch.ProfessionalJitter < 0 {
		errs = append(errs, errors.New("dispatch durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Enabled returns the platform switches keyed by platform.
func (c *Config) Enabled() map[model.Platform]bool {
	return map[model.Platform]bool{
		model.PlatformChat:         c.Platforms.Chat,
		model.PlatformMicroblog:    c.Platforms.Microblog,
		model.PlatformProfessional: c.Platforms.Professional,
	}
}

// EnabledNames lists the enabled platforms in dispatch order.
func (c *Config) EnabledNames() []string {
	enabled := c.Enabled()
	var out []string
	for _, p := range model.Platforms {
		if enabled[p] {
			out = append(out, string(p))
		}
	}
	return out
}

// Enabled reports whether comments can be generated at all.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// debounce collapses the burst of events an editor produces on save.
var debounce = 500 * time.Millisecond

// Watch reloads the settings file at path whenever it changes and passes the
// new configuration to onChange. Invalid files are logged and ignored. It
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic replace-on-save is seen.
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// mu orders a pending reload against Watch returning; onChange is never
	// called once Watch has returned.
	var (
		mu      sync.Mutex
		stopped bool
	)
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Error("reload config", "path", path, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		log.Info("config reloaded", "path", path)
		onChange(cfg)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher", "error", err)
		}
	}
}
