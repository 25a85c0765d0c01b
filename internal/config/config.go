package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// DefaultReplyTemplate is the comment posted under a mirrored submission.
// {links} and {version} are substituted.
const DefaultReplyTemplate = "{links}\n\n---\n^(Lapis Mirror {version})"

// Version is reported in the user agent and the reply footer unless overridden
const Version = "0.1"

// Config holds all application configuration
type Config struct {
	// Reddit
	RedditClientID     string
	RedditClientSecret string
	RedditUsername     string
	RedditPassword     string
	Maintainer         string
	UserAgent          string
	Subreddits         []string
	ScanLimit          int // Submissions read per subreddit and poll (default: 50)

	// Polling
	PollInterval  time.Duration // Delay between two scans (default: 30s)
	RetentionDays int           // Days seen submissions and archived jobs are kept (default: 30)

	// Pipeline
	Retry      RetryConfig
	RequireAll bool // Fail the job when any media item could not be exported

	// Reply
	ReplyTemplate    string
	ReplyMaxAttempts int

	// Plugins keyed by name
	Plugins map[string]PluginConfig

	// Server
	ServerPort string

	// Paths
	ConfigDir    string
	DatabaseFile string // $CONFIG_DIR/lapis.db
	IgnoreFile   string // $CONFIG_DIR/ignore.txt

	// Logging
	LogLevel  string
	LogFormat string

	Version string
}

// RetryConfig bounds how often a failing fetch or upload is attempted
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration
}

// PluginConfig is the per-plugin section of the configuration file
type PluginConfig struct {
	Enabled        *bool                  `mapstructure:"enabled"`
	Priority       int                    `mapstructure:"priority"`
	MaxConcurrency int                    `mapstructure:"max_concurrency"`
	Settings       map[string]interface{} `mapstructure:"settings"`
}

// IsEnabled reports whether the plugin should be registered.
// Plugins are enabled unless the configuration says otherwise.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Load loads configuration from an optional YAML file and LAPIS_ environment variables.
// An empty path falls back to $CONFIG_DIR/config.yaml when that file exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAPIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("config_dir", "LAPIS_CONFIG_DIR", "CONFIG_DIR")

	setDefaults(v)

	configDir, err := resolveConfigDir(v.GetString("config_dir"))
	if err != nil {
		return nil, err
	}

	if path == "" {
		candidate := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	plugins := make(map[string]PluginConfig)
	if err := v.UnmarshalKey("plugins", &plugins); err != nil {
		return nil, fmt.Errorf("failed to parse plugins section: %w", err)
	}

	config := &Config{
		// Reddit
		RedditClientID:     v.GetString("reddit.client_id"),
		RedditClientSecret: v.GetString("reddit.client_secret"),
		RedditUsername:     v.GetString("reddit.username"),
		RedditPassword:     v.GetString("reddit.password"),
		Maintainer:         v.GetString("reddit.maintainer"),
		UserAgent:          v.GetString("reddit.user_agent"),
		Subreddits:         splitList(v.GetStringSlice("reddit.subreddits")),
		ScanLimit:          v.GetInt("reddit.scan_limit"),

		// Polling
		PollInterval:  v.GetDuration("poll_interval"),
		RetentionDays: v.GetInt("retention_days"),

		// Pipeline
		Retry: RetryConfig{
			MaxAttempts:     v.GetInt("retry.max_attempts"),
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
			Multiplier:      v.GetFloat64("retry.multiplier"),
			AttemptTimeout:  v.GetDuration("retry.attempt_timeout"),
		},
		RequireAll: v.GetBool("require_all"),

		// Reply
		ReplyTemplate:    v.GetString("reply.template"),
		ReplyMaxAttempts: v.GetInt("reply.max_attempts"),

		Plugins: plugins,

		// Server
		ServerPort: v.GetString("server_port"),

		// Paths
		ConfigDir:    configDir,
		DatabaseFile: filepath.Join(configDir, "lapis.db"),
		IgnoreFile:   filepath.Join(configDir, "ignore.txt"),

		// Logging
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		Version: v.GetString("version"),
	}

	if config.UserAgent == "" && config.Maintainer != "" {
		config.UserAgent = fmt.Sprintf("LapisMirror/%s by %s", config.Version, config.Maintainer)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reddit.scan_limit", 50)
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("retention_days", 30)

	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_interval", 2*time.Second)
	v.SetDefault("retry.max_interval", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.attempt_timeout", 60*time.Second)
	v.SetDefault("require_all", false)

	v.SetDefault("reply.template", DefaultReplyTemplate)
	v.SetDefault("reply.max_attempts", 3)

	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("version", Version)
}

func resolveConfigDir(configDir string) (string, error) {
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", "lapis"), nil
	}

	// Convert relative path to absolute path
	absPath, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
	}
	return absPath, nil
}

// splitList accepts both YAML lists and comma separated environment values
func splitList(values []string) []string {
	parts := lo.FlatMap(values, func(value string, _ int) []string {
		return strings.Split(value, ",")
	})
	parts = lo.Map(parts, func(part string, _ int) string {
		return strings.TrimPrefix(strings.TrimSpace(part), "r/")
	})
	return lo.Uniq(lo.Compact(parts))
}

// Validate checks the settings needed to run the bot against Reddit
func (c *Config) Validate() error {
	var errs []error

	if c.RedditClientID == "" {
		errs = append(errs, errors.New("reddit.client_id is required"))
	}
	if c.RedditClientSecret == "" {
		errs = append(errs, errors.New("reddit.client_secret is required"))
	}
	if c.RedditUsername == "" {
		errs = append(errs, errors.New("reddit.username is required"))
	}
	if c.RedditPassword == "" {
		errs = append(errs, errors.New("reddit.password is required"))
	}
	if c.Maintainer == "" {
		errs = append(errs, errors.New("reddit.maintainer is required"))
	}
	if len(c.Subreddits) == 0 {
		errs = append(errs, errors.New("reddit.subreddits must name at least one subreddit"))
	}
	if c.ScanLimit <= 0 || c.ScanLimit > 100 {
		errs = append(errs, fmt.Errorf("reddit.scan_limit must be between 1 and 100, got %d", c.ScanLimit))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("retry.attempt_timeout must be positive"))
	}
	if c.ReplyMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reply.max_attempts must be at least 1, got %d", c.ReplyMaxAttempts))
	}
	if !strings.Contains(c.ReplyTemplate, "{links}") {
		errs = append(errs, errors.New("reply.template must contain {links}"))
	}

	return errors.Join(errs...)
}
