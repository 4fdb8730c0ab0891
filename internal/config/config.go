package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Platform selects the chat front end the process serves.
type Platform string

const (
	Telegram Platform = "telegram"
	Discord  Platform = "discord"
)

// ParsePlatform maps the process argument to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case Telegram:
		return Telegram, nil
	case Discord:
		return Discord, nil
	}
	return "", fmt.Errorf("unsupported platform %q, expected telegram or discord", s)
}

// Config represents the entire configuration structure
type Config struct {
	Telegram  TelegramConfig  `toml:"telegram"`
	Discord   DiscordConfig   `toml:"discord"`
	Workers   WorkersConfig   `toml:"workers"`
	Media     MediaConfig     `toml:"media"`
	LLM       LLMConfig       `toml:"llm"`
	Roll      RollConfig      `toml:"roll"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// TelegramConfig contains Telegram Bot settings
type TelegramConfig struct {
	Token          string `toml:"token"`
	PollingTimeout int    `toml:"polling_timeout"`
	GracePeriodMs  int    `toml:"grace_period_ms"`
	SoftLimitMB    int    `toml:"soft_limit_mb"`
	HardLimitMB    int    `toml:"hard_limit_mb"`
}

// DiscordConfig contains Discord gateway settings
type DiscordConfig struct {
	Token       string `toml:"token"`
	SoftLimitMB int    `toml:"soft_limit_mb"`
	HardLimitMB int    `toml:"hard_limit_mb"`
}

// WorkersConfig bounds concurrent work.
type WorkersConfig struct {
	MaxConcurrentUpdates int `toml:"max_concurrent_updates"`
	MaxProcesses         int `toml:"max_processes"`
}

// MediaConfig contains downloader and transcoder settings
type MediaConfig struct {
	TmpDir        string   `toml:"tmp_dir"`
	MaxResolution int      `toml:"max_resolution"`
	MaxDownload   string   `toml:"max_download"`
	Proxies       []string `toml:"proxies"`
	YtDlp         string   `toml:"ytdlp"`
	FFmpeg        string   `toml:"ffmpeg"`
	FFprobe       string   `toml:"ffprobe"`
	SweepAgeHours int      `toml:"sweep_age_hours"`
}

// LLMConfig contains natural-language service settings
type LLMConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout int    `toml:"timeout"`
}

// RollConfig contains dice reveal timing
type RollConfig struct {
	AnimationDelayMs int `toml:"animation_delay_ms"`
	RevealDelayMs    int `toml:"reveal_delay_ms"`
}

// HeartbeatConfig contains the chat action interval
type HeartbeatConfig struct {
	IntervalMs int `toml:"interval_ms"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
	Format string `toml:"format"`
}

// MetricsConfig contains the optional metrics listener
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// SizeLimits returns the soft and hard upload limits in bytes for a platform.
func (c *Config) SizeLimits(p Platform) (soft, hard int64) {
	const mb = 1024 * 1024
	switch p {
	case Discord:
		return int64(c.Discord.SoftLimitMB) * mb, int64(c.Discord.HardLimitMB) * mb
	default:
		return int64(c.Telegram.SoftLimitMB) * mb, int64(c.Telegram.HardLimitMB) * mb
	}
}

// Load reads the optional configuration file, then applies environment
// overrides. An empty configPath falls back to CONFIG_PATH and the default
// locations; a missing default file is not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to load .env: %v", err)
	}

	explicit := configPath != ""
	if !explicit {
		if p := os.Getenv("CONFIG_PATH"); p != "" {
			configPath = p
			explicit = true
		} else {
			configPath = getDefaultConfigPath()
		}
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		log.Infof("Loading configuration from: %s", configPath)
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, err
	default:
		log.Infof("No configuration file at %s, using environment and defaults", configPath)
	}

	applyEnv(&cfg, os.LookupEnv)
	setDefaults(&cfg)

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}

	configDir := "config"
	if _, err := os.Stat(filepath.Join(configDir, "config.toml")); err == nil {
		return filepath.Join(configDir, "config.toml")
	}

	return "config.toml"
}

// setDefaults applies default values to configuration fields
func setDefaults(cfg *Config) {
	if cfg.Telegram.PollingTimeout == 0 {
		cfg.Telegram.PollingTimeout = 60
	}
	if cfg.Telegram.GracePeriodMs == 0 {
		cfg.Telegram.GracePeriodMs = 2000
	}
	if cfg.Telegram.SoftLimitMB == 0 {
		cfg.Telegram.SoftLimitMB = 45
	}
	if cfg.Telegram.HardLimitMB == 0 {
		cfg.Telegram.HardLimitMB = 50
	}
	if cfg.Discord.SoftLimitMB == 0 {
		cfg.Discord.SoftLimitMB = 8
	}
	if cfg.Discord.HardLimitMB == 0 {
		cfg.Discord.HardLimitMB = 8
	}
	if cfg.Workers.MaxConcurrentUpdates == 0 {
		cfg.Workers.MaxConcurrentUpdates = 2
	}
	if cfg.Workers.MaxProcesses == 0 {
		cfg.Workers.MaxProcesses = 2
	}
	if cfg.Media.TmpDir == "" {
		cfg.Media.TmpDir = "/tmp/ytdlp"
	}
	if cfg.Media.MaxResolution == 0 {
		cfg.Media.MaxResolution = 720
	}
	if cfg.Media.MaxDownload == "" {
		cfg.Media.MaxDownload = "500M"
	}
	if cfg.Media.YtDlp == "" {
		cfg.Media.YtDlp = "yt-dlp"
	}
	if cfg.Media.FFmpeg == "" {
		cfg.Media.FFmpeg = "ffmpeg"
	}
	if cfg.Media.FFprobe == "" {
		cfg.Media.FFprobe = "ffprobe"
	}
	if cfg.Media.SweepAgeHours == 0 {
		cfg.Media.SweepAgeHours = 48
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-3-5-haiku-latest"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30
	}
	if cfg.Roll.AnimationDelayMs == 0 {
		cfg.Roll.AnimationDelayMs = 2000
	}
	if cfg.Roll.RevealDelayMs == 0 {
		cfg.Roll.RevealDelayMs = 2000
	}
	if cfg.Heartbeat.IntervalMs == 0 {
		cfg.Heartbeat.IntervalMs = 4000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks if the configuration is valid for the selected platform
func (c *Config) Validate(p Platform) error {
	switch p {
	case Telegram:
		if c.Telegram.Token == "" {
			return &ConfigError{Field: "telegram.token", Message: "no TELEGRAM_TOKEN or TELEGRAM_TOKEN_FILE found"}
		}
		if c.Telegram.SoftLimitMB <= 0 || c.Telegram.HardLimitMB <= 0 {
			return &ConfigError{Field: "telegram.hard_limit_mb", Message: "size limits must be positive"}
		}
	case Discord:
		if c.Discord.Token == "" {
			return &ConfigError{Field: "discord.token", Message: "no DISCORD_TOKEN or DISCORD_TOKEN_FILE found"}
		}
		if c.Discord.SoftLimitMB <= 0 || c.Discord.HardLimitMB <= 0 {
			return &ConfigError{Field: "discord.hard_limit_mb", Message: "size limits must be positive"}
		}
	default:
		return &ConfigError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", p)}
	}
	if c.Workers.MaxConcurrentUpdates < 1 {
		return &ConfigError{Field: "workers.max_concurrent_updates", Message: "must be at least 1"}
	}
	if c.Workers.MaxProcesses < 1 {
		return &ConfigError{Field: "workers.max_processes", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
