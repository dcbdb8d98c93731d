package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Workspace string         `json:"workspace" env:"GRABBOT_WORKSPACE"`
	Channels  ChannelsConfig `json:"channels"`
	Fetch     FetchConfig    `json:"fetch"`
	Delivery  DeliveryConfig `json:"delivery"`
	Reporter  ReporterConfig `json:"reporter"`
	Limits    LimitsConfig   `json:"limits"`
	History   HistoryConfig  `json:"history"`
	Cleanup   CleanupConfig  `json:"cleanup"`
	Logging   LoggingConfig  `json:"logging"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" env:"GRABBOT_CHANNELS_TELEGRAM_ENABLED"`
	Token   string `json:"token" env:"GRABBOT_CHANNELS_TELEGRAM_TOKEN"`
	Proxy   string `json:"proxy" env:"GRABBOT_CHANNELS_TELEGRAM_PROXY"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" env:"GRABBOT_CHANNELS_DISCORD_ENABLED"`
	Token   string `json:"token" env:"GRABBOT_CHANNELS_DISCORD_TOKEN"`
}

// FetchConfig is handed to the yt-dlp wrapper mostly verbatim; the knobs are
// parameters of the external fetch tool, not behavior of this program.
type FetchConfig struct {
	Binary              string `json:"binary" env:"GRABBOT_FETCH_BINARY"`
	FFmpegLocation      string `json:"ffmpeg_location" env:"GRABBOT_FETCH_FFMPEG_LOCATION"`
	CookieFile          string `json:"cookie_file" env:"GRABBOT_FETCH_COOKIE_FILE"`
	Retries             int    `json:"retries" env:"GRABBOT_FETCH_RETRIES"`
	FragmentRetries     int    `json:"fragment_retries" env:"GRABBOT_FETCH_FRAGMENT_RETRIES"`
	ConcurrentFragments int    `json:"concurrent_fragments" env:"GRABBOT_FETCH_CONCURRENT_FRAGMENTS"`
	ProbeTimeoutSeconds int    `json:"probe_timeout_seconds" env:"GRABBOT_FETCH_PROBE_TIMEOUT_SECONDS"`
}

type DeliveryConfig struct {
	MaxVideoSizeMB int64 `json:"max_video_size_mb" env:"GRABBOT_DELIVERY_MAX_VIDEO_SIZE_MB"`
}

type ReporterConfig struct {
	IntervalSeconds     int `json:"interval_seconds" env:"GRABBOT_REPORTER_INTERVAL_SECONDS"`
	InitialDelaySeconds int `json:"initial_delay_seconds" env:"GRABBOT_REPORTER_INITIAL_DELAY_SECONDS"`
	StaleAfterSeconds   int `json:"stale_after_seconds" env:"GRABBOT_REPORTER_STALE_AFTER_SECONDS"`
}

type LimitsConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"GRABBOT_LIMITS_REQUESTS_PER_MINUTE"`
	RequestBurst      int `json:"request_burst" env:"GRABBOT_LIMITS_REQUEST_BURST"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled" env:"GRABBOT_HISTORY_ENABLED"`
	Path    string `json:"path" env:"GRABBOT_HISTORY_PATH"`
}

type CleanupConfig struct {
	Enabled     bool   `json:"enabled" env:"GRABBOT_CLEANUP_ENABLED"`
	Schedule    string `json:"schedule" env:"GRABBOT_CLEANUP_SCHEDULE"`
	MaxAgeHours int    `json:"max_age_hours" env:"GRABBOT_CLEANUP_MAX_AGE_HOURS"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"GRABBOT_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"GRABBOT_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"GRABBOT_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"GRABBOT_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.grabbot",
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: false},
			Discord:  DiscordConfig{Enabled: false},
		},
		Fetch: FetchConfig{
			Binary:              "yt-dlp",
			FFmpegLocation:      "ffmpeg",
			Retries:             5,
			FragmentRetries:     5,
			ConcurrentFragments: 8,
			ProbeTimeoutSeconds: 30,
		},
		Delivery: DeliveryConfig{
			MaxVideoSizeMB: 2000,
		},
		Reporter: ReporterConfig{
			IntervalSeconds:     3,
			InitialDelaySeconds: 5,
			StaleAfterSeconds:   300,
		},
		Limits: LimitsConfig{
			RequestsPerMinute: 10,
			RequestBurst:      3,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "", // defaults to <workspace>/history.db
		},
		Cleanup: CleanupConfig{
			Enabled:     true,
			Schedule:    "0 4 * * *",
			MaxAgeHours: 6,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: true,
			FilePath:    "~/.grabbot/grabbot.log",
			MaxSizeMB:   50,
		},
	}
}

// DefaultConfigPath is where LoadConfig looks when no -config flag is given.
func DefaultConfigPath() string {
	return filepath.Join(expandHome("~/.grabbot"), "config.json")
}

// LoadConfig reads the JSON config file (if present) over the defaults, then
// applies GRABBOT_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace)
}

func (c *Config) ScratchPath() string {
	return filepath.Join(c.WorkspacePath(), "scratch")
}

func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return expandHome(c.History.Path)
	}
	return filepath.Join(c.WorkspacePath(), "history.db")
}

func (c *Config) MaxVideoBytes() int64 {
	return c.Delivery.MaxVideoSizeMB * 1024 * 1024
}

func (c *Config) ReporterInterval() time.Duration {
	return time.Duration(c.Reporter.IntervalSeconds) * time.Second
}

func (c *Config) ReporterInitialDelay() time.Duration {
	return time.Duration(c.Reporter.InitialDelaySeconds) * time.Second
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Reporter.StaleAfterSeconds) * time.Second
}

func (c *Config) MaxScratchAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours) * time.Hour
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
