package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"guildpulse/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var ErrMissingToken = errors.New("DISCORD_TOKEN is required")

type Config struct {
	DiscordToken string        `yaml:"discord_token"`
	LogLevel     string        `yaml:"log_level"`
	Storage      StorageConfig `yaml:"storage"`
	Health       HealthConfig  `yaml:"health"`
	StatChannels StatConfig    `yaml:"stat_channels"`
	Tickets      TicketConfig  `yaml:"tickets"`
	Embeds       EmbedConfig   `yaml:"embeds"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	DatabaseURL  string `yaml:"database_url"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type StatConfig struct {
	RefreshMinutes int `yaml:"refresh_minutes"`
}

type TicketConfig struct {
	CloseDelaySeconds int `yaml:"close_delay_seconds"`
}

type EmbedConfig struct {
	Brand  string      `yaml:"brand"`
	Colors EmbedColors `yaml:"colors"`
}

type EmbedColors struct {
	Primary int `yaml:"primary"`
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:       storage.DriverFile,
			DataDir:      "data",
			DatabasePath: "data/guildpulse.db",
		},
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		StatChannels: StatConfig{RefreshMinutes: 5},
		Tickets:      TicketConfig{CloseDelaySeconds: 10},
		Embeds: EmbedConfig{
			Brand: "4 Dudes Esports",
			Colors: EmbedColors{
				Primary: 0x0099FF,
				Success: 0x00FF00,
				Warning: 0xFFD700,
				Error:   0xFF6B6B,
			},
		},
	}
}

// Load reads defaults, then the YAML file, then the environment. The
// token is not checked here so that offline commands work without it.
func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	cfg.Storage.Driver = storage.NormalizeDriver(cfg.Storage.Driver)
	if cfg.StatChannels.RefreshMinutes <= 0 {
		cfg.StatChannels.RefreshMinutes = 5
	}
	if cfg.Tickets.CloseDelaySeconds < 0 {
		cfg.Tickets.CloseDelaySeconds = 0
	}

	return cfg, nil
}

// Validate checks what the bot needs to connect.
func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	return nil
}

// StorageOptions maps the storage section onto backend options.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver: c.Storage.Driver,
		Dir:    c.Storage.DataDir,
		Path:   c.Storage.DatabasePath,
		URL:    c.Storage.DatabaseURL,
	}
}

func (c Config) StatRefreshInterval() time.Duration {
	return time.Duration(c.StatChannels.RefreshMinutes) * time.Minute
}

func (c Config) TicketCloseDelay() time.Duration {
	return time.Duration(c.Tickets.CloseDelaySeconds) * time.Second
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Storage.Driver = envString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DataDir = envString("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.DatabasePath = envString("DATABASE_PATH", cfg.Storage.DatabasePath)
	cfg.Storage.DatabaseURL = envString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.StatChannels.RefreshMinutes = envInt("STAT_REFRESH_MINUTES", cfg.StatChannels.RefreshMinutes)
	cfg.Tickets.CloseDelaySeconds = envInt("TICKET_CLOSE_DELAY_SECONDS", cfg.Tickets.CloseDelaySeconds)
	cfg.Embeds.Brand = envString("BRAND_FOOTER", cfg.Embeds.Brand)
	cfg.Embeds.Colors.Primary = envInt("EMBED_COLOR_PRIMARY", cfg.Embeds.Colors.Primary)
	cfg.Embeds.Colors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.Embeds.Colors.Success)
	cfg.Embeds.Colors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Embeds.Colors.Warning)
	cfg.Embeds.Colors.Error = envInt("EMBED_COLOR_ERROR", cfg.Embeds.Colors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// envInt accepts decimal and 0x-prefixed hex, so colors can be set either way.
func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
