package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Scum     ScumConfig     `yaml:"scum"`
	Database DatabaseConfig `yaml:"database"`
}

// DiscordConfig holds gateway and REST settings for the chat relay
type DiscordConfig struct {
	// Token is never written to the config file; it is read from the
	// DISCORD_TOKEN environment variable (or a .env file next to the
	// config). Kept here so the rest of the code has one config surface.
	Token string `yaml:"-"`

	ChannelID              string        `yaml:"channel_id"`
	ActivityUpdateInterval time.Duration `yaml:"activity_update_interval"`
	RecoveryCooldown       time.Duration `yaml:"recovery_cooldown"`
	MaxRecoveryAttempts    int           `yaml:"max_recovery_attempts"`
	HandshakeTimeout       time.Duration `yaml:"handshake_timeout"`
}

// ScumConfig holds game server settings
type ScumConfig struct {
	LogPath      string        `yaml:"log_path"`
	Address      string        `yaml:"address"` // host:port of the A2S query endpoint
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPlayers   int           `yaml:"max_players"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and the environment
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Discord.ActivityUpdateInterval == 0 {
		cfg.Discord.ActivityUpdateInterval = 30 * time.Second
	}
	if cfg.Discord.RecoveryCooldown == 0 {
		cfg.Discord.RecoveryCooldown = 30 * time.Second
	}
	if cfg.Discord.MaxRecoveryAttempts == 0 {
		cfg.Discord.MaxRecoveryAttempts = 3
	}
	if cfg.Discord.HandshakeTimeout == 0 {
		cfg.Discord.HandshakeTimeout = 60 * time.Second
	}
	if cfg.Scum.PollInterval == 0 {
		cfg.Scum.PollInterval = 30 * time.Second
	}
	if cfg.Scum.MaxPlayers == 0 {
		cfg.Scum.MaxPlayers = 64
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/scumbot/scumbot.db"
	}

	// Secrets come from the environment, optionally seeded from .env
	godotenv.Load()
	cfg.Discord.Token = os.Getenv("DISCORD_TOKEN")

	return &cfg, nil
}

// Save writes the configuration to a YAML file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
