// Package config provides configuration management for claudegram.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the claudegram bot.
type Config struct {
	// TelegramBotToken is the token from @BotFather.
	TelegramBotToken string

	// AllowedUser is the single Telegram username permitted to talk to
	// the bot. Everyone else is ignored.
	AllowedUser string

	// ClaudeCLIPath is the claude binary invoked for each request.
	ClaudeCLIPath string

	// WorkspaceDir holds per-user working directories the CLI runs in.
	WorkspaceDir string

	// DataDir is the directory for persistent data (sessions, media,
	// run history).
	DataDir string

	// SessionTimeout is the inactivity span after which a fresh session
	// supersedes the active one.
	SessionTimeout time.Duration

	// ServerAddr is the address the HTTP API listens on (e.g., ":7081").
	ServerAddr string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("CLAUDEGRAM_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	workspaceDir := envOr("CLAUDEGRAM_WORKSPACE_DIR", filepath.Join(dataDir, "workspace"))
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AllowedUser:      os.Getenv("CLAUDEGRAM_ALLOWED_USER"),
		ClaudeCLIPath:    envOr("CLAUDE_CLI_PATH", "claude"),
		WorkspaceDir:     workspaceDir,
		DataDir:          dataDir,
		SessionTimeout:   envOrDuration("CLAUDEGRAM_SESSION_TIMEOUT", 24*time.Hour),
		ServerAddr:       envOr("CLAUDEGRAM_ADDR", ":7081"),
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.AllowedUser == "" {
		return fmt.Errorf("CLAUDEGRAM_ALLOWED_USER is required")
	}
	return nil
}

// SessionsDir is where per-user session files live.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// MediaDir is where downloaded attachments are stored.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// HistoryDBPath is the run-history SQLite database file.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "claudegram.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudegram"
	}
	return filepath.Join(home, ".claudegram")
}
