package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL    string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// SecretsKeyHex is the hex-encoded 32-byte key used to encrypt
	// destination credentials at rest.
	SecretsKeyHex string

	// AssetsDir is the directory holding spool images referenced by the
	// inventory tables. The snapshot builder reads from it and the restorer
	// writes into it.
	AssetsDir string

	// LocalBackupDir is the base directory for the "local" destination.
	LocalBackupDir string

	// AdapterTimeout bounds every outbound destination call.
	AdapterTimeout time.Duration

	// HistoryLimit caps backup records kept per (user, destination).
	// Zero means unbounded.
	HistoryLimit int

	// OAuth client registrations per drive provider.
	GoogleClientID       string
	GoogleClientSecret   string
	DropboxClientID      string
	DropboxClientSecret  string
	OneDriveClientID     string
	OneDriveClientSecret string

	// OAuthRedirectURL is the callback this server registered with the
	// providers, e.g. https://vault.example.com/api/v1/backup/oauth/callback.
	OAuthRedirectURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServiceName:    getEnv("SERVICE_NAME", "backup-api"),
		SecretsKeyHex:  getEnv("SECRETS_KEY", ""),
		AssetsDir:      getEnv("ASSETS_DIR", "/var/lib/spoolvault/assets"),
		LocalBackupDir: getEnv("LOCAL_BACKUP_DIR", "/var/lib/spoolvault/backups"),
		AdapterTimeout: getEnvDuration("ADAPTER_TIMEOUT", 60*time.Second),
		HistoryLimit:   getEnvInt("BACKUP_HISTORY_LIMIT", 50),

		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
		DropboxClientID:      getEnv("DROPBOX_CLIENT_ID", ""),
		DropboxClientSecret:  getEnv("DROPBOX_CLIENT_SECRET", ""),
		OneDriveClientID:     getEnv("ONEDRIVE_CLIENT_ID", ""),
		OneDriveClientSecret: getEnv("ONEDRIVE_CLIENT_SECRET", ""),
		OAuthRedirectURL:     getEnv("OAUTH_REDIRECT_URL", ""),
	}

	return cfg, nil
}

// Validate checks that the fields required to run the given service are set.
func (c *Config) Validate(service string) error {
	switch service {
	case "backup-api":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.SecretsKeyHex == "" {
			return fmt.Errorf("SECRETS_KEY is required")
		}
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("BACKUP_HISTORY_LIMIT must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
