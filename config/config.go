// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

// Store kinds accepted by STORE.
const (
	StoreMemory = "memory"
	StoreTables = "tables"
)

// Config is the full service configuration.
type Config struct {
	Debug      bool   `env:"DEBUG" env-default:"false"`
	ListenAddr string `env:"LISTEN_ADDR"`
	// Port is set by the Functions host and wins over ListenAddr when present.
	Port        string `env:"FUNCTIONS_CUSTOMHANDLER_PORT"`
	CatalogPath string `env:"CATALOG_PATH"`

	Store    StoreConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Reminder ReminderConfig
}

// StoreConfig selects the progress store and its Azure Storage resources.
type StoreConfig struct {
	Kind             string `env:"STORE" env-default:"memory"`
	ConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	ProgressTable    string `env:"PROGRESS_TABLE" env-default:"SelfCareProgress"`
	RemindersTable   string `env:"REMINDERS_TABLE" env-default:"SelfCareReminders"`
	NotifyQueue      string `env:"NOTIFY_QUEUE"`
}

// RedisConfig drives the progress cache and the idempotency deduper.
type RedisConfig struct {
	ConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	ProgressCacheTTL time.Duration `env:"PROGRESS_CACHE_TTL" env-default:"5m"`
	DeduperTTL       time.Duration `env:"DEDUPER_TTL" env-default:"24h"`
}

// AuthConfig holds the JWT verification settings.
type AuthConfig struct {
	Domain      string        `env:"AUTH0_DOMAIN"`
	Audience    string        `env:"AUTH0_AUDIENCE"`
	LocalMode   string        `env:"LOCAL_AUTH_MODE"`
	LocalSecret string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	TestMode    bool          `env:"AUTH0_TEST_MODE" env-default:"false"`
	TestSecret  string        `env:"TEST_JWT_SECRET"`
	KeyCacheTTL time.Duration `env:"JWKS_CACHE_TTL" env-default:"15m"`
}

// ReminderConfig controls the reminder dispatcher.
type ReminderConfig struct {
	PollInterval time.Duration `env:"REMINDER_POLL_INTERVAL" env-default:"30s"`
	Channel      string        `env:"REMINDER_CHANNEL"`
}

// Read parses the environment (and a .env file if one exists) without
// cross-field validation.
func Read() (*Config, error) {
	cfg := new(Config)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and validates the API configuration.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Kind) {
	case StoreMemory:
	case StoreTables:
		if c.Store.ConnectionString == "" {
			return errors.New("STORAGE_CONNECTION_STRING is required when STORE=tables")
		}
		if c.Store.ProgressTable == "" || c.Store.RemindersTable == "" {
			return errors.New("missing storage table config")
		}
	default:
		return errors.New("STORE must be memory or tables")
	}
	if c.Store.NotifyQueue != "" && c.Store.ConnectionString == "" {
		return errors.New("NOTIFY_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if c.Redis.ProgressCacheTTL < 0 {
		return errors.New("invalid PROGRESS_CACHE_TTL")
	}
	if c.Redis.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL")
	}
	if c.Reminder.PollInterval <= 0 {
		return errors.New("invalid REMINDER_POLL_INTERVAL")
	}
	if c.Reminder.Channel != "" && c.Redis.ConnectionString == "" {
		return errors.New("REMINDER_CHANNEL requires REDIS_CONNECTION_STRING")
	}
	if !c.Auth.TestMode && c.Auth.LocalMode == "" && (c.Auth.Domain == "" || c.Auth.Audience == "") {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// Addr is the address the HTTP server listens on.
func (c *Config) Addr() string {
	if c.Port != "" {
		return ":" + c.Port
	}
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return ":8080"
}

// UseTables reports whether the Azure Tables store is selected.
func (c *Config) UseTables() bool {
	return strings.EqualFold(c.Store.Kind, StoreTables)
}

// RedisOptions accepts both redis:// URLs and the Azure Cache for Redis
// "host:port,password=...,ssl=True" form.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	if opts.Addr == "" {
		return nil, errors.New("redis connection string has no address")
	}
	return opts, nil
}
