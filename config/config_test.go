package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_TEST_MODE", "true")
	t.Setenv("TEST_JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UseTables() {
		t.Fatalf("expected memory store by default")
	}
	if cfg.Redis.DeduperTTL != 24*time.Hour {
		t.Fatalf("deduper ttl = %v", cfg.Redis.DeduperTTL)
	}
	if cfg.Redis.ProgressCacheTTL != 5*time.Minute {
		t.Fatalf("cache ttl = %v", cfg.Redis.ProgressCacheTTL)
	}
	if cfg.Reminder.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.Reminder.PollInterval)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestLoadFunctionsPortWins(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != ":7071" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"tables without connection", map[string]string{"STORE": "tables"}},
		{"unknown store", map[string]string{"STORE": "sqlite"}},
		{"queue without connection", map[string]string{"NOTIFY_QUEUE": "reminders"}},
		{"zero deduper ttl", map[string]string{"DEDUPER_TTL": "0s"}},
		{"channel without redis", map[string]string{"REMINDER_CHANNEL": "reminders"}},
		{"bad duration", map[string]string{"REMINDER_POLL_INTERVAL": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadRequiresAuth0OutsideTestMode(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "false")
	t.Setenv("LOCAL_AUTH_MODE", "")
	t.Setenv("AUTH0_DOMAIN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing Auth0 config error")
	}
	t.Setenv("AUTH0_DOMAIN", "example.auth0.com")
	t.Setenv("AUTH0_AUDIENCE", "selfcare")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	opts, err = RedisOptions("cache.redis.example.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("azure: %v", err)
	}
	if opts.Addr != "cache.redis.example.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatalf("expected error for empty string")
	}
}

func TestReadSkipsValidation(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "false")
	t.Setenv("LOCAL_AUTH_MODE", "")
	t.Setenv("AUTH0_DOMAIN", "")
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("NOTIFY_QUEUE", "selfcare-reminders")
	cfg, err := Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Store.ProgressTable != "SelfCareProgress" || cfg.Store.NotifyQueue != "selfcare-reminders" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
}
