package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Cache.Provider != ProviderBigcache || cfg.Cache.GenStore != GenLocal || cfg.Cache.PageSize != 12 {
		t.Fatalf("cache defaults: %+v", cfg.Cache)
	}
	if cfg.Cache.DetailRetention != 30*time.Minute || cfg.Cache.CommentFreshness != 2*time.Minute {
		t.Fatalf("freshness defaults: %+v", cfg.Cache)
	}
	if cfg.UsesRedis() {
		t.Fatalf("defaults must not need redis")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TICKETCACHE_PROVIDER", "Redis")
	t.Setenv("TICKETCACHE_REDIS_DB", "3")
	t.Setenv("TICKETCACHE_LIST_FRESHNESS", "90s")
	t.Setenv("TICKETCACHE_API_TIMEOUT", "4")
	t.Setenv("TICKETCACHE_PAGE_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Provider != ProviderRedis || !cfg.UsesRedis() || cfg.Redis.DB != 3 {
		t.Fatalf("redis settings: %+v %+v", cfg.Cache, cfg.Redis)
	}
	if cfg.Cache.ListFreshness != 90*time.Second || cfg.API.Timeout != 4*time.Second {
		t.Fatalf("durations: %v %v", cfg.Cache.ListFreshness, cfg.API.Timeout)
	}
	if cfg.Cache.PageSize != 12 {
		t.Fatalf("unparsable int must fall back, got %d", cfg.Cache.PageSize)
	}

	t.Setenv("TICKETCACHE_REDIS_DB", "x")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad REDIS_DB")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TICKETCACHE_CODEC=cbor\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	os.Unsetenv("TICKETCACHE_CODEC")
	t.Cleanup(func() { os.Unsetenv("TICKETCACHE_CODEC") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Codec != "cbor" {
		t.Fatalf("codec from .env: %q", cfg.Cache.Codec)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]func(*Config){
		"provider":  func(c *Config) { c.Cache.Provider = "memcached" },
		"genstore":  func(c *Config) { c.Cache.GenStore = "etcd" },
		"codec":     func(c *Config) { c.Cache.Codec = "gob" },
		"backend":   func(c *Config) { c.Logger.Backend = "zerolog" },
		"PAGE_SIZE": func(c *Config) { c.Cache.PageSize = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Fatalf("want error mentioning %s, got %v", name, err)
			}
		})
	}
}
