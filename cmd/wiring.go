package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/ticketcache"
	gen "github.com/unkn0wn-root/ticketcache/genstore"
	asynchook "github.com/unkn0wn-root/ticketcache/hooks/async"
	"github.com/unkn0wn-root/ticketcache/internal/config"
	lgrus "github.com/unkn0wn-root/ticketcache/log/logrus"
	lslog "github.com/unkn0wn-root/ticketcache/log/slog"
	lzap "github.com/unkn0wn-root/ticketcache/log/zap"
	pr "github.com/unkn0wn-root/ticketcache/provider"
	"github.com/unkn0wn-root/ticketcache/provider/bigcache"
	rp "github.com/unkn0wn-root/ticketcache/provider/redis"
	"github.com/unkn0wn-root/ticketcache/provider/ristretto"
	"github.com/unkn0wn-root/ticketcache/sloghooks"
)

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagAPI != "" {
		cfg.API.BaseURL = flagAPI
	}
	if flagLogLevel != "" {
		cfg.Logger.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newZap builds the zap logger used by the dev server and the zap backend.
func newZap(cfg config.LoggerConfig) (*zap.Logger, error) {
	return lzap.NewLogger(cfg.Level, cfg.Encoding)
}

func slogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newLogger returns the cache logger for the configured backend and a sync
// function to call on exit.
func newLogger(cfg config.LoggerConfig) (ticketcache.Logger, func(), error) {
	switch cfg.Backend {
	case "logrus":
		return lgrus.LogrusLogger{E: lgrus.New(cfg.Level)}, func() {}, nil
	case "slog":
		l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Level)}))
		return lslog.Logger{L: l}, func() {}, nil
	default:
		zl, err := newZap(cfg)
		if err != nil {
			return nil, nil, err
		}
		return lzap.ZapLogger{L: zl}, func() { _ = zl.Sync() }, nil
	}
}

// newHooks reports cache events through slog, off the hot path.
func newHooks(cfg config.LoggerConfig) *asynchook.Hooks {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Level)}))
	raw := sloghooks.New(l, sloghooks.Options{SelfHealEvery: 10, FetchFailedEvery: 1})
	return asynchook.New(raw, 1, 1000)
}

// storage is the provider and generation store a session runs on, plus
// whatever must be released after the session is closed.
type storage struct {
	provider pr.Provider
	gen      gen.GenStore
	release  func() error
}

func newStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	st := &storage{release: func() error { return nil }}

	var rdb goredis.UniversalClient
	if cfg.UsesRedis() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		rdb = client
	}

	switch cfg.Cache.Provider {
	case config.ProviderRistretto:
		p, err := ristretto.New(ristretto.Config{
			NumCounters: 1_000_000,
			MaxCost:     cfg.Cache.RistrettoMaxCost,
			BufferItems: 64,
			Metrics:     true,
		})
		if err != nil {
			return nil, err
		}
		st.provider = p
	case config.ProviderRedis:
		p, err := rp.New(rp.Config{Client: rdb})
		if err != nil {
			return nil, err
		}
		st.provider = p
	default:
		p, err := bigcache.New(ctx, bigcache.Config{HardMaxCacheSizeMB: cfg.Cache.BigcacheMaxMB})
		if err != nil {
			return nil, err
		}
		st.provider = p
	}

	if cfg.Cache.GenStore == config.GenRedis {
		st.gen = gen.NewRedisGenStore(rdb, "ticketcache", cfg.Redis.GenTTL)
	}
	if rdb != nil {
		st.release = func() error {
			if err := rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
				return err
			}
			return nil
		}
	}
	return st, nil
}

func sessionOptions(cfg *config.Config, remote ticketcache.Remote, st *storage, log ticketcache.Logger, hooks ticketcache.Hooks) ticketcache.Options {
	c := cfg.Cache
	return ticketcache.Options{
		Remote:           remote,
		Provider:         st.provider,
		GenStore:         st.gen,
		Codec:            c.Codec,
		MaxDecode:        c.MaxDecode,
		PageSize:         c.PageSize,
		StorageTTL:       c.StorageTTL,
		ListFreshness:    c.ListFreshness,
		ListRetention:    c.ListRetention,
		DetailFreshness:  c.DetailFreshness,
		DetailRetention:  c.DetailRetention,
		CommentFreshness: c.CommentFreshness,
		CommentRetention: c.CommentRetention,
		CleanupInterval:  c.CleanupInterval,
		RetryBackoff:     c.RetryBackoff,
		Timeout:          cfg.API.Timeout,
		Logger:           log,
		Hooks:            hooks,
	}
}
