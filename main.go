package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"selfcare-api/api"
	"selfcare-api/catalog"
	"selfcare-api/config"
	"selfcare-api/engine"
	"selfcare-api/notify"
	"selfcare-api/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := config.RedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	store, err := newStore(cfg, rc)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	eng := engine.New(store, cat, logger)

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; Idempotency-Key headers are ignored")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, eng, auth, deduper, logger)

	pub, err := newPublisher(cfg, rc)
	if err != nil {
		log.Fatalf("notify: %v", err)
	}
	dispatcher := notify.New(eng, pub, logger, notify.WithInterval(cfg.Reminder.PollInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.Addr()).Info("selfcare api listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Info("shutdown complete")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func newStore(cfg *config.Config, rc *redis.Client) (engine.Store, error) {
	var store engine.Store
	if cfg.UseTables() {
		t, err := storage.New(cfg.Store.ConnectionString, cfg.Store.ProgressTable, cfg.Store.RemindersTable)
		if err != nil {
			return nil, err
		}
		store = t
	} else {
		log.Warn("using in-memory store; progress is lost on restart")
		store = storage.NewMemory()
	}
	if rc != nil && cfg.Redis.ProgressCacheTTL > 0 {
		store = storage.NewCache(store, rc, cfg.Redis.ProgressCacheTTL)
	}
	return store, nil
}

func newAuth(cfg config.AuthConfig) (*api.Auth, error) {
	ac := api.AuthConfig{
		Audience:    cfg.Audience,
		LocalMode:   cfg.LocalMode,
		LocalSecret: cfg.LocalSecret,
		TestMode:    cfg.TestMode,
		TestSecret:  cfg.TestSecret,
		KeyCacheTTL: cfg.KeyCacheTTL,
	}
	if cfg.TestMode || cfg.LocalMode != "" {
		return api.NewAuth(nil, ac)
	}
	ac.Issuer = "https://" + cfg.Domain + "/"
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain), keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, ac)
}

func newPublisher(cfg *config.Config, rc *redis.Client) (notify.Publisher, error) {
	var pubs notify.MultiPublisher
	if cfg.Store.NotifyQueue != "" {
		q, err := notify.NewQueuePublisher(cfg.Store.ConnectionString, cfg.Store.NotifyQueue)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, q)
	}
	if cfg.Reminder.Channel != "" && rc != nil {
		pubs = append(pubs, notify.NewRedisPublisher(rc, cfg.Reminder.Channel))
	}
	switch len(pubs) {
	case 0:
		return notify.LogPublisher{Logger: log.StandardLogger()}, nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}
