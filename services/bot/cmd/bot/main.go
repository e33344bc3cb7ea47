package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"kinobot/internal/ratelimit"
	"kinobot/internal/util"
	"kinobot/pkg/gate"
	"kinobot/pkg/session"
	"kinobot/pkg/storage"
	"kinobot/pkg/store"
	"kinobot/services/bot/internal/app"
	"kinobot/services/bot/internal/config"
	"kinobot/services/bot/internal/server"
	"kinobot/services/bot/internal/telegram"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, _ := config.ParseDuration(cfg.SessionTTL)
	backupExpiry, _ := config.ParseDuration(cfg.BackupExpiry)
	gateCacheTTL, _ := config.ParseDuration(cfg.MembershipCacheTTL)

	st, err := openStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			util.Fatal("failed to connect redis", "err", err)
		}
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		objects = minioStore
	}

	tg, err := telegram.New(telegram.Config{Token: cfg.BotToken})
	if err != nil {
		util.Fatal("failed to init telegram client", "err", err)
	}

	appCfg := app.Config{
		Store:        st,
		Transport:    tg,
		Objects:      objects,
		Migrator:     app.NewMigrator(st, migrationSources(cfg, st, objects)...),
		OperatorIDs:  cfg.AdminIDs,
		ContactURL:   cfg.ContactURL,
		BackupExpiry: backupExpiry,
	}
	gateCfg := gate.Config{
		Source:      st,
		Querier:     tg,
		Timeout:     cfg.MembershipTimeout(),
		Concurrency: cfg.MembershipConcurrency,
	}
	if redisClient != nil {
		appCfg.Sessions = session.NewRedisStore(redisClient, sessionTTL)
		appCfg.Staging = session.NewRedisStaging(redisClient, sessionTTL)
		if cache := gate.NewRedisCache(redisClient, gateCacheTTL); cache != nil {
			gateCfg.Cache = cache
		}
		if cfg.UserRateLimitPerMinute > 0 {
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisClient, "", cfg.UserRateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal("failed to init rate limiter", "err", err)
			}
			appCfg.Limiter = limiter
		}
	}
	appCfg.Gate = gate.NewEvaluator(gateCfg)

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
	report, err := appCore.Bootstrap(migrateCtx)
	cancelMigrate()
	if err != nil {
		util.Fatal("failed to migrate legacy catalog", "err", err)
	}
	logger.Info("legacy catalog ready",
		"already_done", report.AlreadyDone,
		"movies", report.Movies,
		"parts_created", report.PartsCreated,
	)

	sources, err := webhookSources(cfg.WebhookSources)
	if err != nil {
		util.Fatal("failed to parse webhook sources", "err", err)
	}
	var trusted *util.IPAllowlist
	if len(cfg.TrustedProxies) > 0 {
		if trusted, err = util.NewIPAllowlist(cfg.TrustedProxies); err != nil {
			util.Fatal("failed to parse trusted proxies", "err", err)
		}
	}
	httpServer, err := server.New(server.Config{
		Handler:         appCore,
		WebhookPath:     cfg.WebhookPath,
		WebhookSecret:   cfg.WebhookSecret,
		SourceAllowlist: sources,
		TrustedProxies:  trusted,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	if url := cfg.WebhookURL(); url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		changed, err := tg.EnsureWebhook(ctx, url, cfg.WebhookSecret)
		cancel()
		if err != nil {
			util.Fatal("failed to register webhook", "err", err)
		}
		logger.Info("webhook ready", "url", url, "changed", changed)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("bot server listening", "addr", addr, "bot", tg.Username())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func openStore(dsn string) (store.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Warn("databaseURL not set, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(dsn)
}

func migrationSources(cfg config.FileConfig, st store.Store, objects storage.ObjectStore) []app.LegacySource {
	sources := []app.LegacySource{app.StoreLegacySource{Store: st}}
	if cfg.LegacyJSONPath != "" {
		sources = append(sources, app.JSONFileSource{Path: cfg.LegacyJSONPath})
	}
	if cfg.LegacyObjectKey != "" && objects != nil {
		sources = append(sources, app.ObjectSource{Objects: objects, Key: cfg.LegacyObjectKey})
	}
	return sources
}

// webhookSources expands the "telegram" alias; an empty list accepts any caller.
func webhookSources(entries []string) (*util.IPAllowlist, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var expanded []string
	for _, entry := range entries {
		if strings.EqualFold(entry, "telegram") {
			expanded = append(expanded, util.TelegramWebhookRanges...)
			continue
		}
		expanded = append(expanded, entry)
	}
	return util.NewIPAllowlist(expanded)
}
