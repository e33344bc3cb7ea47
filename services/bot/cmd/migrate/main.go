package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"kinobot/internal/util"
	"kinobot/pkg/storage"
	"kinobot/pkg/store"
	"kinobot/services/bot/internal/app"
	"kinobot/services/bot/internal/config"
)

// migrate converts legacy inline-media movies into parts and exits. It is safe
// to run repeatedly; the bot runs the same conversion from /migrate.
func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	jsonPath := flag.String("json", "", "legacy movies.json to import (overrides legacyJSONPath)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)
	if *jsonPath != "" {
		cfg.LegacyJSONPath = *jsonPath
	}
	if cfg.DatabaseURL == "" {
		util.Fatal("databaseURL is required for migration")
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}

	sources := []app.LegacySource{app.StoreLegacySource{Store: st}}
	if cfg.LegacyJSONPath != "" {
		sources = append(sources, app.JSONFileSource{Path: cfg.LegacyJSONPath})
	}
	if cfg.LegacyObjectKey != "" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		sources = append(sources, app.ObjectSource{Objects: objects, Key: cfg.LegacyObjectKey})
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	report, err := app.NewMigrator(st, sources...).Run(ctx)
	if err != nil {
		util.Fatal("migration failed", "err", err)
	}
	printReport(report)
}

func printReport(report app.MigrationReport) {
	if report.AlreadyDone {
		fmt.Fprintln(os.Stdout, "migration already completed")
		return
	}
	fmt.Fprintf(os.Stdout, "movies: %d\nparts created: %d\n", report.Movies, report.PartsCreated)
	names := make([]string, 0, len(report.Sources))
	for name := range report.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stdout, "  %s: %d records\n", name, report.Sources[name])
	}
}
