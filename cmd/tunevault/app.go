package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sydlexius/tunevault/internal/aggregator"
	"github.com/sydlexius/tunevault/internal/apicache"
	"github.com/sydlexius/tunevault/internal/catalog"
	"github.com/sydlexius/tunevault/internal/config"
	"github.com/sydlexius/tunevault/internal/covers"
	"github.com/sydlexius/tunevault/internal/database"
	"github.com/sydlexius/tunevault/internal/downloader"
	"github.com/sydlexius/tunevault/internal/event"
	"github.com/sydlexius/tunevault/internal/healer"
	"github.com/sydlexius/tunevault/internal/library"
	"github.com/sydlexius/tunevault/internal/logging"
	"github.com/sydlexius/tunevault/internal/maintenance"
	"github.com/sydlexius/tunevault/internal/provider"
	"github.com/sydlexius/tunevault/internal/provider/gdstudio"
	"github.com/sydlexius/tunevault/internal/provider/netease"
	"github.com/sydlexius/tunevault/internal/provider/qqmusic"
	"github.com/sydlexius/tunevault/internal/refresh"
	"github.com/sydlexius/tunevault/internal/scanner"
	"github.com/sydlexius/tunevault/internal/tagger"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg        *config.Config
	logManager *logging.Manager
	logger     *slog.Logger
	db         *sql.DB
	bus        *event.Bus

	catalog     *catalog.Service
	apiCache    *apicache.Cache
	aggregator  *aggregator.Aggregator
	scanner     *scanner.Service
	downloader  *downloader.Service
	healer      *healer.Service
	refresh     *refresh.Service
	library     *library.Service
	maintenance *maintenance.Service
}

// newApp loads configuration and builds every service. The caller must
// call close.
func newApp(cmd *cli.Command) (*app, error) {
	path := cmd.String("config")
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.Storage.CacheDir, cfg.Storage.FavoritesDir, cfg.Storage.UploadsDir, cfg.Storage.APICacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = logManager.Close()
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		_ = logManager.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		_ = logManager.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	a := &app{
		cfg:        cfg,
		logManager: logManager,
		logger:     logger,
		db:         db,
		bus:        event.NewBus(logger, 256),
		catalog:    catalog.NewService(db),
	}
	a.wire()
	go a.bus.Start()
	return a, nil
}

func (a *app) wire() {
	cfg, logger := a.cfg, a.logger

	a.apiCache = apicache.New(cfg.Storage.APICacheDir, time.Duration(cfg.Storage.APICacheTTLHours)*time.Hour, logger)

	// GDStudio resolves audio for every platform and backs the thin
	// download-only adapters.
	resolver := gdstudio.New(logger)
	limiter := provider.NewRateLimiterMap()
	registry := provider.NewRegistry()
	for _, name := range provider.AllProviderNames() {
		if !cfg.ProviderEnabled(name) {
			continue
		}
		switch name {
		case provider.NameQQMusic:
			registry.Register(qqmusic.New(limiter, resolver, logger))
		case provider.NameNetEase:
			registry.Register(netease.New(limiter, resolver, logger))
		default:
			registry.Register(gdstudio.NewAdapter(name, resolver, limiter, logger))
		}
	}
	a.aggregator = aggregator.New(registry, cfg.MetadataOrder(), a.apiCache, logger)

	dirs := scanner.Dirs{
		Cache:     cfg.Storage.CacheDir,
		Favorites: cfg.Storage.FavoritesDir,
		Library:   cfg.Storage.LibraryDir,
	}
	coverStore := covers.NewStore(cfg.Storage.UploadsDir, logger)
	tags := tagger.New(cfg.Downloader.TaggerWorkers, logger)

	a.scanner = scanner.NewService(a.catalog, coverStore, dirs, logger)
	a.scanner.SetEventBus(a.bus)

	bucket := downloader.NewTokenBucket(cfg.Downloader.Tokens, time.Duration(cfg.Downloader.RefillSeconds)*time.Second)
	a.downloader = downloader.New(resolver, bucket, downloader.Config{
		CacheDir:     cfg.Storage.CacheDir,
		FavoritesDir: cfg.Storage.FavoritesDir,
		LibraryDir:   cfg.Storage.LibraryDir,
		Sources:      cfg.AudioOrder(),
		FetchTimeout: time.Duration(cfg.Downloader.FetchTimeoutSeconds) * time.Second,
	}, logger)
	a.downloader.SetEventBus(a.bus)

	a.healer = healer.New(a.catalog, a.aggregator, coverStore, tags, healer.Config{
		Parallelism:     cfg.Healer.Parallelism,
		GenericPatterns: cfg.Healer.GenericCoverPatterns,
		Order:           cfg.MetadataOrder(),
	}, logger)
	a.healer.SetEventBus(a.bus)

	a.refresh = refresh.New(a.catalog, a.aggregator, a.scanner, a.healer, tags, logger)
	a.refresh.SetEventBus(a.bus)

	a.library = library.New(library.Deps{
		Catalog:    a.catalog,
		Downloader: a.downloader,
		Metadata:   a.aggregator,
		Healer:     a.healer,
		Tagger:     tags,
		Covers:     coverStore,
		Dirs:       dirs,
	}, logger)

	a.maintenance = maintenance.NewService(a.db, cfg.Database.Path, a.catalog, a.apiCache, maintenance.Config{
		RetentionDays: cfg.Storage.RetentionDays,
		CacheDir:      cfg.Storage.CacheDir,
		LibraryDir:    cfg.Storage.LibraryDir,
	}, logger)
}

// seedMonitored binds the configured monitored artists.
func (a *app) seedMonitored(ctx context.Context) {
	var seeds []library.MonitorSeed
	for source, artists := range a.cfg.Monitor {
		name, err := provider.ParseName(source)
		if err != nil {
			continue
		}
		for _, m := range artists {
			seeds = append(seeds, library.MonitorSeed{Source: name, SourceID: m.ID, Name: m.Name})
		}
	}
	if len(seeds) == 0 {
		return
	}
	created, err := a.library.SeedMonitored(ctx, seeds)
	if err != nil {
		a.logger.Error("seeding monitored artists", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("monitored artists seeded", slog.Int("configured", len(seeds)), slog.Int("created", created))
}

func (a *app) close() {
	a.bus.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", slog.String("error", err.Error()))
	}
	_ = a.logManager.Close()
}
