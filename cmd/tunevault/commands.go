package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sydlexius/tunevault/internal/api"
	"github.com/sydlexius/tunevault/internal/progress"
	"github.com/sydlexius/tunevault/internal/version"
	"github.com/sydlexius/tunevault/internal/watcher"
)

const (
	shutdownTimeout = 10 * time.Second
	actionInterval  = 2 * time.Second
	actionBurst     = 10
)

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	a.seedMonitored(ctx)

	hub := progress.NewHub(logger)
	detach := hub.Attach(a.bus)
	defer hub.Close()
	defer detach()

	router := api.NewRouter(api.RouterDeps{
		Catalog:     a.catalog,
		Library:     a.library,
		Scanner:     a.scanner,
		Refresher:   a.refresh,
		Healer:      a.healer,
		Searcher:    a.aggregator,
		Maintenance: a.maintenance,
		Progress:    hub,
		Logger:      logger,
		BasePath:    cfg.Server.BasePath,
		BaseContext: ctx,
		ActionLimit: actionInterval,
		ActionBurst: actionBurst,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Watcher.Enabled {
		probeCache := watcher.NewProbeCache()
		dirs := []string{cfg.Storage.CacheDir, cfg.Storage.FavoritesDir}
		probeCache.ProbeAll(ctx, dirs, logger)
		scanFn := func(ctx context.Context) error {
			_, err := a.scanner.Scan(ctx, true)
			return err
		}
		w := watcher.NewService(scanFn, dirs, logger, probeCache)
		if cfg.Watcher.DebounceSeconds > 0 {
			w.SetDebounce(time.Duration(cfg.Watcher.DebounceSeconds) * time.Second)
		}
		go w.Start(ctx)
	}

	if hours := cfg.Maintenance.IntervalHours; hours > 0 {
		go a.maintenance.StartScheduler(ctx, time.Duration(hours)*time.Hour)
	}
	if hours := cfg.Providers.RefreshIntervalHours; hours > 0 {
		go a.refreshLoop(ctx, time.Duration(hours)*time.Hour)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("base_path", cfg.Server.BasePath),
			slog.String("version", version.Version),
			slog.String("commit", version.Commit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// refreshLoop refreshes monitored artists on every tick and, when
// auto-cache is on, downloads the tracks each pass discovered.
func (a *app) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshOnce(ctx)
		}
	}
}

func (a *app) refreshOnce(ctx context.Context) {
	start := time.Now()
	added, err := a.refresh.RefreshMonitored(ctx)
	if err != nil {
		a.logger.Error("monitored refresh failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("monitored refresh complete", slog.Int("new_tracks", added))
	if !a.cfg.Storage.AutoCache || added == 0 {
		return
	}
	n, err := a.library.CacheMonitored(ctx, start, a.cfg.Storage.AutoCacheLimit)
	if err != nil {
		a.logger.Warn("auto-cache stopped", slog.String("error", err.Error()))
	}
	a.logger.Info("auto-cache complete", slog.Int("downloaded", n))
}

func scan(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.scanner.Scan(ctx, !cmd.Bool("full"))
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	fmt.Printf("scanned %d files: %d new, %d skipped, %d removed\n", res.FilesSeen, res.NewFiles, res.Skipped, res.Removed)
	return nil
}

func artistArg(cmd *cli.Command) (string, error) {
	name := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if name == "" {
		return "", errors.New("artist name is required")
	}
	return name, nil
}

func refreshArtist(ctx context.Context, cmd *cli.Command) error {
	name, err := artistArg(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	artist, err := a.catalog.GetArtistByName(ctx, name)
	if err != nil {
		return err
	}
	if artist == nil {
		return fmt.Errorf("artist %q not found", name)
	}
	added, err := a.refresh.RefreshArtist(ctx, artist.Name)
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", artist.Name, err)
	}
	fmt.Printf("%s: %d new tracks\n", artist.Name, added)
	return nil
}

func healArtist(ctx context.Context, cmd *cli.Command) error {
	name, err := artistArg(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	artist, err := a.catalog.GetArtistByName(ctx, name)
	if err != nil {
		return err
	}
	if artist == nil {
		return fmt.Errorf("artist %q not found", name)
	}
	res, err := a.healer.HealArtist(ctx, artist.ID)
	if err != nil {
		return fmt.Errorf("healing %s: %w", artist.Name, err)
	}
	fmt.Printf("%s: checked %d, healed %d, failed %d\n", artist.Name, res.Checked, res.Healed, res.Failed)
	return nil
}
