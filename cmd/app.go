package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kozaktomas/face-attendance/internal/biometrics"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/cooldown"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/engine"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/intake"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/resolver"
	"github.com/kozaktomas/face-attendance/internal/stats"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	settings *config.SettingsStore
	bus      *events.Bus
	gallery  *gallery.Gallery
	resolver *resolver.Resolver
	ledger   ledger.Store
	stats    *stats.Aggregator
	cooldown *cooldown.Tracker
	engine   *engine.Engine

	closers []func() error
}

// newApp opens the settings, gallery and ledger and builds the decision
// engine around them. Callers must Close the app.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		bus:      events.NewBus(events.LogSink{Logger: slog.Default()}),
		stats:    stats.New(),
		cooldown: cooldown.New(),
	}

	settings, err := openSettings(cfg)
	if err != nil {
		return nil, err
	}
	a.settings = settings

	backend, err := openGalleryBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	g, err := gallery.Open(ctx, backend, gallery.WithEmitter(a.bus))
	if err != nil {
		backend.Close()
		return nil, err
	}
	a.gallery = g
	a.closers = append(a.closers, g.Close)

	metric, err := resolver.ParseMetric(cfg.Face.Metric)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.resolver = resolver.New(g, metric)

	store, err := openLedger(ctx, cfg, settings.Get().Mode)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = store
	a.closers = append(a.closers, store.Close)

	mover, err := intake.NewMover(cfg.Paths.ArchiveDirs())
	if err != nil {
		a.Close()
		return nil, err
	}

	face := biometrics.NewFaceClient(cfg.Face.URL, cfg.Face.Timeout)
	a.engine, err = engine.New(engine.Deps{
		Settings:  settings,
		Detector:  face,
		Extractor: face,
		Liveness:  face,
		Resolver:  a.resolver,
		Cooldown:  a.cooldown,
		Ledger:    store,
		Archiver:  mover,
		Stats:     a.stats,
	}, engine.WithEmitter(a.bus))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the gallery and ledger.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openSettings loads the runtime settings. On first run the detection
// threshold is seeded from FACE_MIN_DETECTION_SCORE.
func openSettings(cfg *config.Config) (*config.SettingsStore, error) {
	_, statErr := os.Stat(cfg.Settings.Path)
	settings, err := config.OpenSettings(cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	if errors.Is(statErr, os.ErrNotExist) {
		if _, err := settings.Update(func(s *config.Settings) {
			s.MinDetectionScore = cfg.Face.MinDetectionScore
		}); err != nil {
			return nil, fmt.Errorf("seed settings: %w", err)
		}
	}
	return settings, nil
}

func openGalleryBackend(ctx context.Context, cfg *config.Config) (gallery.Backend, error) {
	if cfg.Gallery.Backend != "postgres" {
		return gallery.NewFileBackend(cfg.Gallery.Path), nil
	}
	pool, err := database.Open(ctx, database.Postgres, cfg.Database.URL, database.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect gallery database: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate gallery database: %w", err)
	}
	return gallery.NewPostgresBackend(pool), nil
}

// openLedger opens the configured ledger. A new CSV file uses the layout of
// the current mode; an existing one keeps its own.
func openLedger(ctx context.Context, cfg *config.Config, mode config.Mode) (ledger.Store, error) {
	if cfg.Ledger.Backend == "csv" {
		store, err := ledger.OpenCSV(cfg.Ledger.Path, ledger.SchemaForMode(mode))
		if err != nil {
			return nil, err
		}
		if store.Schema() != ledger.SchemaForMode(mode) {
			slog.Warn("ledger file layout differs from mode", "path", cfg.Ledger.Path, "schema", store.Schema(), "mode", mode)
		}
		return store, nil
	}
	dialect, err := database.ParseDialect(cfg.Ledger.Backend)
	if err != nil {
		return nil, err
	}
	store, err := ledger.OpenSQL(ctx, dialect, cfg.Ledger.DSN, database.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", dialect, err)
	}
	return store, nil
}

// newWatcher builds the intake watcher feeding the engine.
func (a *app) newWatcher() *intake.Watcher {
	return intake.NewWatcher(a.cfg.Paths.IntakeDir, a.engine.HandleCapture,
		intake.WithPollInterval(a.cfg.Watch.PollInterval),
		intake.WithSettleDelay(a.cfg.Watch.SettleDelay),
		intake.WithConcurrency(a.cfg.Watch.Concurrency),
	)
}
