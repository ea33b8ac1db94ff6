package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/telemetry"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the upload directory and serve the HTTP API",
	Long: `Start the intake watcher and the HTTP API.

Captures dropped into the intake directory (or posted to /api/v1/upload) are
decided, recorded in the ledger and moved to processed/, rejected/ or failed/.
Decisions are streamed at /api/v1/events and, when MQTT_BROKER is set,
published to MQTT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, Version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.MQTT.Broker != "" {
		publisher := events.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID)
		if err := publisher.Connect(); err != nil {
			slog.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			a.bus.AddSink(publisher)
			defer publisher.Disconnect()
		}
	}

	sched := gocron.NewScheduler(time.Local)
	window := func() time.Duration {
		return time.Duration(a.settings.Get().CooldownSeconds) * time.Second
	}
	if _, err := a.cooldown.ScheduleSweep(sched, cfg.Watch.SweepInterval, window, slog.Default()); err != nil {
		return fmt.Errorf("scheduling cooldown sweep: %w", err)
	}
	sched.StartAsync()
	defer sched.Stop()

	watcher := a.newWatcher()
	server := web.NewServer(cfg.Web, web.Deps{
		Settings:  a.settings,
		Stats:     a.stats,
		Ledger:    a.ledger,
		Gallery:   a.gallery,
		Drainer:   watcher,
		Events:    a.bus,
		Emitter:   a.bus,
		IntakeDir: cfg.Paths.IntakeDir,
	})

	slog.Info("face attendance starting",
		"version", Version,
		"mode", a.settings.Get().Mode,
		"identities", a.gallery.Len(),
		"intake", cfg.Paths.IntakeDir,
		"addr", fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
