// Command zapgate runs the WhatsApp gateway: an HTTP API for sending messages
// and registering webhooks, a per-session connection supervisor, and the
// status reconciliation pipeline that turns raw receipt traffic into
// per-message lifecycle webhooks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmelojr/zapgate/internal/config"
	"github.com/dmelojr/zapgate/internal/httpapi"
	"github.com/dmelojr/zapgate/internal/metrics"
	"github.com/dmelojr/zapgate/internal/receipts"
	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/supervisor"
	"github.com/dmelojr/zapgate/internal/transport/wameow"
	"github.com/dmelojr/zapgate/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zapgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may be set by the host.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("ZAPGATE_CONFIG"), "path to YAML config file")
	logJSON := flag.Bool("log-json", true, "emit logs as JSON")
	flag.Parse()

	var handler slog.Handler
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	dialer, err := wameow.NewDialer(cfg.Transport, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	dispatcher := webhook.NewDispatcher(st, logger, m)
	pipeline := receipts.NewPipeline(
		st,
		receipts.NewNormalizer(logger),
		receipts.NewReconciler(st, logger),
		dispatcher,
		logger,
		m,
	)

	sup := supervisor.New(cfg.Supervisor, dialer, pipeline, logger, m)
	defer sup.Close()

	server := httpapi.New(
		httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		sup, st, logger,
	)
	if err := server.Start(); err != nil {
		return err
	}

	if cfg.AutoStart {
		autoStartSessions(ctx, dialer, sup, logger)
	}

	go purgeOwnedMarks(ctx, st, cfg.Housekeeping, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// autoStartSessions re-acquires every session that left credential material on
// disk, so previously paired sessions come back without an operator request.
func autoStartSessions(ctx context.Context, dialer *wameow.Dialer, sup *supervisor.Supervisor, logger *slog.Logger) {
	sessions, err := dialer.StoredSessions()
	if err != nil {
		logger.Error("failed to list stored sessions", "error", err)
		return
	}
	for _, session := range sessions {
		if _, err := sup.Acquire(ctx, session); err != nil {
			logger.Error("failed to auto-start session", "session", session, "error", err)
			continue
		}
		logger.Info("auto-started session", "session", session)
	}
}

func purgeOwnedMarks(ctx context.Context, st store.Store, cfg config.HousekeepingConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := st.PurgeOwnedMarks(ctx, cfg.MarkRetention)
			if err != nil {
				logger.Error("owned-mark purge failed", "error", err)
				continue
			}
			logger.Info("purged old owned-message marks", "purged", purged)
		}
	}
}
