// Command transitwatchd runs the trip reconciliation core as a daemon: it
// owns the trip store, keeps one schedule-view reconciler per route and one
// cross-route dashboard reconciler running, and serves the merged snapshots
// over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nimbus.transitwatch.org/internal/api"
	"nimbus.transitwatch.org/internal/app"
	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/config"
	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/metrics"
	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/reconcile"
	"nimbus.transitwatch.org/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var routesFlag string
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics listen address (empty disables)")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite trip store path (empty for in-memory)")
	flag.StringVar(&cfg.GTFSPath, "gtfs", cfg.GTFSPath, "Static GTFS zip path or URL to seed reference data")
	flag.StringVar(&routesFlag, "routes", "", "Comma separated route ids to reconcile (default: all)")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, parseLevel(cfg.LogLevel))
	log := logging.ForComponent(logger, "daemon")

	s, err := openStore(cfg)
	if err != nil {
		logging.LogError(log, "opening trip store", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.GTFSPath != "" {
		if err := catalog.ImportGTFSFromSource(ctx, s, cfg.GTFSPath); err != nil {
			logging.LogError(log, "seeding reference data", err)
			os.Exit(1)
		}
		logging.LogOperation(log, "reference data seeded", slog.String("source", cfg.GTFSPath))
	}

	cat := catalog.New(s)
	if err := cat.LoadReferences(ctx); err != nil {
		logging.LogError(log, "loading reference data", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = collector.Serve(cfg.MetricsAddr)
	}

	hub := api.NewHub()

	dashboard, err := reconcile.StartRunner(ctx, s,
		reconcile.DashboardStrategy{Dashboard: reconcile.NewDashboard(cat)},
		[]store.Filter{store.In(models.FieldStatus,
			string(models.StatusOntime), string(models.StatusDelayed))},
		func(snap reconcile.Snapshot) {
			hub.SetDashboard(snap)
			collector.SetLiveCounts(snap.Stats.Active, snap.Stats.Delayed)
		},
		logger, collector)
	if err != nil {
		logging.LogError(log, "starting dashboard reconciler", err)
		os.Exit(1)
	}
	defer dashboard.Stop()

	for _, route := range selectRoutes(cat, routesFlag) {
		baseline, err := cat.LoadBaseline(ctx, route.ID)
		if err != nil {
			logging.LogError(log, "loading schedule baseline", err,
				slog.String("route_id", route.ID))
			continue
		}
		view := reconcile.NewScheduleView(route.ID, baseline, cat)
		runner, err := reconcile.StartRunner(ctx, s,
			reconcile.ScheduleViewStrategy{View: view},
			[]store.Filter{store.Eq(models.FieldRouteID, route.ID)},
			hub.SetSchedule,
			logger, collector)
		if err != nil {
			logging.LogError(log, "starting schedule reconciler", err,
				slog.String("route_id", route.ID))
			continue
		}
		defer runner.Stop()
		logging.LogOperation(log, "schedule reconciler started",
			slog.String("route_id", route.ID),
			slog.Int("slots", len(baseline)))
	}

	application := &app.Application{
		Config:  cfg,
		Logger:  logger,
		Store:   s,
		Catalog: cat,
		Gate:    openGate(cfg, log),
		Metrics: collector,
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.New(application, hub).Router(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logging.LogOperation(log, "server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.LogError(log, "server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logging.LogOperation(log, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(log, "server shutdown", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabasePath == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.DatabasePath)
}

func openGate(cfg *config.Config, log *slog.Logger) notify.Gate {
	if cfg.GatePath == "" {
		return notify.NewMemoryGate()
	}
	gate, err := notify.NewSQLiteGate(cfg.GatePath)
	if err != nil {
		logging.LogError(log, "opening notification gate, using in-memory", err)
		return notify.NewMemoryGate()
	}
	return gate
}

func selectRoutes(cat *catalog.Catalog, routesFlag string) []models.Route {
	if routesFlag == "" {
		return cat.Routes()
	}
	var routes []models.Route
	for _, id := range strings.Split(routesFlag, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		routes = append(routes, models.Route{ID: id})
	}
	return routes
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
