// Command tripsim runs one simulated driver session against a shared trip
// store: it records a departure, starts a trip, walks a simulated GPS track
// and finishes the trip, exercising the whole lifecycle end to end. Point it
// at the same SQLite file as a running transitwatchd to watch the schedule
// and dashboard snapshots react.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/config"
	"nimbus.transitwatch.org/internal/events"
	"nimbus.transitwatch.org/internal/lifecycle"
	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/metrics"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/store"
	"nimbus.transitwatch.org/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var (
		routeID    string
		vehicleID  string
		slotID     string
		driverID   string
		delayAfter time.Duration
		runFor     time.Duration
	)
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite trip store path (shared with transitwatchd)")
	flag.StringVar(&cfg.GatePath, "gate-db", cfg.GatePath, "SQLite notification gate path (empty for in-memory)")
	flag.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for lifecycle events (empty disables)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics listen address (empty disables)")
	flag.StringVar(&routeID, "route", "", "Route id to run")
	flag.StringVar(&vehicleID, "vehicle", "", "Vehicle id for the run")
	flag.StringVar(&slotID, "slot", "", "Schedule slot id (empty for an ad-hoc trip)")
	flag.StringVar(&driverID, "driver", "sim-driver", "Driver id for the session")
	flag.DurationVar(&delayAfter, "delay-after", 0, "Report a delay this long into the run (0 disables)")
	flag.DurationVar(&runFor, "run-for", 2*time.Minute, "Complete the trip after this long unless it auto-completes")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)
	log := logging.ForComponent(logger, "tripsim")

	if routeID == "" {
		logging.LogError(log, "missing flag", errors.New("-route is required"))
		os.Exit(1)
	}

	s, err := openStore(cfg)
	if err != nil {
		logging.LogError(log, "opening trip store", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cat := catalog.New(s)
	if err := cat.LoadReferences(ctx); err != nil {
		logging.LogError(log, "loading reference data", err)
		os.Exit(1)
	}

	gate, err := openGate(cfg)
	if err != nil {
		logging.LogError(log, "opening notification gate", err)
		os.Exit(1)
	}
	defer gate.Close()

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		collector.Serve(cfg.MetricsAddr)
	}

	var sink lifecycle.EventSink
	if cfg.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL, logger, collector)
		if err != nil {
			logging.LogError(log, "connecting to nats", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sink = publisher
	}

	ctrl := lifecycle.NewController(lifecycle.Config{
		Store:    s,
		Catalog:  cat,
		Gate:     gate,
		Source:   &tracking.SimSource{Interval: cfg.SimInterval},
		Events:   sink,
		Metrics:  collector,
		Tracking: collector,
		Logger:   logger,
		DriverID: driverID,
	})
	defer ctrl.Close()

	if err := ctrl.RecordDeparture(time.Time{}); err != nil {
		logging.LogError(log, "recording departure", err)
		os.Exit(1)
	}
	trip, err := ctrl.Start(ctx, lifecycle.StartRequest{
		RouteID:   routeID,
		VehicleID: vehicleID,
		SlotID:    slotID,
	})
	if err != nil {
		logging.LogError(log, "starting trip", err)
		os.Exit(1)
	}
	logging.LogOperation(log, "trip running",
		slog.String("trip_id", trip.ID),
		slog.String("route_id", routeID))

	deadline := time.NewTimer(runFor)
	defer deadline.Stop()
	var delayTimer <-chan time.Time
	if delayAfter > 0 {
		t := time.NewTimer(delayAfter)
		defer t.Stop()
		delayTimer = t.C
	}
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctrl.Cancel(context.Background(), "Simulation interrupted"); err != nil &&
				!errors.Is(err, lifecycle.ErrNoActiveTrip) {
				logging.LogError(log, "cancelling trip", err)
			}
			return
		case <-delayTimer:
			if err := ctrl.Delay(ctx, "Simulated traffic"); err != nil {
				logging.LogError(log, "reporting delay", err)
			}
		case <-deadline.C:
			if err := ctrl.Complete(ctx); err != nil && !errors.Is(err, lifecycle.ErrNoActiveTrip) {
				logging.LogError(log, "completing trip", err)
			}
			logging.LogOperation(log, "trip finished by timer")
			return
		case <-poll.C:
			if _, active := ctrl.ActiveTrip(); !active {
				logging.LogOperation(log, "trip auto-completed")
				return
			}
			if werr := ctrl.TrackingError(); werr != nil {
				logging.LogError(log, "tracking blocked", werr,
					slog.String("kind", werr.Kind.String()))
			}
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabasePath == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.DatabasePath)
}

func openGate(cfg *config.Config) (notify.Gate, error) {
	if cfg.GatePath == "" {
		return notify.NewMemoryGate(), nil
	}
	return notify.NewSQLiteGate(cfg.GatePath)
}
