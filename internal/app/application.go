package app

import (
	"log/slog"

	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/config"
	"nimbus.transitwatch.org/internal/metrics"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/store"
)

// Application holds the dependencies shared by the HTTP handlers and the
// reconciliation runners: the trip store, the reference catalog, the
// notification gate and the ambient logger/metrics pair.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   store.Store
	Catalog *catalog.Catalog
	Gate    notify.Gate
	Metrics *metrics.Collector
}
