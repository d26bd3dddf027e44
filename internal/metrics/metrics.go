// Package metrics exposes the prometheus collector for the reconciliation
// core. The Collector satisfies the Metrics interfaces declared by the
// reconcile, tracking, lifecycle and events packages.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nimbus.transitwatch.org/internal/logging"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrips  prometheus.Gauge
	DelayedTrips prometheus.Gauge

	SnapshotsReconciled *prometheus.CounterVec // strategy label
	SnapshotErrors      *prometheus.CounterVec
	StaleSnapshots      *prometheus.CounterVec
	SnapshotRows        *prometheus.GaugeVec

	TripsStarted   prometheus.Counter
	TripsDelayed   prometheus.Counter
	TripsCompleted *prometheus.CounterVec // trigger label: manual|auto
	TripsCancelled prometheus.Counter

	PositionsPersisted  prometheus.Counter
	PositionWriteErrs   prometheus.Counter
	NotificationsFired  *prometheus.CounterVec // threshold label
	NATSPublished       prometheus.Counter
	NATSPublishErrs     prometheus.Counter
	NATSConnected       prometheus.Gauge
	NATSPublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitwatch_active_trips",
			Help: "Number of live (Ontime or Delayed) trips in the latest dashboard snapshot.",
		}),
		DelayedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitwatch_delayed_trips",
			Help: "Number of Delayed trips in the latest dashboard snapshot.",
		}),
		SnapshotsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitwatch_snapshots_reconciled_total",
			Help: "Total snapshots produced, per reconciliation strategy.",
		}, []string{"strategy"}),
		SnapshotErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitwatch_snapshot_errors_total",
			Help: "Total subscription errors surfaced as error snapshots.",
		}, []string{"strategy"}),
		StaleSnapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitwatch_stale_snapshots_dropped_total",
			Help: "Total snapshots dropped for arriving after a newer one.",
		}, []string{"strategy"}),
		SnapshotRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transitwatch_snapshot_rows",
			Help: "Row count of the latest snapshot, per strategy.",
		}, []string{"strategy"}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsDelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_trips_delayed_total",
			Help: "Total delay transitions.",
		}),
		TripsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitwatch_trips_completed_total",
			Help: "Total trips completed, by trigger.",
		}, []string{"trigger"}),
		TripsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_trips_cancelled_total",
			Help: "Total trips cancelled.",
		}),
		PositionsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_positions_persisted_total",
			Help: "Total position fixes written to the trip store.",
		}),
		PositionWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_position_write_errors_total",
			Help: "Total position writes that failed.",
		}),
		NotificationsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitwatch_notifications_fired_total",
			Help: "Total proximity alerts fired, per threshold.",
		}, []string{"threshold"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitwatch_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitwatch_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		NATSPublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitwatch_nats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.ActiveTrips, c.DelayedTrips,
		c.SnapshotsReconciled, c.SnapshotErrors, c.StaleSnapshots, c.SnapshotRows,
		c.TripsStarted, c.TripsDelayed, c.TripsCompleted, c.TripsCancelled,
		c.PositionsPersisted, c.PositionWriteErrs, c.NotificationsFired,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.NATSPublishDuration,
	)
	return c
}

// Reconciler counters.

func (c *Collector) SnapshotReconciled(strategy string, rows int) {
	c.SnapshotsReconciled.WithLabelValues(strategy).Inc()
	c.SnapshotRows.WithLabelValues(strategy).Set(float64(rows))
}

func (c *Collector) SnapshotError(strategy string) {
	c.SnapshotErrors.WithLabelValues(strategy).Inc()
}

func (c *Collector) StaleSnapshotDropped(strategy string) {
	c.StaleSnapshots.WithLabelValues(strategy).Inc()
}

func (c *Collector) SetLiveCounts(active, delayed int) {
	c.ActiveTrips.Set(float64(active))
	c.DelayedTrips.Set(float64(delayed))
}

// Lifecycle counters.

func (c *Collector) TripStarted() { c.TripsStarted.Inc() }
func (c *Collector) TripDelayed() { c.TripsDelayed.Inc() }

func (c *Collector) TripCompleted(auto bool) {
	trigger := "manual"
	if auto {
		trigger = "auto"
	}
	c.TripsCompleted.WithLabelValues(trigger).Inc()
}

func (c *Collector) TripCancelled() { c.TripsCancelled.Inc() }

// Tracking counters.

func (c *Collector) PositionPersisted()     { c.PositionsPersisted.Inc() }
func (c *Collector) PositionPersistFailed() { c.PositionWriteErrs.Inc() }

func (c *Collector) NotificationFired(threshold string) {
	c.NotificationsFired.WithLabelValues(threshold).Inc()
}

func (c *Collector) TripAutoCompleted() {} // covered by TripCompleted("auto")

// Publisher counters.

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) PublishObserve(d time.Duration) {
	c.NATSPublishDuration.Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	log := logging.ForComponent(nil, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.LogError(log, "metrics server error", err)
		}
	}()
	logging.LogOperation(log, "metrics listening", slog.String("addr", addr))
	return srv
}
