package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/store"
)

// Snapshot is one atomic reconciliation result. Consumers replace their
// previous state with it wholesale; partial application is never valid.
// When Err is non-nil the row slices are empty and the snapshot signals a
// degraded stream rather than data.
type Snapshot struct {
	Seq       uint64
	RouteID   string
	Rows      []models.ScheduleRow
	Dashboard []models.DashboardRow
	Stats     models.SnapshotStats
	Err       error
}

// Strategy turns one decoded trip batch into a snapshot. ScheduleView and
// Dashboard are adapted to it via the *Strategy wrappers below.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, trips []models.Trip) Snapshot
}

// Metrics receives reconciliation counters. Implementations must be safe for
// concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	SnapshotReconciled(strategy string, rows int)
	SnapshotError(strategy string)
	StaleSnapshotDropped(strategy string)
}

// ScheduleViewStrategy adapts a ScheduleView to the Runner.
type ScheduleViewStrategy struct {
	View *ScheduleView
}

func (s ScheduleViewStrategy) Name() string { return "schedule_view" }

func (s ScheduleViewStrategy) Apply(ctx context.Context, trips []models.Trip) Snapshot {
	rows := s.View.Merge(ctx, trips)
	return Snapshot{
		RouteID: s.View.RouteID(),
		Rows:    rows,
		Stats:   models.StatsForRows(rows),
	}
}

// DashboardStrategy adapts a Dashboard to the Runner.
type DashboardStrategy struct {
	Dashboard *Dashboard
}

func (s DashboardStrategy) Name() string { return "dashboard" }

func (s DashboardStrategy) Apply(ctx context.Context, trips []models.Trip) Snapshot {
	rows := s.Dashboard.Merge(ctx, trips)
	stats := models.SnapshotStats{Total: len(rows), Active: len(rows)}
	for _, row := range rows {
		if row.Status == models.StatusDelayed {
			stats.Delayed++
		}
	}
	return Snapshot{Dashboard: rows, Stats: stats}
}

// Runner drives one strategy from a trip subscription. Every store event is
// reconciled into a snapshot and handed to the emit callback; snapshots carry
// a monotonic sequence number and an in-flight result that would regress the
// sequence is dropped instead of emitted.
type Runner struct {
	strategy Strategy
	emit     func(Snapshot)
	logger   *slog.Logger
	metrics  Metrics

	sub      *store.Subscription
	seq      atomic.Uint64
	emitted  atomic.Uint64
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// StartRunner subscribes to the trips collection with the given filters and
// begins emitting snapshots. The first snapshot reflects the current matching
// set and is delivered before any change events. Stop must be called to
// release the subscription.
func StartRunner(ctx context.Context, s store.Store, strategy Strategy, filters []store.Filter, emit func(Snapshot), logger *slog.Logger, metrics Metrics) (*Runner, error) {
	sub, err := s.Subscribe(ctx, store.CollectionTrips, filters...)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		strategy: strategy,
		emit:     emit,
		logger:   logging.ForComponent(logger, "reconciler"),
		metrics:  metrics,
		sub:      sub,
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

// Stop cancels the subscription and waits for the in-flight event, if any,
// to finish. Calling Stop more than once is a no-op.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.sub.Unsubscribe()
		r.wg.Wait()
	})
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()
	for event := range r.sub.Events() {
		r.handle(ctx, event)
	}
}

func (r *Runner) handle(ctx context.Context, event store.Event) {
	seq := r.seq.Add(1)

	if event.Err != nil {
		logging.LogError(r.logger, "trip subscription degraded", event.Err,
			slog.String("strategy", r.strategy.Name()))
		if r.metrics != nil {
			r.metrics.SnapshotError(r.strategy.Name())
		}
		r.deliver(Snapshot{Seq: seq, Err: event.Err})
		return
	}

	trips := make([]models.Trip, 0, len(event.Docs))
	for _, doc := range event.Docs {
		trips = append(trips, models.TripFromFields(doc.ID, doc.Fields))
	}

	snap := r.strategy.Apply(ctx, trips)
	snap.Seq = seq
	if r.metrics != nil {
		r.metrics.SnapshotReconciled(r.strategy.Name(), snap.Stats.Total)
	}
	r.deliver(snap)
}

// deliver emits the snapshot unless a newer one was already emitted.
func (r *Runner) deliver(snap Snapshot) {
	for {
		last := r.emitted.Load()
		if snap.Seq <= last {
			logging.LogOperation(r.logger, "stale snapshot dropped",
				slog.String("strategy", r.strategy.Name()),
				slog.Uint64("seq", snap.Seq),
				slog.Uint64("emitted", last))
			if r.metrics != nil {
				r.metrics.StaleSnapshotDropped(r.strategy.Name())
			}
			return
		}
		if r.emitted.CompareAndSwap(last, snap.Seq) {
			break
		}
	}
	r.emit(snap)
}
