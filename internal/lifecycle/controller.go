// Package lifecycle owns one driver session's trip: creation, status
// transitions and the tracking session bound to it. All state lives on the
// Controller; there are no package-level session variables.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/logging"
	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/reconcile"
	"nimbus.transitwatch.org/internal/store"
	"nimbus.transitwatch.org/internal/tracking"
)

// Transition rejections. All are detected synchronously, before any store
// call is issued.
var (
	ErrDepartureNotRecorded = errors.New("actual departure must be recorded before starting a trip")
	ErrReasonRequired       = errors.New("a delay reason is required")
	ErrNoActiveTrip         = errors.New("no active trip in this session")
	ErrTripAlreadyActive    = errors.New("a trip is already active in this session")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// EventSink receives lifecycle events for outbound publication. A nil sink
// disables publication.
type EventSink interface {
	PublishTripEvent(ctx context.Context, trip models.Trip) error
}

// Metrics receives lifecycle counters. A nil Metrics disables reporting.
type Metrics interface {
	TripStarted()
	TripDelayed()
	TripCompleted(auto bool)
	TripCancelled()
}

// Config wires a Controller to its collaborators.
type Config struct {
	Store   store.Store
	Catalog *catalog.Catalog
	Gate    notify.Gate
	Source  tracking.Source
	Events  EventSink
	Metrics Metrics

	// Tracking receives the position-stream counters of the sessions this
	// controller starts. A nil Tracking disables reporting.
	Tracking tracking.Metrics

	Logger   *slog.Logger
	DriverID string

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Controller drives the trip state machine for one driver session.
// Scheduled is virtual; a trip document is created directly in Ontime and
// moves between Ontime and Delayed until it reaches Completed or Cancelled,
// both terminal.
type Controller struct {
	store    store.Store
	catalog  *catalog.Catalog
	gate     notify.Gate
	source   tracking.Source
	events   EventSink
	metrics  Metrics
	tracking tracking.Metrics
	logger   *slog.Logger
	log      *slog.Logger
	driverID string
	clock    func() time.Time

	mu        sync.Mutex
	departure time.Time
	trip      *models.Trip
	proc      *tracking.Processor
	stopWatch func()
	watchErr  *tracking.WatchError
}

// NewController returns an idle controller for the configured driver.
func NewController(cfg Config) *Controller {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		gate:     cfg.Gate,
		source:   cfg.Source,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		tracking: cfg.Tracking,
		logger:   cfg.Logger,
		log:      logging.ForComponent(cfg.Logger, "lifecycle"),
		driverID: cfg.DriverID,
		clock:    clock,
	}
}

// ActiveTrip returns the session's live trip, if any.
func (c *Controller) ActiveTrip() (models.Trip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trip == nil {
		return models.Trip{}, false
	}
	return *c.trip, true
}

// TrackingError returns the last geolocation failure, if the tracking
// session is blocked on one.
func (c *Controller) TrackingError() *tracking.WatchError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchErr
}

// RecordDeparture captures the actual departure instant. It must be called
// before Start; calling it again before Start overwrites the capture. A zero
// instant records the current time.
func (c *Controller) RecordDeparture(at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trip != nil {
		return ErrTripAlreadyActive
	}
	if at.IsZero() {
		at = c.clock()
	}
	c.departure = at
	return nil
}

// StartRequest describes the run the driver is beginning. SlotID is empty
// for an ad-hoc trip.
type StartRequest struct {
	RouteID   string
	VehicleID string
	SlotID    string
}

// Start creates the trip in Ontime and begins position tracking. A recorded
// departure is a hard precondition.
func (c *Controller) Start(ctx context.Context, req StartRequest) (models.Trip, error) {
	c.mu.Lock()
	if c.trip != nil {
		c.mu.Unlock()
		return models.Trip{}, ErrTripAlreadyActive
	}
	if c.departure.IsZero() {
		c.mu.Unlock()
		return models.Trip{}, ErrDepartureNotRecorded
	}
	departure := c.departure
	c.mu.Unlock()

	origin, destination, err := c.catalog.RouteEndpoints(ctx, req.RouteID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("resolving route endpoints: %w", err)
	}

	scheduledAt := c.scheduledInstant(ctx, req.SlotID)

	fields := store.Fields{
		models.FieldRouteID:         req.RouteID,
		models.FieldVehicleID:       req.VehicleID,
		models.FieldDriverID:        c.driverID,
		models.FieldActualDeparture: departure,
		models.FieldFromStopID:      origin.ID,
		models.FieldToStopID:        destination.ID,
		models.FieldStatus:          string(models.StatusOntime),
		models.FieldStartTime:       store.ServerTimestamp(),
		models.FieldStatusTime:      store.ServerTimestamp(),
		models.FieldLastUpdated:     store.ServerTimestamp(),
	}
	if req.SlotID != "" {
		fields[models.FieldScheduledSlotID] = req.SlotID
	}
	if !scheduledAt.IsZero() {
		fields[models.FieldScheduledDeparture] = scheduledAt
	}

	id, err := c.store.Add(ctx, store.CollectionTrips, fields)
	if err != nil {
		return models.Trip{}, fmt.Errorf("creating trip: %w", err)
	}

	now := c.clock()
	trip := models.Trip{
		ID:                 id,
		RouteID:            req.RouteID,
		VehicleID:          req.VehicleID,
		DriverID:           c.driverID,
		ScheduledSlotID:    req.SlotID,
		ScheduledDeparture: scheduledAt,
		ActualDeparture:    departure,
		FromStopID:         origin.ID,
		ToStopID:           destination.ID,
		Status:             models.StatusOntime,
		StatusTime:         now,
		StartTime:          now,
	}

	c.mu.Lock()
	c.trip = &trip
	c.departure = time.Time{}
	c.mu.Unlock()

	if c.gate != nil {
		if err := c.gate.ResetTrip(id); err != nil {
			logging.LogError(c.log, "gate reset failed", err, slog.String("trip_id", id))
		}
	}
	c.startTracking(ctx, trip, destination.Point())

	logging.LogOperation(c.log, "trip started",
		slog.String("trip_id", id),
		slog.String("route_id", req.RouteID),
		slog.String("slot_id", req.SlotID))
	if c.metrics != nil {
		c.metrics.TripStarted()
	}
	c.publish(ctx, trip)
	return trip, nil
}

// Delay moves the live trip to Delayed. A non-empty reason is required.
func (c *Controller) Delay(ctx context.Context, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	err := c.setStatus(ctx, models.StatusDelayed, reason)
	if err == nil && c.metrics != nil {
		c.metrics.TripDelayed()
	}
	return err
}

// ClearDelay moves a Delayed trip back to Ontime. No reason is needed.
func (c *Controller) ClearDelay(ctx context.Context) error {
	c.mu.Lock()
	if c.trip == nil {
		c.mu.Unlock()
		return ErrNoActiveTrip
	}
	if c.trip.Status != models.StatusDelayed {
		current := c.trip.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, models.StatusOntime)
	}
	c.mu.Unlock()
	return c.setStatus(ctx, models.StatusOntime, "")
}

// Cancel terminates the live trip, preserving the reason. Tracking stops and
// the last known location is cleared.
func (c *Controller) Cancel(ctx context.Context, reason string) error {
	if err := c.finish(ctx, models.StatusCancelled, reason, false); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TripCancelled()
	}
	return nil
}

// Complete finishes the live trip by driver action.
func (c *Controller) Complete(ctx context.Context) error {
	if err := c.finish(ctx, models.StatusCompleted, "", true); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TripCompleted(false)
	}
	return nil
}

// AutoComplete finishes the live trip on destination arrival. The final fix
// is logged; the persisted location is cleared like every other terminal
// transition.
func (c *Controller) AutoComplete(ctx context.Context, final models.LatLng) error {
	logging.LogOperation(c.log, "trip auto-completing",
		slog.Float64("latitude", final.Latitude),
		slog.Float64("longitude", final.Longitude))
	if err := c.finish(ctx, models.StatusCompleted, "", true); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TripCompleted(true)
	}
	return nil
}

// Restore resumes a live trip after a session restart: the driver's most
// recently active Ontime/Delayed trip is reattached and tracking resumes.
func (c *Controller) Restore(ctx context.Context) (models.Trip, error) {
	if _, active := c.ActiveTrip(); active {
		return models.Trip{}, ErrTripAlreadyActive
	}

	docs, err := c.store.Query(ctx, store.CollectionTrips, []store.Filter{
		store.Eq(models.FieldDriverID, c.driverID),
		store.In(models.FieldStatus, string(models.StatusOntime), string(models.StatusDelayed)),
	}, "")
	if err != nil {
		return models.Trip{}, fmt.Errorf("querying live trips: %w", err)
	}

	trips := make([]models.Trip, 0, len(docs))
	for _, doc := range docs {
		trips = append(trips, models.TripFromFields(doc.ID, doc.Fields))
	}
	winners := reconcile.LatestBy(trips,
		func(models.Trip) string { return c.driverID },
		models.Trip.LatestActivity)
	trip, ok := winners[c.driverID]
	if !ok {
		return models.Trip{}, ErrNoActiveTrip
	}

	c.mu.Lock()
	c.trip = &trip
	c.departure = time.Time{}
	c.mu.Unlock()

	if _, destination, err := c.catalog.RouteEndpoints(ctx, trip.RouteID); err == nil {
		c.startTracking(ctx, trip, destination.Point())
	} else {
		logging.LogError(c.log, "restore without destination", err,
			slog.String("trip_id", trip.ID))
	}

	logging.LogOperation(c.log, "trip session restored",
		slog.String("trip_id", trip.ID),
		slog.String("status", trip.Status.String()))
	return trip, nil
}

// Close tears down the tracking session without touching the trip document.
func (c *Controller) Close() {
	c.stopTracking()
}

// setStatus applies a live-to-live transition. The store write is
// optimistic: on failure the local state still reflects the attempt.
func (c *Controller) setStatus(ctx context.Context, next models.Status, reason string) error {
	c.mu.Lock()
	if c.trip == nil {
		c.mu.Unlock()
		return ErrNoActiveTrip
	}
	current := c.trip.Status
	if !current.CanTransitionTo(next) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	tripID := c.trip.ID
	c.mu.Unlock()

	err := c.store.Update(ctx, store.CollectionTrips, tripID, store.Fields{
		models.FieldStatus:       string(next),
		models.FieldStatusReason: reason,
		models.FieldStatusTime:   store.ServerTimestamp(),
	})
	if err != nil {
		logging.LogError(c.log, "status write failed", err,
			slog.String("trip_id", tripID),
			slog.String("status", next.String()))
	}

	c.mu.Lock()
	var trip models.Trip
	if c.trip != nil && c.trip.ID == tripID {
		c.trip.Status = next
		c.trip.StatusReason = reason
		c.trip.StatusTime = c.clock()
		trip = *c.trip
	}
	c.mu.Unlock()

	if trip.ID != "" {
		c.publish(ctx, trip)
	}
	return nil
}

// finish applies a terminal transition and tears the session down.
func (c *Controller) finish(ctx context.Context, next models.Status, reason string, withEnd bool) error {
	c.mu.Lock()
	if c.trip == nil {
		c.mu.Unlock()
		return ErrNoActiveTrip
	}
	current := c.trip.Status
	if !current.CanTransitionTo(next) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	trip := *c.trip
	c.mu.Unlock()

	// No further position writes may land after this point.
	c.stopTracking()

	fields := store.Fields{
		models.FieldStatus:            string(next),
		models.FieldStatusReason:      reason,
		models.FieldStatusTime:        store.ServerTimestamp(),
		models.FieldLastKnownLocation: nil,
	}
	if withEnd {
		fields[models.FieldEndTime] = store.ServerTimestamp()
	}
	if err := c.store.Update(ctx, store.CollectionTrips, trip.ID, fields); err != nil {
		logging.LogError(c.log, "terminal status write failed", err,
			slog.String("trip_id", trip.ID),
			slog.String("status", next.String()))
	}

	now := c.clock()
	trip.Status = next
	trip.StatusReason = reason
	trip.StatusTime = now
	trip.LastKnownLocation = nil
	if withEnd {
		trip.EndTime = now
	}

	c.mu.Lock()
	c.trip = nil
	c.departure = time.Time{}
	c.watchErr = nil
	c.mu.Unlock()

	logging.LogOperation(c.log, "trip finished",
		slog.String("trip_id", trip.ID),
		slog.String("status", next.String()))
	c.publish(ctx, trip)
	return nil
}

// scheduledInstant derives the scheduled departure from the slot's "HH:MM"
// on the current day. Zero when the slot is absent or malformed.
func (c *Controller) scheduledInstant(ctx context.Context, slotID string) time.Time {
	if slotID == "" {
		return time.Time{}
	}
	doc, err := c.store.GetByID(ctx, store.CollectionSchedules, slotID)
	if err != nil {
		logging.LogError(c.log, "slot lookup failed", err, slog.String("slot_id", slotID))
		return time.Time{}
	}
	raw, _ := doc.Fields["time"].(string)
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}
	}
	now := c.clock()
	return time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), 0, 0, now.Location())
}

func (c *Controller) startTracking(ctx context.Context, trip models.Trip, destination models.LatLng) {
	if c.source == nil {
		return
	}

	proc := tracking.NewProcessor(c.store, c.gate, tracking.Config{
		TripID:      trip.ID,
		Destination: &destination,
		Logger:      c.logger,
		Metrics:     c.tracking,
		OnArrive: func(ctx context.Context, final models.LatLng) {
			if err := c.AutoComplete(ctx, final); err != nil {
				logging.LogError(c.log, "auto-complete failed", err,
					slog.String("trip_id", trip.ID))
			}
		},
	})

	// The processor is installed before Watch so a fix delivered during the
	// Watch call itself can finish the session through stopTracking.
	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	stop, err := c.source.Watch(func(fix tracking.Fix) {
		proc.HandleFix(ctx, fix)
	}, func(werr *tracking.WatchError) {
		// Tracking stays blocked until the session restarts; no silent retry.
		logging.LogError(c.log, "geolocation failed", werr,
			slog.String("trip_id", trip.ID),
			slog.String("kind", werr.Kind.String()))
		c.mu.Lock()
		c.watchErr = werr
		c.mu.Unlock()
	})
	if err != nil {
		logging.LogError(c.log, "tracking start failed", err, slog.String("trip_id", trip.ID))
		proc.Deactivate()
		c.mu.Lock()
		if c.proc == proc {
			c.proc = nil
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.proc != proc {
		// The session ended while Watch was still returning; the stop handle
		// arrived too late for stopTracking, so the source is stopped here.
		c.mu.Unlock()
		stop()
		proc.Drain()
		return
	}
	c.stopWatch = stop
	c.mu.Unlock()
}

func (c *Controller) stopTracking() {
	c.mu.Lock()
	proc, stop := c.proc, c.stopWatch
	c.proc, c.stopWatch = nil, nil
	c.mu.Unlock()

	if proc != nil {
		proc.Deactivate()
	}
	if stop != nil {
		stop()
	}
	if proc != nil {
		proc.Drain()
	}
}

func (c *Controller) publish(ctx context.Context, trip models.Trip) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishTripEvent(ctx, trip); err != nil {
		logging.LogError(c.log, "event publish failed", err, slog.String("trip_id", trip.ID))
	}
}
