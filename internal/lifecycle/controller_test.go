package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/store"
	"nimbus.transitwatch.org/internal/tracking"
)

var testNow = time.Date(2026, 8, 30, 7, 45, 0, 0, time.UTC)

// manualSource delivers fixes only when the test pushes them.
type manualSource struct {
	mu      sync.Mutex
	onFix   func(tracking.Fix)
	stopped bool
}

func (m *manualSource) Watch(onFix func(tracking.Fix), _ func(*tracking.WatchError)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFix = onFix
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
	}, nil
}

func (m *manualSource) emit(fix tracking.Fix) {
	m.mu.Lock()
	onFix, stopped := m.onFix, m.stopped
	m.mu.Unlock()
	if onFix != nil && !stopped {
		onFix(fix)
	}
}

// inlineSource delivers one fix from inside Watch itself, before the stop
// handle has been handed back.
type inlineSource struct {
	fix     tracking.Fix
	mu      sync.Mutex
	stopped bool
}

func (s *inlineSource) Watch(onFix func(tracking.Fix), _ func(*tracking.WatchError)) (func(), error) {
	onFix(s.fix)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
	}, nil
}

// counterRecorder counts lifecycle and tracking callbacks.
type counterRecorder struct {
	mu            sync.Mutex
	started       int
	delayed       int
	completed     int
	completedAuto int
	cancelled     int
	persisted     int
	persistFailed int
	reached       int
	notified      []string
}

func (r *counterRecorder) TripStarted() { r.mu.Lock(); r.started++; r.mu.Unlock() }

func (r *counterRecorder) TripDelayed() { r.mu.Lock(); r.delayed++; r.mu.Unlock() }

func (r *counterRecorder) TripCompleted(auto bool) {
	r.mu.Lock()
	r.completed++
	if auto {
		r.completedAuto++
	}
	r.mu.Unlock()
}
func (r *counterRecorder) TripCancelled() { r.mu.Lock(); r.cancelled++; r.mu.Unlock() }

func (r *counterRecorder) PositionPersisted() { r.mu.Lock(); r.persisted++; r.mu.Unlock() }

func (r *counterRecorder) PositionPersistFailed() { r.mu.Lock(); r.persistFailed++; r.mu.Unlock() }

func (r *counterRecorder) TripAutoCompleted() { r.mu.Lock(); r.reached++; r.mu.Unlock() }
func (r *counterRecorder) NotificationFired(threshold string) {
	r.mu.Lock()
	r.notified = append(r.notified, threshold)
	r.mu.Unlock()
}

type sinkRecorder struct {
	mu    sync.Mutex
	trips []models.Trip
}

func (r *sinkRecorder) PublishTripEvent(_ context.Context, trip models.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, trip)
	return nil
}

func (r *sinkRecorder) statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Status
	for _, trip := range r.trips {
		out = append(out, trip.Status)
	}
	return out
}

func seedRoute(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.CollectionRoutes, "r1", store.Fields{
		"routename": "Puttur Express",
		"stop_ids":  []string{"stopA", "stopC"},
	}))
	require.NoError(t, s.Set(ctx, store.CollectionStops, "stopA", store.Fields{
		"name": "City Bus Stand", "latitude": 12.87, "longitude": 74.88,
	}))
	require.NoError(t, s.Set(ctx, store.CollectionStops, "stopC", store.Fields{
		"name": "Puttur", "latitude": 12.74, "longitude": 75.06,
	}))
	require.NoError(t, s.Set(ctx, store.CollectionSchedules, "slot1", store.Fields{
		"route_id": "r1", "time": "08:00",
	}))
}

type fixture struct {
	store  *store.MemoryStore
	source *manualSource
	sink   *sinkRecorder
	ctrl   *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	seedRoute(t, s)

	cat := catalog.New(s)
	require.NoError(t, cat.LoadReferences(context.Background()))

	source := &manualSource{}
	sink := &sinkRecorder{}
	ctrl := NewController(Config{
		Store:    s,
		Catalog:  cat,
		Gate:     notify.NewMemoryGate(),
		Source:   source,
		Events:   sink,
		DriverID: "drv1",
		Clock:    func() time.Time { return testNow },
	})
	t.Cleanup(ctrl.Close)
	return &fixture{store: s, source: source, sink: sink, ctrl: ctrl}
}

func startTrip(t *testing.T, f *fixture) models.Trip {
	t.Helper()
	require.NoError(t, f.ctrl.RecordDeparture(testNow))
	trip, err := f.ctrl.Start(context.Background(), StartRequest{
		RouteID: "r1", VehicleID: "veh1", SlotID: "slot1",
	})
	require.NoError(t, err)
	return trip
}

func tripDoc(t *testing.T, f *fixture, id string) store.Document {
	t.Helper()
	doc, err := f.store.GetByID(context.Background(), store.CollectionTrips, id)
	require.NoError(t, err)
	return doc
}

func TestStartRequiresRecordedDeparture(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Start(context.Background(), StartRequest{RouteID: "r1"})
	assert.ErrorIs(t, err, ErrDepartureNotRecorded)
}

func TestStartCreatesOntimeTrip(t *testing.T) {
	f := newFixture(t)
	trip := startTrip(t, f)

	assert.Equal(t, models.StatusOntime, trip.Status)
	assert.Equal(t, "stopA", trip.FromStopID)
	assert.Equal(t, "stopC", trip.ToStopID)
	assert.Equal(t, testNow, trip.ActualDeparture)

	// Scheduled instant derives from the slot's clock time on the same day.
	want := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, want, trip.ScheduledDeparture)

	doc := tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusOntime), doc.Fields[models.FieldStatus])
	assert.IsType(t, time.Time{}, doc.Fields[models.FieldStartTime])

	_, err := f.ctrl.Start(context.Background(), StartRequest{RouteID: "r1"})
	assert.ErrorIs(t, err, ErrTripAlreadyActive)
	assert.Equal(t, []models.Status{models.StatusOntime}, f.sink.statuses())
}

func TestDelayAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := startTrip(t, f)

	assert.ErrorIs(t, f.ctrl.Delay(ctx, ""), ErrReasonRequired)

	require.NoError(t, f.ctrl.Delay(ctx, "Traffic jam near Kallare"))
	doc := tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusDelayed), doc.Fields[models.FieldStatus])
	assert.Equal(t, "Traffic jam near Kallare", doc.Fields[models.FieldStatusReason])

	require.NoError(t, f.ctrl.ClearDelay(ctx))
	doc = tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusOntime), doc.Fields[models.FieldStatus])
	assert.Equal(t, "", doc.Fields[models.FieldStatusReason])

	// Only a delayed trip can be cleared.
	assert.ErrorIs(t, f.ctrl.ClearDelay(ctx), ErrInvalidTransition)
}

func TestCompleteClearsLocationAndEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := startTrip(t, f)

	require.NoError(t, f.store.Update(ctx, store.CollectionTrips, trip.ID, store.Fields{
		models.FieldLastKnownLocation: &models.LatLng{Latitude: 12.8, Longitude: 75.0},
	}))

	require.NoError(t, f.ctrl.Complete(ctx))
	doc := tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusCompleted), doc.Fields[models.FieldStatus])
	assert.Nil(t, doc.Fields[models.FieldLastKnownLocation])
	assert.IsType(t, time.Time{}, doc.Fields[models.FieldEndTime])

	f.source.mu.Lock()
	assert.True(t, f.source.stopped)
	f.source.mu.Unlock()

	_, active := f.ctrl.ActiveTrip()
	assert.False(t, active)
	assert.ErrorIs(t, f.ctrl.Complete(ctx), ErrNoActiveTrip)

	// The session is reusable for the next run.
	next := startTrip(t, f)
	assert.NotEqual(t, trip.ID, next.ID)
}

func TestCancelPreservesReasonWithoutEndTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	trip := startTrip(t, f)

	require.NoError(t, f.ctrl.Cancel(ctx, "Breakdown"))
	doc := tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusCancelled), doc.Fields[models.FieldStatus])
	assert.Equal(t, "Breakdown", doc.Fields[models.FieldStatusReason])
	assert.Nil(t, doc.Fields[models.FieldLastKnownLocation])
	assert.NotContains(t, doc.Fields, models.FieldEndTime)

	assert.Equal(t, []models.Status{models.StatusOntime, models.StatusCancelled}, f.sink.statuses())
}

func TestAutoCompleteOnDestinationArrival(t *testing.T) {
	f := newFixture(t)
	trip := startTrip(t, f)

	// stopC is the route destination.
	f.source.emit(tracking.Fix{
		Location: models.LatLng{Latitude: 12.74, Longitude: 75.06},
		At:       testNow,
	})

	doc := tripDoc(t, f, trip.ID)
	assert.Equal(t, string(models.StatusCompleted), doc.Fields[models.FieldStatus])
	_, active := f.ctrl.ActiveTrip()
	assert.False(t, active)
}

func TestMetricsReportedAcrossSession(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	seedRoute(t, s)
	cat := catalog.New(s)
	require.NoError(t, cat.LoadReferences(context.Background()))

	rec := &counterRecorder{}
	source := &manualSource{}
	ctrl := NewController(Config{
		Store:    s,
		Catalog:  cat,
		Gate:     notify.NewMemoryGate(),
		Source:   source,
		Metrics:  rec,
		Tracking: rec,
		DriverID: "drv1",
		Clock:    func() time.Time { return testNow },
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.RecordDeparture(testNow))
	_, err := ctrl.Start(context.Background(), StartRequest{RouteID: "r1", VehicleID: "veh1"})
	require.NoError(t, err)

	// A mid-route fix persists asynchronously.
	source.emit(tracking.Fix{
		Location: models.LatLng{Latitude: 12.80, Longitude: 74.95},
		At:       testNow,
	})
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.persisted == 1
	}, time.Second, 5*time.Millisecond)

	// Arriving at stopC finishes the trip through the tracking session.
	source.emit(tracking.Fix{
		Location: models.LatLng{Latitude: 12.74, Longitude: 75.06},
		At:       testNow,
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 1, rec.completed)
	assert.Equal(t, 1, rec.completedAuto)
	assert.Equal(t, 1, rec.reached)
	assert.Equal(t, 0, rec.persistFailed)
}

func TestArrivalDuringWatchStillStopsSource(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	seedRoute(t, s)
	cat := catalog.New(s)
	require.NoError(t, cat.LoadReferences(context.Background()))

	// The very first fix is already at stopC, so the trip auto-completes
	// before Watch has returned its stop handle.
	source := &inlineSource{fix: tracking.Fix{
		Location: models.LatLng{Latitude: 12.74, Longitude: 75.06},
		At:       testNow,
	}}
	ctrl := NewController(Config{
		Store:    s,
		Catalog:  cat,
		Gate:     notify.NewMemoryGate(),
		Source:   source,
		DriverID: "drv1",
		Clock:    func() time.Time { return testNow },
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.RecordDeparture(testNow))
	trip, err := ctrl.Start(context.Background(), StartRequest{RouteID: "r1"})
	require.NoError(t, err)

	_, active := ctrl.ActiveTrip()
	assert.False(t, active)

	doc, err := s.GetByID(context.Background(), store.CollectionTrips, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusCompleted), doc.Fields[models.FieldStatus])

	source.mu.Lock()
	assert.True(t, source.stopped)
	source.mu.Unlock()
}

func TestRestoreResumesLatestLiveTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, store.CollectionTrips, "stale", store.Fields{
		models.FieldRouteID:    "r1",
		models.FieldDriverID:   "drv1",
		models.FieldStatus:     string(models.StatusOntime),
		models.FieldStatusTime: testNow.Add(-time.Hour),
	}))
	require.NoError(t, f.store.Set(ctx, store.CollectionTrips, "fresh", store.Fields{
		models.FieldRouteID:    "r1",
		models.FieldDriverID:   "drv1",
		models.FieldStatus:     string(models.StatusDelayed),
		models.FieldStatusTime: testNow,
	}))
	require.NoError(t, f.store.Set(ctx, store.CollectionTrips, "other", store.Fields{
		models.FieldRouteID:    "r1",
		models.FieldDriverID:   "drv2",
		models.FieldStatus:     string(models.StatusOntime),
		models.FieldStatusTime: testNow,
	}))

	trip, err := f.ctrl.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", trip.ID)
	assert.Equal(t, models.StatusDelayed, trip.Status)

	_, err = f.ctrl.Restore(ctx)
	assert.ErrorIs(t, err, ErrTripAlreadyActive)
}

func TestRestoreWithNoLiveTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Restore(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveTrip)
}
