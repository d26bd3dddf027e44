package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/notify"
	"nimbus.transitwatch.org/internal/store"
)

var testOrigin = models.LatLng{Latitude: 12.7443, Longitude: 75.0679}

// pointAtKm returns a point the given distance due north of the origin.
func pointAtKm(origin models.LatLng, km float64) models.LatLng {
	return models.LatLng{Latitude: origin.Latitude + km/111.195, Longitude: origin.Longitude}
}

type recordedAlert struct {
	threshold  string
	distanceKm float64
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (r *alertRecorder) notify(_ string, threshold string, distanceKm float64, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, recordedAlert{threshold: threshold, distanceKm: distanceKm})
}

func (r *alertRecorder) thresholds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.alerts {
		out = append(out, a.threshold)
	}
	return out
}

func seedTrip(t *testing.T, s store.Store, tripID string) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), store.CollectionTrips, tripID, store.Fields{
		models.FieldRouteID: "r1",
		models.FieldStatus:  string(models.StatusOntime),
	}))
}

func TestHandleFixPersistsLocation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	seedTrip(t, s, "t1")

	p := NewProcessor(s, notify.NewMemoryGate(), Config{TripID: "t1"})
	fix := Fix{Location: testOrigin, At: time.Now()}
	p.HandleFix(ctx, fix)
	p.Drain()

	doc, err := s.GetByID(ctx, store.CollectionTrips, "t1")
	require.NoError(t, err)
	loc, ok := doc.Fields[models.FieldLastKnownLocation].(*models.LatLng)
	require.True(t, ok)
	assert.Equal(t, testOrigin, *loc)
	assert.IsType(t, time.Time{}, doc.Fields[models.FieldLastUpdated])
}

func TestNoWritesAfterDeactivate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	seedTrip(t, s, "t1")

	p := NewProcessor(s, notify.NewMemoryGate(), Config{TripID: "t1"})
	p.Deactivate()
	p.HandleFix(ctx, Fix{Location: testOrigin, At: time.Now()})
	p.Drain()

	doc, err := s.GetByID(ctx, store.CollectionTrips, "t1")
	require.NoError(t, err)
	assert.NotContains(t, doc.Fields, models.FieldLastKnownLocation)
}

func TestAutoCompleteFiresOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	seedTrip(t, s, "t1")

	dest := pointAtKm(testOrigin, 0)
	var arrivals []models.LatLng
	p := NewProcessor(s, notify.NewMemoryGate(), Config{
		TripID:      "t1",
		Destination: &dest,
		OnArrive:    func(_ context.Context, final models.LatLng) { arrivals = append(arrivals, final) },
	})

	near := pointAtKm(testOrigin, 0.08)
	p.HandleFix(ctx, Fix{Location: near, At: time.Now()})
	p.HandleFix(ctx, Fix{Location: near, At: time.Now()})
	p.Drain()

	require.Len(t, arrivals, 1)
	assert.Equal(t, near, arrivals[0])
	assert.False(t, p.Active())
}

func TestFarFixDoesNotAutoComplete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	seedTrip(t, s, "t1")

	dest := pointAtKm(testOrigin, 5)
	called := false
	p := NewProcessor(s, notify.NewMemoryGate(), Config{
		TripID:      "t1",
		Destination: &dest,
		OnArrive:    func(context.Context, models.LatLng) { called = true },
	})

	p.HandleFix(ctx, Fix{Location: testOrigin, At: time.Now()})
	p.Drain()
	assert.False(t, called)
	assert.True(t, p.Active())
}

func TestProximityBandsFireOncePerThreshold(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	seedTrip(t, s, "t1")

	ref := testOrigin
	rec := &alertRecorder{}
	var etas int
	p := NewProcessor(s, notify.NewMemoryGate(), Config{
		TripID:    "t1",
		Reference: &ref,
		Notify:    rec.notify,
		OnETA:     func(float64, string) { etas++ },
	})

	at := func(km float64) Fix { return Fix{Location: pointAtKm(ref, km), At: time.Now()} }

	p.HandleFix(ctx, at(1.5))  // approaching
	p.HandleFix(ctx, at(1.5))  // suppressed
	p.HandleFix(ctx, at(0.6))  // get ready
	p.HandleFix(ctx, at(1.5))  // bus moved away again, still suppressed
	p.HandleFix(ctx, at(0.03)) // arrived
	p.HandleFix(ctx, at(0.03)) // suppressed
	p.Drain()

	assert.Equal(t, []string{notify.Threshold2Km, notify.Threshold1Km, notify.ThresholdArrived}, rec.thresholds())
	assert.Equal(t, 6, etas)
}

func TestBandBoundaries(t *testing.T) {
	assert.Equal(t, "", bandFor(2.5))
	assert.Equal(t, notify.Threshold2Km, bandFor(2.0))
	assert.Equal(t, notify.Threshold2Km, bandFor(1.2))
	assert.Equal(t, notify.Threshold1Km, bandFor(1.0))
	assert.Equal(t, notify.Threshold1Km, bandFor(0.06))
	assert.Equal(t, notify.ThresholdArrived, bandFor(0.05))
	assert.Equal(t, notify.ThresholdArrived, bandFor(0))
}
