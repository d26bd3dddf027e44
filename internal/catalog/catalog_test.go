package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/store"
)

func seedReferenceData(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.CollectionRoutes, "r1", store.Fields{
		"routename": "Puttur Express",
		"stop_ids":  []string{"stopA", "stopB", "stopC"},
	}))
	require.NoError(t, s.Set(ctx, store.CollectionStops, "stopA", store.Fields{
		"name": "City Bus Stand", "latitude": 12.87, "longitude": 74.88,
	}))
	require.NoError(t, s.Set(ctx, store.CollectionStops, "stopB", store.Fields{
		"name": "Kallare", "latitude": 12.80, "longitude": 75.00,
	}))
	require.NoError(t, s.Set(ctx, store.CollectionStops, "stopC", store.Fields{
		"name": "Puttur", "latitude": 12.74, "longitude": 75.06,
	}))
	require.NoError(t, s.Set(ctx, store.CollectionVehicles, "veh1", store.Fields{
		"display_name":  "Nimbus One",
		"license_plate": "KA19A1",
		"bus_type":      "Express",
		"service_type":  "AC",
	}))
	require.NoError(t, s.Set(ctx, store.CollectionDrivers, "drv1", store.Fields{
		"username": "ravi",
	}))
	require.NoError(t, s.Set(ctx, store.CollectionSchedules, "slot2", store.Fields{
		"route_id": "r1", "time": "09:00",
	}))
	require.NoError(t, s.Set(ctx, store.CollectionSchedules, "slot1", store.Fields{
		"route_id": "r1", "time": "08:00", "default_vehicle_id": "veh1",
		"slot_name": "Morning", "days_active": "Mon-Sat",
	}))
	require.NoError(t, s.Set(ctx, store.CollectionSchedules, "other", store.Fields{
		"route_id": "r2", "time": "07:00",
	}))
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	s := store.NewMemoryStore()
	seedReferenceData(t, s)
	c := New(s)
	require.NoError(t, c.LoadReferences(context.Background()))
	return c
}

func TestLoadBaseline(t *testing.T) {
	c := newTestCatalog(t)

	rows, err := c.LoadBaseline(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Time ascending.
	assert.Equal(t, "slot1", rows[0].SlotID)
	assert.Equal(t, "08:00", rows[0].Time)
	assert.Equal(t, "slot2", rows[1].SlotID)

	// Default vehicle resolved.
	assert.Equal(t, "Nimbus One", rows[0].VehicleName)
	assert.Equal(t, "KA19A1", rows[0].LicensePlate)
	assert.Equal(t, "Express", rows[0].BusType)
	assert.Equal(t, "AC", rows[0].ServiceType)
	assert.Equal(t, models.StatusScheduled, rows[0].Status)

	// No default vehicle: explicit N/A placeholders.
	assert.Equal(t, models.NAValue, rows[1].VehicleName)
	assert.Equal(t, models.NAValue, rows[1].LicensePlate)
}

func TestCloneRowsIsDeep(t *testing.T) {
	c := newTestCatalog(t)
	baseline, err := c.LoadBaseline(context.Background(), "r1")
	require.NoError(t, err)
	baseline[0].Location = &models.LatLng{Latitude: 1, Longitude: 2}

	clone := CloneRows(baseline)
	clone[0].Status = models.StatusDelayed
	clone[0].VehicleName = "mutated"
	clone[0].Location.Latitude = 99

	assert.Equal(t, models.StatusScheduled, baseline[0].Status)
	assert.Equal(t, "Nimbus One", baseline[0].VehicleName)
	assert.Equal(t, 1.0, baseline[0].Location.Latitude)
}

func TestRouteEndpoints(t *testing.T) {
	c := newTestCatalog(t)

	origin, destination, err := c.RouteEndpoints(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "stopA", origin.ID)
	assert.Equal(t, "stopC", destination.ID)
	assert.Equal(t, 12.74, destination.Latitude)

	_, _, err = c.RouteEndpoints(context.Background(), "missing")
	assert.Error(t, err)
}

func TestVehicleLookupFallsBackToStore(t *testing.T) {
	s := store.NewMemoryStore()
	seedReferenceData(t, s)
	c := New(s)
	require.NoError(t, c.LoadReferences(context.Background()))

	// A vehicle added after LoadReferences is still resolvable.
	require.NoError(t, s.Set(context.Background(), store.CollectionVehicles, "veh2", store.Fields{
		"display_name": "Nimbus Two", "license_plate": "KA19B2",
	}))

	v, ok := c.Vehicle(context.Background(), "veh2")
	assert.True(t, ok)
	assert.Equal(t, "Nimbus Two", v.DisplayName)

	_, ok = c.Vehicle(context.Background(), "missing")
	assert.False(t, ok)
	_, ok = c.Vehicle(context.Background(), "")
	assert.False(t, ok)
}
