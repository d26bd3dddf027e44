package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbus.transitwatch.org/internal/models"
)

func TestDashboardMergeDedupsPerDriverRoute(t *testing.T) {
	d := NewDashboard(testRefs())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	rows := d.Merge(context.Background(), []models.Trip{
		{ID: "stale", DriverID: "drv1", RouteID: "r1", VehicleID: "veh1", Status: models.StatusOntime, StatusTime: base},
		{ID: "fresh", DriverID: "drv1", RouteID: "r1", VehicleID: "veh1", Status: models.StatusDelayed, StatusTime: base.Add(time.Minute)},
	})

	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].TripID)
	assert.Equal(t, models.StatusDelayed, rows[0].Status)
	assert.Equal(t, "ravi", rows[0].DriverUsername)
	assert.Equal(t, "Nimbus One", rows[0].VehicleName)
	assert.Equal(t, "KA19A1", rows[0].LicensePlate)
	assert.Equal(t, "Puttur Express", rows[0].RouteName)
	assert.Equal(t, base.Add(time.Minute), rows[0].LastActivity)
}

func TestDashboardMergeSkipsNonLive(t *testing.T) {
	d := NewDashboard(testRefs())
	now := time.Now()

	rows := d.Merge(context.Background(), []models.Trip{
		{ID: "done", DriverID: "drv1", RouteID: "r1", Status: models.StatusCompleted, StatusTime: now},
		{ID: "off", DriverID: "drv1", RouteID: "r1", Status: models.StatusCancelled, StatusTime: now},
		{ID: "ghost", DriverID: "drv1", RouteID: "r1", Status: models.StatusOntime},
	})
	assert.Empty(t, rows)
}

func TestDashboardMergeFallsBackWhenReferencesMissing(t *testing.T) {
	d := NewDashboard(&fakeRefs{})
	sched := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)

	rows := d.Merge(context.Background(), []models.Trip{{
		ID: "t1", DriverID: "nobody", RouteID: "r9", VehicleID: "veh9",
		Status: models.StatusOntime, ScheduledDeparture: sched, StartTime: sched,
	}})

	require.Len(t, rows, 1)
	assert.Equal(t, "Unknown Driver", rows[0].DriverUsername)
	assert.Equal(t, models.NAValue, rows[0].VehicleName)
	assert.Equal(t, models.NAValue, rows[0].LicensePlate)
	assert.Equal(t, "Unknown Route", rows[0].RouteName)
	assert.Equal(t, "08:00", rows[0].ScheduledTime)
	assert.Equal(t, models.NAValue, rows[0].ActualTime)
}

func TestDashboardMergeDelayedSortFirst(t *testing.T) {
	d := NewDashboard(testRefs())
	base := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)

	rows := d.Merge(context.Background(), []models.Trip{
		{ID: "a", DriverID: "d1", RouteID: "r1", Status: models.StatusOntime, ScheduledDeparture: base, StatusTime: base},
		{ID: "b", DriverID: "d2", RouteID: "r1", Status: models.StatusDelayed, ScheduledDeparture: base.Add(2 * time.Hour), StatusTime: base},
		{ID: "c", DriverID: "d3", RouteID: "r1", Status: models.StatusOntime, ScheduledDeparture: base.Add(time.Hour), StatusTime: base},
	})

	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0].TripID)
	assert.Equal(t, "a", rows[1].TripID)
	assert.Equal(t, "c", rows[2].TripID)
}
