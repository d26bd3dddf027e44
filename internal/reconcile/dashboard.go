package reconcile

import (
	"context"
	"sort"
	"strings"

	"nimbus.transitwatch.org/internal/models"
)

// ReferenceResolver resolves static reference records for display
// enrichment. *catalog.Catalog satisfies it.
type ReferenceResolver interface {
	VehicleResolver
	Route(ctx context.Context, id string) (models.Route, bool)
	Driver(ctx context.Context, id string) (models.Driver, bool)
}

// Dashboard builds the cross-route authority view: one row per
// (driver, route) pair, produced from whatever live trip documents the
// current batch carries.
type Dashboard struct {
	refs ReferenceResolver
}

// NewDashboard builds a dashboard reconciler over the given references.
func NewDashboard(refs ReferenceResolver) *Dashboard {
	return &Dashboard{refs: refs}
}

// Merge dedups the batch down to one trip per (driver, route) pair, keeping
// the record with the most recent activity, and enriches each survivor with
// display names. Non-live trips and trips with no activity timestamp are
// excluded. The returned rows are ordered delayed-first, then by scheduled
// time string.
func (d *Dashboard) Merge(ctx context.Context, trips []models.Trip) []models.DashboardRow {
	live := make([]models.Trip, 0, len(trips))
	for _, trip := range trips {
		if trip.Status.IsLive() {
			live = append(live, trip)
		}
	}

	winners := LatestBy(live, func(t models.Trip) string {
		return t.DriverID + "_" + t.RouteID
	}, models.Trip.LatestActivity)

	rows := make([]models.DashboardRow, 0, len(winners))
	for _, trip := range winners {
		rows = append(rows, d.row(ctx, trip))
	}
	sortDashboardRows(rows)
	return rows
}

func (d *Dashboard) row(ctx context.Context, trip models.Trip) models.DashboardRow {
	row := models.DashboardRow{
		TripID:         trip.ID,
		DriverID:       trip.DriverID,
		RouteID:        trip.RouteID,
		DriverUsername: models.UnknownValue + " Driver",
		VehicleName:    models.NAValue,
		LicensePlate:   models.NAValue,
		RouteName:      models.UnknownValue + " Route",
		ScheduledTime:  models.NAValue,
		ActualTime:     models.NAValue,
		Status:         trip.Status,
		Location:       cloneLocation(trip.LastKnownLocation),
	}
	if at, ok := trip.LatestActivity(); ok {
		row.LastActivity = at
	}
	if driver, ok := d.refs.Driver(ctx, trip.DriverID); ok && driver.Username != "" {
		row.DriverUsername = driver.Username
	}
	if vehicle, ok := d.refs.Vehicle(ctx, trip.VehicleID); ok {
		if vehicle.DisplayName != "" {
			row.VehicleName = vehicle.DisplayName
		}
		if vehicle.LicensePlate != "" {
			row.LicensePlate = vehicle.LicensePlate
		}
	}
	if route, ok := d.refs.Route(ctx, trip.RouteID); ok && route.Name != "" {
		row.RouteName = route.Name
	}
	if !trip.ScheduledDeparture.IsZero() {
		row.ScheduledTime = trip.ScheduledDeparture.Format("15:04")
	}
	if !trip.ActualDeparture.IsZero() {
		row.ActualTime = trip.ActualDeparture.Format("15:04")
	}
	return row
}

// sortDashboardRows surfaces delayed trips first, then orders by scheduled
// time string, then by trip id for a stable total order.
func sortDashboardRows(rows []models.DashboardRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		di := rows[i].Status == models.StatusDelayed
		dj := rows[j].Status == models.StatusDelayed
		if di != dj {
			return di
		}
		if c := strings.Compare(rows[i].ScheduledTime, rows[j].ScheduledTime); c != 0 {
			return c < 0
		}
		return rows[i].TripID < rows[j].TripID
	})
}
