package reconcile

import (
	"context"
	"sort"
	"strings"

	"nimbus.transitwatch.org/internal/catalog"
	"nimbus.transitwatch.org/internal/models"
)

// VehicleResolver resolves a vehicle record for display enrichment.
// *catalog.Catalog satisfies it.
type VehicleResolver interface {
	Vehicle(ctx context.Context, id string) (models.Vehicle, bool)
}

// ScheduleView merges live trip documents for a single route into that
// route's schedule baseline. Every merge starts from a fresh deep copy of
// the baseline, so a trip that disappears from the input batch leaves no
// residue in the next snapshot.
type ScheduleView struct {
	routeID  string
	baseline []models.ScheduleRow
	vehicles VehicleResolver
}

// NewScheduleView builds a view over a loaded baseline. The baseline slice
// is owned by the view afterwards and must not be mutated by the caller.
func NewScheduleView(routeID string, baseline []models.ScheduleRow, vehicles VehicleResolver) *ScheduleView {
	return &ScheduleView{routeID: routeID, baseline: baseline, vehicles: vehicles}
}

// RouteID returns the route this view merges trips for.
func (v *ScheduleView) RouteID() string { return v.routeID }

// Merge produces the current schedule snapshot from one batch of trip
// documents. Trips for other routes and trips with an unknown status are
// ignored. When several trips in the batch target the same slot, the one
// with the most recent activity wins.
func (v *ScheduleView) Merge(ctx context.Context, trips []models.Trip) []models.ScheduleRow {
	rows := catalog.CloneRows(v.baseline)
	bySlot := make(map[string]int, len(rows))
	for i, row := range rows {
		bySlot[row.SlotID] = i
	}

	relevant := make([]models.Trip, 0, len(trips))
	for _, trip := range trips {
		if trip.RouteID != v.routeID {
			continue
		}
		if _, err := models.ParseStatus(string(trip.Status)); err != nil {
			continue
		}
		relevant = append(relevant, trip)
	}

	winners := LatestBy(relevant, func(t models.Trip) string {
		if t.ScheduledSlotID != "" {
			return "slot/" + t.ScheduledSlotID
		}
		return "trip/" + t.ID
	}, models.Trip.LatestActivity)

	var adHoc []models.ScheduleRow
	for _, trip := range winners {
		idx, scheduled := bySlot[trip.ScheduledSlotID]
		if trip.ScheduledSlotID == "" {
			scheduled = false
		}
		if !scheduled {
			if row, ok := v.adHocRow(ctx, trip); ok {
				adHoc = append(adHoc, row)
			}
			continue
		}
		v.applyTrip(ctx, &rows[idx], trip)
	}

	rows = append(rows, adHoc...)
	sortScheduleRows(rows)
	return rows
}

// applyTrip overwrites a baseline row with the state of its matching trip.
func (v *ScheduleView) applyTrip(ctx context.Context, row *models.ScheduleRow, trip models.Trip) {
	switch trip.Status {
	case models.StatusOntime, models.StatusDelayed:
		if trip.VehicleID != "" && trip.VehicleID != row.DefaultVehicleID {
			if vehicle, ok := v.vehicles.Vehicle(ctx, trip.VehicleID); ok {
				catalog.ApplyVehicle(row, vehicle)
			}
		}
		row.Status = trip.Status
		row.StatusReason = trip.StatusReason
		row.ActualDeparture = trip.ActualDeparture
		row.LiveTripID = trip.ID
		row.Location = cloneLocation(trip.LastKnownLocation)
	case models.StatusCancelled:
		// The slot's default vehicle fields stay on the row so the
		// cancelled entry is still attributable on screen.
		row.Status = models.StatusCancelled
		row.StatusReason = trip.StatusReason
		row.ActualDeparture = trip.ActualDeparture
		row.LiveTripID = ""
		row.Location = nil
	case models.StatusCompleted:
		// Completed trips release their slot entirely; the baseline row
		// already holds the pristine scheduled state.
	}
}

// adHocRow builds a standalone row for a trip that references no schedule
// slot. Completed ad-hoc trips contribute nothing.
func (v *ScheduleView) adHocRow(ctx context.Context, trip models.Trip) (models.ScheduleRow, bool) {
	if !trip.Status.IsLive() && trip.Status != models.StatusCancelled {
		return models.ScheduleRow{}, false
	}
	row := models.ScheduleRow{
		RouteID:      trip.RouteID,
		VehicleName:  models.NAValue,
		LicensePlate: models.NAValue,
		BusType:      models.NAValue,
		ServiceType:  models.NAValue,
		Status:       trip.Status,
		StatusReason: trip.StatusReason,
	}
	if trip.VehicleID != "" {
		if vehicle, ok := v.vehicles.Vehicle(ctx, trip.VehicleID); ok {
			catalog.ApplyVehicle(&row, vehicle)
		}
	}
	if trip.Status.IsLive() {
		row.ActualDeparture = trip.ActualDeparture
		row.LiveTripID = trip.ID
		row.Location = cloneLocation(trip.LastKnownLocation)
	}
	return row, true
}

// sortScheduleRows orders rows by license plate (case-insensitive), then by
// departure time string. Rows without a departure time sort after rows that
// have one.
func sortScheduleRows(rows []models.ScheduleRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi := strings.ToUpper(rows[i].LicensePlate)
		pj := strings.ToUpper(rows[j].LicensePlate)
		if pi != pj {
			return pi < pj
		}
		ti, tj := rows[i].Time, rows[j].Time
		if (ti == "") != (tj == "") {
			return ti != ""
		}
		return ti < tj
	})
}

func cloneLocation(loc *models.LatLng) *models.LatLng {
	if loc == nil {
		return nil
	}
	clone := *loc
	return &clone
}
