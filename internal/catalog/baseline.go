package catalog

import (
	"context"
	"fmt"

	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/store"
)

// LoadBaseline fetches the schedule slots for a route, ordered by time
// ascending, and enriches each with its default vehicle's display fields.
// The result is the pristine baseline for a search session: every merge
// starts from a copy of it (CloneRows) and the baseline itself is never
// mutated.
func (c *Catalog) LoadBaseline(ctx context.Context, routeID string) ([]models.ScheduleRow, error) {
	docs, err := c.store.Query(ctx, store.CollectionSchedules,
		[]store.Filter{store.Eq("route_id", routeID)}, "time")
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules for route %q: %w", routeID, err)
	}

	rows := make([]models.ScheduleRow, 0, len(docs))
	for _, doc := range docs {
		row := models.ScheduleRow{
			SlotID:           doc.ID,
			RouteID:          routeID,
			Time:             stringField(doc.Fields, "time"),
			SlotName:         stringField(doc.Fields, "slot_name"),
			DaysActive:       stringField(doc.Fields, "days_active"),
			DefaultVehicleID: stringField(doc.Fields, "default_vehicle_id"),
			Status:           models.StatusScheduled,
			VehicleName:      models.NAValue,
			LicensePlate:     models.NAValue,
			BusType:          models.NAValue,
			ServiceType:      models.NAValue,
		}
		if row.DefaultVehicleID != "" {
			if vehicle, ok := c.Vehicle(ctx, row.DefaultVehicleID); ok {
				ApplyVehicle(&row, vehicle)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CloneRows deep-copies a row slice so a merge cycle cannot leak mutations
// back into the shared baseline.
func CloneRows(rows []models.ScheduleRow) []models.ScheduleRow {
	cloned := make([]models.ScheduleRow, len(rows))
	for i, row := range rows {
		cloned[i] = row
		if row.Location != nil {
			loc := *row.Location
			cloned[i].Location = &loc
		}
	}
	return cloned
}

// ApplyVehicle overwrites the row's vehicle display fields, substituting
// "N/A" for blanks.
func ApplyVehicle(row *models.ScheduleRow, vehicle models.Vehicle) {
	row.VehicleName = orNA(vehicle.DisplayName)
	row.LicensePlate = orNA(vehicle.LicensePlate)
	row.BusType = orNA(vehicle.BusType)
	row.ServiceType = orNA(vehicle.ServiceType)
}

func orNA(s string) string {
	if s == "" {
		return models.NAValue
	}
	return s
}
