package models

import "time"

// ScheduleRow is one entry in the merged schedule view: a schedule slot
// enriched with vehicle defaults, possibly overwritten by a matching live
// trip. Rows are value types; a fresh slice of them is produced per snapshot
// and never mutated in place afterwards.
type ScheduleRow struct {
	SlotID           string    `json:"slot_id"`
	RouteID          string    `json:"route_id"`
	Time             string    `json:"time"`
	SlotName         string    `json:"slot_name,omitempty"`
	DaysActive       string    `json:"days_active,omitempty"`
	DefaultVehicleID string    `json:"default_vehicle_id,omitempty"`
	VehicleName      string    `json:"vehicle_name"`
	LicensePlate     string    `json:"license_plate"`
	BusType          string    `json:"bus_type"`
	ServiceType      string    `json:"service_type"`
	Status           Status    `json:"current_status"`
	StatusReason     string    `json:"last_status_reason,omitempty"`
	ActualDeparture  time.Time `json:"actual_departure_time"`
	LiveTripID       string    `json:"live_trip_id,omitempty"`
	Location         *LatLng   `json:"last_known_location,omitempty"`
}

// IsLive reports whether the row is backed by an actively running trip.
func (r ScheduleRow) IsLive() bool { return r.Status.IsLive() }

// DashboardRow is one entry in the cross-route authority view: the surviving
// record for a (driver, route) pair, enriched with display names.
type DashboardRow struct {
	TripID         string    `json:"trip_id"`
	DriverID       string    `json:"driver_id"`
	RouteID        string    `json:"route_id"`
	DriverUsername string    `json:"driver_username"`
	VehicleName    string    `json:"vehicle_name"`
	LicensePlate   string    `json:"license_plate"`
	RouteName      string    `json:"route_name"`
	ScheduledTime  string    `json:"scheduled_time"`
	ActualTime     string    `json:"actual_time"`
	Status         Status    `json:"current_status"`
	Location       *LatLng   `json:"last_known_location,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
}

// SnapshotStats summarizes a merged snapshot for badge/counter display.
type SnapshotStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Cancelled int `json:"cancelled"`
}

// StatsForRows computes counters over a merged schedule snapshot.
func StatsForRows(rows []ScheduleRow) SnapshotStats {
	stats := SnapshotStats{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case StatusOntime, StatusDelayed:
			stats.Active++
			if row.Status == StatusDelayed {
				stats.Delayed++
			}
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}
