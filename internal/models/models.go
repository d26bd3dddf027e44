package models

import "time"

// LatLng is a geographic coordinate pair in decimal degrees.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Route is a static, back-office managed route definition. StopIDs is
// ordered: the first entry is the origin, the last is the destination.
type Route struct {
	ID      string   `json:"id"`
	Name    string   `json:"routename"`
	StopIDs []string `json:"stop_ids"`
}

// Stop is a static named location on a route.
type Stop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the stop's coordinate.
func (s Stop) Point() LatLng {
	return LatLng{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Vehicle is a static vehicle record.
type Vehicle struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	LicensePlate string `json:"license_plate"`
	BusType      string `json:"bus_type"`
	ServiceType  string `json:"service_type"`
}

// Driver identifies a driver account. The ID doubles as the auth principal
// id referenced by trips.
type Driver struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ScheduleSlot is a recurring timetable entry for a route, independent of
// any concrete trip. Time is a clock time-of-day formatted "HH:MM"; the
// format sorts lexically, which the reconcilers rely on.
type ScheduleSlot struct {
	ID               string `json:"id"`
	RouteID          string `json:"route_id"`
	Time             string `json:"time"`
	SlotName         string `json:"slot_name,omitempty"`
	DefaultVehicleID string `json:"default_vehicle_id,omitempty"`
	DaysActive       string `json:"days_active,omitempty"`
}

// Trip is the mutable, high-churn entity: one concrete vehicle run along a
// route, created when a driver starts it. Field names mirror the store
// document fields.
type Trip struct {
	ID                 string    `json:"id"`
	RouteID            string    `json:"route_id"`
	VehicleID          string    `json:"vehicle_id"`
	DriverID           string    `json:"driver_id"`
	ScheduledSlotID    string    `json:"scheduled_slot_id,omitempty"`
	ScheduledDeparture time.Time `json:"scheduled_departure_time"`
	ActualDeparture    time.Time `json:"actual_departure_time"`
	FromStopID         string    `json:"from_stop_id,omitempty"`
	ToStopID           string    `json:"to_stop_id,omitempty"`
	Status             Status    `json:"current_status"`
	StatusReason       string    `json:"last_status_reason,omitempty"`
	StatusTime         time.Time `json:"last_status_time"`
	LastKnownLocation  *LatLng   `json:"last_known_location,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
	StartTime          time.Time `json:"trip_start_time"`
	EndTime            time.Time `json:"end_time"`
}

// LatestActivity returns the most recent instant the trip was touched,
// preferring the status-change time, then the location update time, then the
// trip start. ok is false when the trip carries none of the three, in which
// case it must be excluded from latest-wins dedup.
func (t Trip) LatestActivity() (time.Time, bool) {
	for _, ts := range []time.Time{t.StatusTime, t.LastUpdated, t.StartTime} {
		if !ts.IsZero() {
			return ts, true
		}
	}
	return time.Time{}, false
}
