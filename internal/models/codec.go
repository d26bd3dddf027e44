package models

import "time"

// Store document field names for the trips collection.
const (
	FieldRouteID            = "route_id"
	FieldVehicleID          = "vehicle_id"
	FieldDriverID           = "driver_id"
	FieldScheduledSlotID    = "scheduled_slot_id"
	FieldScheduledDeparture = "scheduled_departure_time"
	FieldActualDeparture    = "actual_departure_time"
	FieldFromStopID         = "from_stop_id"
	FieldToStopID           = "to_stop_id"
	FieldStatus             = "current_status"
	FieldStatusReason       = "last_status_reason"
	FieldStatusTime         = "last_status_time"
	FieldLastKnownLocation  = "last_known_location"
	FieldLastUpdated        = "last_updated"
	FieldStartTime          = "trip_start_time"
	FieldEndTime            = "end_time"
)

// TripFromFields decodes a trip document into a Trip. Documents written by
// the in-memory store carry native Go values; documents round-tripped
// through JSON (the durable store) carry strings and generic maps, so both
// shapes are accepted. An unrecognized status decodes as-is into the Status
// field and is filtered out by the reconcilers via ParseStatus.
func TripFromFields(id string, fields map[string]any) Trip {
	t := Trip{
		ID:                 id,
		RouteID:            fieldString(fields, FieldRouteID),
		VehicleID:          fieldString(fields, FieldVehicleID),
		DriverID:           fieldString(fields, FieldDriverID),
		ScheduledSlotID:    fieldString(fields, FieldScheduledSlotID),
		ScheduledDeparture: fieldTime(fields, FieldScheduledDeparture),
		ActualDeparture:    fieldTime(fields, FieldActualDeparture),
		FromStopID:         fieldString(fields, FieldFromStopID),
		ToStopID:           fieldString(fields, FieldToStopID),
		Status:             Status(fieldString(fields, FieldStatus)),
		StatusReason:       fieldString(fields, FieldStatusReason),
		StatusTime:         fieldTime(fields, FieldStatusTime),
		LastUpdated:        fieldTime(fields, FieldLastUpdated),
		StartTime:          fieldTime(fields, FieldStartTime),
		EndTime:            fieldTime(fields, FieldEndTime),
	}
	t.LastKnownLocation = fieldLocation(fields, FieldLastKnownLocation)
	return t
}

// Fields encodes the trip as a full store document, excluding the id.
func (t Trip) Fields() map[string]any {
	fields := map[string]any{
		FieldRouteID:         t.RouteID,
		FieldVehicleID:       t.VehicleID,
		FieldDriverID:        t.DriverID,
		FieldScheduledSlotID: t.ScheduledSlotID,
		FieldFromStopID:      t.FromStopID,
		FieldToStopID:        t.ToStopID,
		FieldStatus:          string(t.Status),
		FieldStatusReason:    t.StatusReason,
	}
	putTime(fields, FieldScheduledDeparture, t.ScheduledDeparture)
	putTime(fields, FieldActualDeparture, t.ActualDeparture)
	putTime(fields, FieldStatusTime, t.StatusTime)
	putTime(fields, FieldLastUpdated, t.LastUpdated)
	putTime(fields, FieldStartTime, t.StartTime)
	putTime(fields, FieldEndTime, t.EndTime)
	if t.LastKnownLocation != nil {
		loc := *t.LastKnownLocation
		fields[FieldLastKnownLocation] = &loc
	} else {
		fields[FieldLastKnownLocation] = nil
	}
	return fields
}

func putTime(fields map[string]any, key string, ts time.Time) {
	if ts.IsZero() {
		fields[key] = nil
		return
	}
	fields[key] = ts
}

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldTime(fields map[string]any, key string) time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func fieldLocation(fields map[string]any, key string) *LatLng {
	switch v := fields[key].(type) {
	case *LatLng:
		if v != nil {
			loc := *v
			return &loc
		}
	case LatLng:
		loc := v
		return &loc
	case map[string]any:
		lat, latOK := v["latitude"].(float64)
		lng, lngOK := v["longitude"].(float64)
		if latOK && lngOK {
			return &LatLng{Latitude: lat, Longitude: lng}
		}
	}
	return nil
}
