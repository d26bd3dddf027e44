package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jamespfennell/gtfs"

	"nimbus.transitwatch.org/internal/store"
)

// ImportGTFS seeds the reference collections from a parsed static GTFS feed,
// standing in for the back-office processes that populate them in
// production. Each scheduled trip becomes a schedule slot on its route,
// keyed by the departure time at the trip's first stop; duplicate departure
// times on a route collapse into one slot.
func ImportGTFS(ctx context.Context, s store.Store, static *gtfs.Static) error {
	for i := range static.Stops {
		stop := &static.Stops[i]
		fields := store.Fields{"name": stop.Name}
		if stop.Latitude != nil {
			fields["latitude"] = *stop.Latitude
		}
		if stop.Longitude != nil {
			fields["longitude"] = *stop.Longitude
		}
		if err := s.Set(ctx, store.CollectionStops, stop.Id, fields); err != nil {
			return fmt.Errorf("failed to import stop %q: %w", stop.Id, err)
		}
	}

	// Longest stop sequence observed per route doubles as the route's
	// ordered stop list.
	routeStops := map[string][]string{}
	type slot struct {
		routeID  string
		time     string
		slotName string
	}
	slots := map[string]slot{}

	for i := range static.Trips {
		trip := &static.Trips[i]
		if trip.Route == nil || len(trip.StopTimes) == 0 {
			continue
		}
		stopIDs := make([]string, 0, len(trip.StopTimes))
		for _, st := range trip.StopTimes {
			if st.Stop != nil {
				stopIDs = append(stopIDs, st.Stop.Id)
			}
		}
		if len(stopIDs) > len(routeStops[trip.Route.Id]) {
			routeStops[trip.Route.Id] = stopIDs
		}

		departure := clockTime(trip.StopTimes[0].DepartureTime)
		key := trip.Route.Id + "@" + departure
		if _, seen := slots[key]; !seen {
			slots[key] = slot{
				routeID:  trip.Route.Id,
				time:     departure,
				slotName: trip.Headsign,
			}
		}
	}

	for i := range static.Routes {
		route := &static.Routes[i]
		name := route.LongName
		if name == "" {
			name = route.ShortName
		}
		fields := store.Fields{
			"routename": name,
			"stop_ids":  routeStops[route.Id],
		}
		if err := s.Set(ctx, store.CollectionRoutes, route.Id, fields); err != nil {
			return fmt.Errorf("failed to import route %q: %w", route.Id, err)
		}
	}

	keys := make([]string, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sl := slots[key]
		err := s.Set(ctx, store.CollectionSchedules, key, store.Fields{
			"route_id":  sl.routeID,
			"time":      sl.time,
			"slot_name": sl.slotName,
		})
		if err != nil {
			return fmt.Errorf("failed to import schedule slot %q: %w", key, err)
		}
	}
	return nil
}

// clockTime renders a GTFS seconds-after-midnight offset as "HH:MM".
// Times past 24:00 (overnight service) wrap into the next day's clock.
func clockTime(offset time.Duration) string {
	offset = offset % (24 * time.Hour)
	return fmt.Sprintf("%02d:%02d", int(offset/time.Hour), int(offset%time.Hour/time.Minute))
}
