// Package catalog loads the static reference data (routes, stops, vehicles,
// drivers) and builds the schedule baseline that live trip state is merged
// onto.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nimbus.transitwatch.org/internal/models"
	"nimbus.transitwatch.org/internal/store"
)

// Catalog caches reference documents for one session. Reference data is
// created and mutated by back-office processes; within a session it is
// treated as read-only, so lookups hit the cache first and fall back to a
// point read for ids that appeared after loading (a trip may reference a
// vehicle added mid-session).
type Catalog struct {
	store store.Store

	mu       sync.RWMutex
	routes   map[string]models.Route
	stops    map[string]models.Stop
	vehicles map[string]models.Vehicle
	drivers  map[string]models.Driver
}

// New returns a catalog backed by the given store. Call LoadReferences
// before serving lookups.
func New(s store.Store) *Catalog {
	return &Catalog{
		store:    s,
		routes:   map[string]models.Route{},
		stops:    map[string]models.Stop{},
		vehicles: map[string]models.Vehicle{},
		drivers:  map[string]models.Driver{},
	}
}

// LoadReferences fetches all reference collections into the cache.
func (c *Catalog) LoadReferences(ctx context.Context) error {
	routes, err := c.store.Query(ctx, store.CollectionRoutes, nil, "")
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	stops, err := c.store.Query(ctx, store.CollectionStops, nil, "")
	if err != nil {
		return fmt.Errorf("failed to load stops: %w", err)
	}
	vehicles, err := c.store.Query(ctx, store.CollectionVehicles, nil, "")
	if err != nil {
		return fmt.Errorf("failed to load vehicles: %w", err)
	}
	drivers, err := c.store.Query(ctx, store.CollectionDrivers, nil, "")
	if err != nil {
		return fmt.Errorf("failed to load drivers: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range routes {
		c.routes[doc.ID] = routeFromDoc(doc)
	}
	for _, doc := range stops {
		c.stops[doc.ID] = stopFromDoc(doc)
	}
	for _, doc := range vehicles {
		c.vehicles[doc.ID] = vehicleFromDoc(doc)
	}
	for _, doc := range drivers {
		c.drivers[doc.ID] = driverFromDoc(doc)
	}
	return nil
}

// Routes returns all cached routes.
func (c *Catalog) Routes() []models.Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routes := make([]models.Route, 0, len(c.routes))
	for _, r := range c.routes {
		routes = append(routes, r)
	}
	return routes
}

// Route looks up a route by id.
func (c *Catalog) Route(ctx context.Context, id string) (models.Route, bool) {
	c.mu.RLock()
	r, ok := c.routes[id]
	c.mu.RUnlock()
	if ok {
		return r, true
	}
	doc, err := c.store.GetByID(ctx, store.CollectionRoutes, id)
	if err != nil {
		return models.Route{}, false
	}
	r = routeFromDoc(doc)
	c.mu.Lock()
	c.routes[id] = r
	c.mu.Unlock()
	return r, true
}

// Stop looks up a stop by id.
func (c *Catalog) Stop(ctx context.Context, id string) (models.Stop, bool) {
	c.mu.RLock()
	s, ok := c.stops[id]
	c.mu.RUnlock()
	if ok {
		return s, true
	}
	doc, err := c.store.GetByID(ctx, store.CollectionStops, id)
	if err != nil {
		return models.Stop{}, false
	}
	s = stopFromDoc(doc)
	c.mu.Lock()
	c.stops[id] = s
	c.mu.Unlock()
	return s, true
}

// Vehicle looks up a vehicle by id.
func (c *Catalog) Vehicle(ctx context.Context, id string) (models.Vehicle, bool) {
	if id == "" {
		return models.Vehicle{}, false
	}
	c.mu.RLock()
	v, ok := c.vehicles[id]
	c.mu.RUnlock()
	if ok {
		return v, true
	}
	doc, err := c.store.GetByID(ctx, store.CollectionVehicles, id)
	if err != nil {
		return models.Vehicle{}, false
	}
	v = vehicleFromDoc(doc)
	c.mu.Lock()
	c.vehicles[id] = v
	c.mu.Unlock()
	return v, true
}

// Driver looks up a driver by id.
func (c *Catalog) Driver(ctx context.Context, id string) (models.Driver, bool) {
	c.mu.RLock()
	d, ok := c.drivers[id]
	c.mu.RUnlock()
	if ok {
		return d, true
	}
	doc, err := c.store.GetByID(ctx, store.CollectionDrivers, id)
	if err != nil {
		return models.Driver{}, false
	}
	d = driverFromDoc(doc)
	c.mu.Lock()
	c.drivers[id] = d
	c.mu.Unlock()
	return d, true
}

// ErrRouteHasNoStops is returned when a route's endpoints are requested but
// its stop list is empty.
var ErrRouteHasNoStops = errors.New("route has no stops")

// RouteEndpoints returns the origin and destination stops of a route.
func (c *Catalog) RouteEndpoints(ctx context.Context, routeID string) (origin, destination models.Stop, err error) {
	route, ok := c.Route(ctx, routeID)
	if !ok {
		return models.Stop{}, models.Stop{}, fmt.Errorf("route %q: %w", routeID, store.ErrNotFound)
	}
	if len(route.StopIDs) == 0 {
		return models.Stop{}, models.Stop{}, fmt.Errorf("route %q: %w", routeID, ErrRouteHasNoStops)
	}
	origin, ok = c.Stop(ctx, route.StopIDs[0])
	if !ok {
		return models.Stop{}, models.Stop{}, fmt.Errorf("origin stop %q: %w", route.StopIDs[0], store.ErrNotFound)
	}
	destination, ok = c.Stop(ctx, route.StopIDs[len(route.StopIDs)-1])
	if !ok {
		return models.Stop{}, models.Stop{}, fmt.Errorf("destination stop %q: %w", route.StopIDs[len(route.StopIDs)-1], store.ErrNotFound)
	}
	return origin, destination, nil
}

func routeFromDoc(doc store.Document) models.Route {
	r := models.Route{
		ID:   doc.ID,
		Name: stringField(doc.Fields, "routename"),
	}
	switch ids := doc.Fields["stop_ids"].(type) {
	case []string:
		r.StopIDs = append(r.StopIDs, ids...)
	case []any:
		for _, id := range ids {
			if s, ok := id.(string); ok {
				r.StopIDs = append(r.StopIDs, s)
			}
		}
	}
	return r
}

func stopFromDoc(doc store.Document) models.Stop {
	return models.Stop{
		ID:        doc.ID,
		Name:      stringField(doc.Fields, "name"),
		Latitude:  floatField(doc.Fields, "latitude"),
		Longitude: floatField(doc.Fields, "longitude"),
	}
}

func vehicleFromDoc(doc store.Document) models.Vehicle {
	return models.Vehicle{
		ID:           doc.ID,
		DisplayName:  stringField(doc.Fields, "display_name"),
		LicensePlate: stringField(doc.Fields, "license_plate"),
		BusType:      stringField(doc.Fields, "bus_type"),
		ServiceType:  stringField(doc.Fields, "service_type"),
	}
}

func driverFromDoc(doc store.Document) models.Driver {
	return models.Driver{
		ID:       doc.ID,
		Username: stringField(doc.Fields, "username"),
	}
}

func stringField(fields store.Fields, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func floatField(fields store.Fields, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
