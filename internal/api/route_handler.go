package api

import (
	"net/http"

	"nimbus.transitwatch.org/internal/models"
)

type routePayload struct {
	Route       models.Route `json:"route"`
	Origin      models.Stop  `json:"origin"`
	Destination models.Stop  `json:"destination"`
}

func (api *API) routeHandler(w http.ResponseWriter, r *http.Request) {
	id := paramID(r, "id")

	route, ok := api.Catalog.Route(r.Context(), id)
	if !ok {
		api.notFoundResponse(w, r, "route not found")
		return
	}

	// The route exists, so any endpoint failure here is broken reference
	// data (no stops, or a stop id pointing nowhere).
	origin, destination, err := api.Catalog.RouteEndpoints(r.Context(), id)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, routePayload{
		Route:       route,
		Origin:      origin,
		Destination: destination,
	})
}
