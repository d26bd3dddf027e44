// Package api exposes the merged snapshots over a read-only HTTP surface:
// the route schedule view, the cross-route dashboard and their counters.
package api

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"nimbus.transitwatch.org/internal/app"
)

// API serves the snapshot endpoints.
type API struct {
	*app.Application
	Hub *Hub
}

func New(application *app.Application, hub *Hub) *API {
	return &API{Application: application, Hub: hub}
}

// Router builds the httprouter with all endpoints registered.
func (api *API) Router() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/api/routes", api.routesHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id", api.routeHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id/schedule", api.scheduleForRouteHandler)
	router.HandlerFunc(http.MethodGet, "/api/dashboard", api.dashboardHandler)
	router.HandlerFunc(http.MethodGet, "/healthz", api.healthHandler)
	return router
}

// paramID retrieves a path parameter, tolerating a ".json" suffix.
func paramID(r *http.Request, name string) string {
	params := httprouter.ParamsFromContext(r.Context())
	return strings.Split(params.ByName(name), ".json")[0]
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, map[string]string{"status": "ok"})
}
