package api

import (
	"net/http"

	"nimbus.transitwatch.org/internal/models"
)

type schedulePayload struct {
	RouteID string               `json:"route_id"`
	Seq     uint64               `json:"seq"`
	Rows    []models.ScheduleRow `json:"rows"`
	Stats   models.SnapshotStats `json:"stats"`
	Error   string               `json:"error,omitempty"`
}

func (api *API) scheduleForRouteHandler(w http.ResponseWriter, r *http.Request) {
	id := paramID(r, "id")

	if _, ok := api.Catalog.Route(r.Context(), id); !ok {
		api.notFoundResponse(w, r, "route not found")
		return
	}

	snap, ok := api.Hub.Schedule(id)
	if !ok {
		api.notFoundResponse(w, r, "no live schedule for route")
		return
	}

	payload := schedulePayload{
		RouteID: id,
		Seq:     snap.Seq,
		Rows:    snap.Rows,
		Stats:   snap.Stats,
	}
	if snap.Err != nil {
		// A degraded stream is reported, not hidden behind stale rows.
		payload.Rows = []models.ScheduleRow{}
		payload.Error = snap.Err.Error()
	}
	api.sendResponse(w, r, payload)
}
