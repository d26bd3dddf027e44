package api

import (
	"net/http"

	"nimbus.transitwatch.org/internal/models"
)

type dashboardPayload struct {
	Seq   uint64                `json:"seq"`
	Rows  []models.DashboardRow `json:"rows"`
	Stats models.SnapshotStats  `json:"stats"`
	Error string                `json:"error,omitempty"`
}

func (api *API) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := api.Hub.Dashboard()
	if !ok {
		api.notFoundResponse(w, r, "dashboard feed not running")
		return
	}

	payload := dashboardPayload{
		Seq:   snap.Seq,
		Rows:  snap.Dashboard,
		Stats: snap.Stats,
	}
	if snap.Err != nil {
		payload.Rows = []models.DashboardRow{}
		payload.Error = snap.Err.Error()
	}
	api.sendResponse(w, r, payload)
}
