package api

import "net/http"

func (api *API) routesHandler(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, r, api.Catalog.Routes())
}
