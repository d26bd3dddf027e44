package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type envelope struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Data        any    `json:"data,omitempty"`
	Text        string `json:"text,omitempty"`
}

func (api *API) sendResponse(w http.ResponseWriter, r *http.Request, data any) {
	w.Header().Set("Content-Type", "application/json")
	response := envelope{
		Code:        http.StatusOK,
		CurrentTime: time.Now().UnixMilli(),
		Data:        data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.Logger.Error("failed to encode response", "error", err)
	}
}

func (api *API) notFoundResponse(w http.ResponseWriter, r *http.Request, text string) {
	api.sendError(w, http.StatusNotFound, text)
}

func (api *API) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	api.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	api.sendError(w, http.StatusInternalServerError, "internal server error")
}

func (api *API) sendError(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	response := envelope{
		Code:        code,
		CurrentTime: time.Now().UnixMilli(),
		Text:        text,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.Logger.Error("failed to encode error response", "error", err)
	}
}
