package handlers

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
