package api

import (
	"net/http"
)

func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Dashboard.Summary(r.Context())
	if err != nil {
		fail(w, err, "Failed to load dashboard summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"activities": h.Dashboard.Activity(r.Context())})
}
