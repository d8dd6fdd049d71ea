package api

import (
	"fmt"
	"net/http"
	"strings"

	"reportapp/internal/core"
	"reportapp/internal/service"
)

func (h *Handler) ListPowerBIReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.PowerBI.List(r.Context())
	if err != nil {
		fail(w, err, "Failed to fetch Power BI reports")
		return
	}
	if reports == nil {
		reports = []core.PowerBIReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) AddPowerBIReport(w http.ResponseWriter, r *http.Request) {
	var req service.NewReport
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Failed to add Power BI report")
		return
	}
	rep, err := h.PowerBI.Add(r.Context(), req, username(r))
	if err != nil {
		fail(w, err, "Failed to add Power BI report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"id":                   rep.ID,
		"message":              fmt.Sprintf("Power BI report '%s' added successfully", rep.Name),
		"normalized_embed_url": rep.EmbedURL,
	})
}

func (h *Handler) DeletePowerBIReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, err, "Failed to delete Power BI report")
		return
	}
	if err := h.PowerBI.Delete(r.Context(), id, username(r)); err != nil {
		fail(w, err, "Failed to delete Power BI report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Power BI report deleted successfully"})
}

// PowerBISettings reports the first enabled embed.
func (h *Handler) PowerBISettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.PowerBI.Settings(r.Context()))
}

// SavePowerBISettings appends an embed. Settings reads the first enabled
// entry, so this only changes what the viewer shows on an empty registry.
func (h *Handler) SavePowerBISettings(w http.ResponseWriter, r *http.Request) {
	var req service.NewReport
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Failed to save Power BI settings")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "Power BI Dashboard"
	}
	rep, err := h.PowerBI.Add(r.Context(), req, username(r))
	if err != nil {
		fail(w, err, "Failed to save Power BI settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"message":              "Power BI settings saved successfully",
		"normalized_embed_url": rep.EmbedURL,
	})
}

func (h *Handler) PowerBIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.PowerBI.Health(r.Context(), r.URL.Query().Get("url")))
}

func (h *Handler) LocalPowerBIFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.PowerBI.LocalFiles()
	if err != nil {
		fail(w, err, "Failed to list Power BI files")
		return
	}
	if files == nil {
		files = []core.LocalPBIXFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *Handler) OpenLocalPowerBI(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Failed to open Power BI file")
		return
	}
	msg, err := h.PowerBI.OpenLocal(r.FormValue("file_path"))
	if err != nil {
		fail(w, err, "Failed to open Power BI file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}
