package api

import (
	"net/http"
	"strings"

	"reportapp/internal/core"
	"reportapp/internal/data"
	"reportapp/internal/logger"
	"reportapp/internal/service"
)

// settingsRequest is a full settings document as posted by the settings form.
type settingsRequest struct {
	core.SettingsPatch
	AdminPassword string `json:"adminPassword"`
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Load()
	if err != nil {
		fail(w, err, "Failed to read settings")
		return
	}
	if s.ReportDatabase == "" {
		s.ReportDatabase = s.ReportsDatabase
	}
	writeJSON(w, http.StatusOK, s.Redacted())
}

// UpdateSettings merges the non-null fields of the body into the stored
// settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var p core.SettingsPatch
	if err := decodeJSON(r, &p); err != nil {
		fail(w, err, "Failed to update settings")
		return
	}
	s, err := h.Settings.Load()
	if err != nil {
		fail(w, err, "Failed to update settings")
		return
	}
	if err := h.Settings.Save(data.ApplyPatch(s, p)); err != nil {
		fail(w, err, "Failed to update settings")
		return
	}
	logger.Info.Printf("Settings updated by %s", username(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// SaveSettings replaces the stored settings. It accepts either an admin
// bearer token or the admin settings password in the body.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Failed to save settings")
		return
	}

	claims, err := h.Auth.Authenticate(bearerToken(r))
	isAdmin := err == nil && claims.Role == core.RoleAdmin
	if !isAdmin && strings.TrimSpace(req.AdminPassword) != h.AdminSettingsPassword {
		logger.Info.Printf("Rejected settings update due to invalid admin password")
		writeError(w, http.StatusForbidden, "Invalid admin password")
		return
	}

	s := data.ApplyPatch(core.DBSettings{}, req.SettingsPatch)
	if strings.TrimSpace(s.Host) == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	logger.Info.Printf("Saving settings for server: %s, database: %s", s.Host, s.Database)
	if err := h.Settings.Save(s); err != nil {
		fail(w, err, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Settings saved.",
		"url":     service.ConnectionURL(s),
	})
}

// TestSettings probes the posted settings without saving them.
func (h *Handler) TestSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Connection test failed")
		return
	}
	writeJSON(w, http.StatusOK, h.Runtime.TestConnection(r.Context(), data.ApplyPatch(core.DBSettings{}, req.SettingsPatch)))
}

func (h *Handler) ListDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := h.Runtime.ListDatabases(r.Context())
	if err != nil {
		fail(w, err, "Failed to list databases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": names})
}

func (h *Handler) ODBCDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"drivers": h.Runtime.ODBCDrivers()})
}
