package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"reportapp/internal/core"
	"reportapp/internal/service"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Defs.GetAll(r.Context())
	if err != nil {
		fail(w, err, "Failed to list definitions")
		return
	}
	if defs == nil {
		defs = []core.ReportDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
}

func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, err, "Failed to fetch definition")
		return
	}
	d, err := h.Defs.GetByID(r.Context(), id)
	if err != nil {
		fail(w, err, "Failed to fetch definition")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type definitionRequest struct {
	ReportName      string           `json:"report_name"`
	StoredProcedure string           `json:"stored_procedure"`
	Parameters      []core.Parameter `json:"parameters"`
	Active          *bool            `json:"active"`
}

func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Failed to create definition")
		return
	}
	d := &core.ReportDefinition{
		ReportName:      req.ReportName,
		StoredProcedure: req.StoredProcedure,
		Parameters:      req.Parameters,
		Active:          req.Active == nil || *req.Active,
	}
	if err := d.Validate(); err != nil {
		fail(w, err, "Failed to create definition")
		return
	}
	if err := h.Defs.Create(r.Context(), d); err != nil {
		fail(w, err, "Failed to create definition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": d.ID, "ok": true})
}

type definitionPatch struct {
	ReportName      *string          `json:"report_name"`
	StoredProcedure *string          `json:"stored_procedure"`
	Parameters      []core.Parameter `json:"parameters"`
	Active          *bool            `json:"active"`
}

// UpdateDefinition applies the fields present in the body.
func (h *Handler) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, err, "Failed to update definition")
		return
	}
	var p definitionPatch
	if err := decodeJSON(r, &p); err != nil {
		fail(w, err, "Failed to update definition")
		return
	}
	d, err := h.Defs.GetByID(r.Context(), id)
	if err != nil {
		fail(w, err, "Failed to update definition")
		return
	}
	if p.ReportName != nil {
		d.ReportName = *p.ReportName
	}
	if p.StoredProcedure != nil {
		d.StoredProcedure = *p.StoredProcedure
	}
	if p.Parameters != nil {
		d.Parameters = p.Parameters
	}
	if p.Active != nil {
		d.Active = *p.Active
	}
	if err := d.Validate(); err != nil {
		fail(w, err, "Failed to update definition")
		return
	}
	if err := h.Defs.Update(r.Context(), d); err != nil {
		fail(w, err, "Failed to update definition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, err, "Failed to delete definition")
		return
	}
	if err := h.Defs.Delete(r.Context(), id); err != nil {
		fail(w, err, "Failed to delete definition")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ParameterValues(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "defID")
	if err != nil {
		fail(w, err, "Failed to load parameter values")
		return
	}
	values, err := h.Executor.ParameterValues(r.Context(), id, chi.URLParam(r, "param"))
	if err != nil {
		fail(w, err, "Failed to load parameter values")
		return
	}
	if values == nil {
		values = []any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (h *Handler) ProcParameters(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	params, err := h.Executor.ProcParameters(r.Context(), name)
	if err != nil {
		fail(w, err, "Failed to read procedure parameters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedure": name, "parameters": params})
}

func (h *Handler) StoredProcedures(w http.ResponseWriter, r *http.Request) {
	procs, err := h.Executor.StoredProcedures(r.Context())
	if err != nil {
		fail(w, err, "Failed to list stored procedures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedures": procs})
}

func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Failed to run report")
		return
	}
	id, err := strconv.ParseInt(r.FormValue("definition_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}
	res, err := h.Executor.Run(r.Context(), id, username(r), r.Form)
	if err != nil {
		fail(w, err, "Failed to run report")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Failed to generate report")
		return
	}
	res, err := h.Executor.Generate(r.Context(), strings.TrimSpace(r.FormValue("report_name")), username(r))
	if err != nil {
		fail(w, err, "Failed to generate report")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DiagDefinitions(w http.ResponseWriter, r *http.Request) {
	h.diagnose(w, r, service.DiagDefinitions)
}

func (h *Handler) DiagRuntime(w http.ResponseWriter, r *http.Request) {
	h.diagnose(w, r, service.DiagRuntime)
}

func (h *Handler) diagnose(w http.ResponseWriter, r *http.Request, target service.DiagTarget) {
	info, err := h.Runtime.Diagnose(r.Context(), target)
	if err == nil {
		writeJSON(w, http.StatusOK, info)
		return
	}

	var connErr *service.ConnectError
	var missing *service.MissingDatabaseError
	switch {
	case errors.As(err, &connErr):
		body := map[string]any{"detail": connErr.Detail, "drivers_available": connErr.Drivers}
		if connErr.Hint != "" {
			body["hint"] = connErr.Hint
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
	case errors.As(err, &missing):
		body := map[string]any{
			"server":              missing.Info.Server,
			"fallback_database":   missing.Info.FallbackDatabase,
			"exists":              false,
			"available_databases": missing.Available,
			"detail":              missing.Error(),
		}
		if missing.Info.ReportDatabase != nil {
			body["report_database"] = *missing.Info.ReportDatabase
		}
		if missing.Info.ReportsDatabase != nil {
			body["reports_database"] = *missing.Info.ReportsDatabase
		}
		writeJSON(w, http.StatusNotFound, body)
	default:
		fail(w, err, "Diagnostics failed")
	}
}
