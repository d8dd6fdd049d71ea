package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/logger"
	"reportapp/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxUploadBytes = 64 << 20

// Services bundles what the backend handlers depend on.
type Services struct {
	Auth       *service.AuthService
	Executor   *service.ReportExecutor
	Runtime    *service.Runtime
	Importer   *service.Importer
	PowerBI    *service.PowerBIService
	Dashboard  *service.DashboardService
	Settings   core.SettingsStore
	Defs       core.DefinitionRepository
	ImportLogs core.ImportLogRepository

	// AdminSettingsPassword unlocks /settings/save without an admin token.
	AdminSettingsPassword string
	// AppDBPath is reported by /diag.
	AppDBPath string
}

type Handler struct {
	Services
	docs         *DocHandler
	loginLimiter *RateLimiter
	apiLimiter   *RateLimiter
}

func NewHandler(s Services) *Handler {
	return &Handler{
		Services:     s,
		docs:         NewDocHandler(s.Defs),
		loginLimiter: NewRateLimiter(20, 10),
		apiLimiter:   NewRateLimiter(600, 60),
	}
}

// Routes builds the backend router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)

	r.Get("/docs", h.docs.ServeSwaggerUI)
	r.Get("/docs/openapi.json", h.docs.GetOpenAPISpec)
	r.Get("/diag", h.Diag)
	r.With(h.loginLimiter.Middleware).Post("/login", h.Login)
	r.With(h.loginLimiter.Middleware).Post("/settings/save", h.SaveSettings)

	r.Group(func(r chi.Router) {
		r.Use(h.apiLimiter.Middleware)
		r.Use(h.BearerAuth)

		r.Post("/me/change-password", h.ChangePassword)

		r.Get("/report/definitions", h.ListDefinitions)
		r.Get("/report/definitions/{id}", h.GetDefinition)
		r.Get("/report/parameter-values/{defID}/{param}", h.ParameterValues)
		r.Get("/report/proc-parameters", h.ProcParameters)
		r.Post("/report/run", h.RunReport)
		r.Post("/report/generate", h.GenerateReport)
		r.Get("/report/db/diag", h.DiagDefinitions)
		r.Get("/report/db/diag/runtime", h.DiagRuntime)

		r.Post("/get-sheet-names", h.SheetNames)
		r.Post("/import-preview", h.ImportPreview)
		r.Post("/import-data", h.ImportData)
		r.Get("/tables", h.Tables)

		r.Get("/powerbi/reports", h.ListPowerBIReports)
		r.Get("/powerbi/settings", h.PowerBISettings)
		r.Get("/powerbi/health", h.PowerBIHealth)
		r.Get("/powerbi/local-files", h.LocalPowerBIFiles)
		r.Post("/powerbi/open-local", h.OpenLocalPowerBI)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Get("/users", h.ListUsers)
			r.Post("/create-user", h.CreateUser)
			r.Put("/users/{id}", h.UpdateUser)
			r.Delete("/users/{id}", h.DeleteUser)

			r.Get("/admin/settings", h.GetSettings)
			r.Put("/admin/settings", h.UpdateSettings)
			r.Get("/admin/databases", h.ListDatabases)
			r.Get("/admin/odbc-drivers", h.ODBCDrivers)
			r.Post("/settings/test", h.TestSettings)

			r.Post("/report/definitions", h.CreateDefinition)
			r.Put("/report/definitions/{id}", h.UpdateDefinition)
			r.Delete("/report/definitions/{id}", h.DeleteDefinition)
			r.Get("/report/stored-procedures", h.StoredProcedures)

			r.Post("/powerbi/reports", h.AddPowerBIReport)
			r.Delete("/powerbi/reports/{id}", h.DeletePowerBIReport)
			r.Post("/powerbi/settings", h.SavePowerBISettings)

			r.Get("/dashboard/summary", h.DashboardSummary)
			r.Get("/recent-activity", h.RecentActivity)
		})
	})

	return r
}

// Diag reports the application database and its user count.
func (h *Handler) Diag(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{"db_url": "sqlite://" + h.AppDBPath}
	if n, err := h.Auth.CountUsers(r.Context()); err == nil {
		info["users_count"] = n
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps core sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalid), errors.Is(err, core.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Unclassified errors are logged and
// reported with prefix.
func fail(w http.ResponseWriter, err error, prefix string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error.Printf("%s: %v", prefix, err)
		writeError(w, status, prefix+": "+err.Error())
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Invalid("Invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, core.Invalid("Invalid %s", name)
	}
	return id, nil
}

func parseForm(r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return core.Invalid("Invalid form: %v", err)
	}
	return r.ParseForm()
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
