package ui

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"reportapp/internal/client"
	"reportapp/internal/core"
	"reportapp/internal/logger"
	"reportapp/web"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 64 << 20

type Options struct {
	Backend  BackendFunc
	Sessions *SessionStore
	// Refresh is how often the dashboard tiles re-poll.
	Refresh time.Duration
}

// Handler serves the browser pages. Every backend call goes through the
// REST client with the session's bearer token.
type Handler struct {
	backend    BackendFunc
	sessions   *SessionStore
	workspaces *Workspaces
	templates  *template.Template
	refresh    time.Duration
	now        func() time.Time
}

func NewHandler(opts Options) (*Handler, error) {
	h := &Handler{
		backend:    opts.Backend,
		sessions:   opts.Sessions,
		workspaces: NewWorkspaces(),
		refresh:    opts.Refresh,
		now:        time.Now,
	}
	funcMap := template.FuncMap{
		"hasPrefix": strings.HasPrefix,
		"join":      strings.Join,
		"ago":       func(t *time.Time) string { return Ago(t, h.now()) },
		"cell":      displayCell,
		"params": func(ps []core.Parameter) string {
			names := make([]string, len(ps))
			for i, p := range ps {
				names[i] = p.Name
			}
			return strings.Join(names, ", ")
		},
	}
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	h.templates = tmpl
	return h, nil
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/login", h.LoginPage)
	r.Post("/login", h.DoLogin)
	r.Get("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireLogin)

		r.Get("/", h.DashboardPage)
		r.Get("/app/dashboard/tiles", h.DashboardTiles)
		r.Post("/app/account/password", h.ChangePassword)
		r.Post("/app/import/preview", h.ImportPreview)
		r.Post("/app/import", h.ImportData)

		r.Get("/report", h.ReportPage)
		r.Post("/app/report/select", h.SelectDefinition)
		r.Post("/app/report/action", h.ReportAction)
		r.Get("/app/report/export/{format}", h.Export)

		r.Get("/powerbi", h.PowerBIPage)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)

			r.Post("/app/users", h.CreateUser)
			r.Post("/app/users/{id}", h.UpdateUser)
			r.Post("/app/users/{id}/delete", h.DeleteUser)

			r.Post("/app/settings", h.SaveSettings)
			r.Post("/app/settings/diag", h.CheckDatabase)

			r.Post("/app/definitions", h.SaveDefinition)
			r.Get("/app/definitions/new", h.NewDefinition)
			r.Get("/app/definitions/{id}/edit", h.EditDefinition)
			r.Post("/app/definitions/{id}/delete", h.DeleteDefinition)

			r.Post("/app/powerbi", h.AddPowerBIReport)
			r.Post("/app/powerbi/{id}/delete", h.DeletePowerBIReport)
			r.Post("/app/powerbi/open-local", h.OpenLocalPowerBI)
		})
	})
	return r
}

type ctxKey int

const sessionKey ctxKey = iota

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// RequireLogin redirects to /login when the session has no token or the
// token has expired.
func (h *Handler) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := h.sessions.Get(r)
		if TokenExpired(s.Token(), h.now()) {
			if s.Token() != "" {
				h.workspaces.Drop(s.WorkspaceID())
				s.Clear()
				s.Save(w, r)
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, s)))
	})
}

func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		if !s.IsAdmin() {
			s.AddFlash("Admin privileges required", FlashError)
			h.redirect(w, r, s, "/")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// workspace returns the session's page state, attaching a new one when the
// session has none yet.
func (h *Handler) workspace(s *Session) *Workspace {
	id, ws := h.workspaces.Get(s.WorkspaceID())
	if id != s.WorkspaceID() {
		s.SetWorkspaceID(id)
	}
	return ws
}

func (h *Handler) api(s *Session) Backend {
	return h.backend(s.Token())
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, s *Session, to string) {
	if err := s.Save(w, r); err != nil {
		logger.Error.Printf("Failed to save session: %v", err)
	}
	http.Redirect(w, r, to, http.StatusFound)
}

func (h *Handler) flash(s *Session, f Flash) {
	if f.Message != "" {
		s.AddFlash(f.Message, f.Kind)
	}
}

// signOut ends the session after the backend rejected its token.
func (h *Handler) signOut(w http.ResponseWriter, r *http.Request, s *Session) {
	h.workspaces.Drop(s.WorkspaceID())
	s.Clear()
	h.redirect(w, r, s, "/login")
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, s *Session, tmplName string, data map[string]any) {
	if s != nil {
		data["Username"] = s.Username()
		data["IsAdmin"] = s.IsAdmin()
		data["Flashes"] = s.Flashes()
		if err := s.Save(w, r); err != nil {
			logger.Error.Printf("Failed to save session: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, tmplName, data); err != nil {
		logger.Error.Printf("Failed to render %s: %v", tmplName, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// FormConfirm reads the answer the browser's confirm dialog wrote into the
// form before submitting.
func FormConfirm(r *http.Request) Confirm {
	return func(string) bool { return r.FormValue("confirm") == "yes" }
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

// Auth pages

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r)
	if !TokenExpired(s.Token(), h.now()) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.render(w, r, s, "login.html", map[string]any{"Title": "Login"})
}

func (h *Handler) DoLogin(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	res, err := h.backend("").Login(r.Context(), username, r.FormValue("password"))
	if err != nil {
		s.AddFlash(err.Error(), FlashError)
		h.redirect(w, r, s, "/login")
		return
	}
	s.SignIn(res.Token, username, res.Role, res.MustChangePassword)
	h.workspace(s)
	logger.Info.Printf("UI login: %s (%s)", username, res.Role)
	if res.MustChangePassword {
		s.AddFlash("Please change your password before continuing.", FlashWarning)
	}
	h.redirect(w, r, s, "/")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r)
	h.signOut(w, r, s)
}

// Dashboard

func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	view := NewDashboard(h.api(s)).Load(r.Context(), s.IsAdmin())
	if view.Unauthorized {
		h.signOut(w, r, s)
		return
	}

	if view.Settings == nil {
		view.Settings = &core.DBSettings{Engine: core.EngineSQLServer, Port: core.DefaultPort, Driver: core.DefaultODBCDriver}
	}

	ws.mu.Lock()
	editing := ws.Editing
	if editing == nil {
		editing = &core.ReportDefinition{Active: true}
	}
	// a few blank rows for new parameters
	paramRows := append(slices.Clone(editing.Parameters), make([]core.Parameter, 3)...)
	data := map[string]any{
		"Title":          "Dashboard",
		"View":           view,
		"Preview":        ws.Preview,
		"PreviewFile":    ws.PreviewFile,
		"Sheets":         ws.Sheets,
		"Sheet":          ws.Sheet,
		"SheetsNA":       ws.PreviewFile != "" && !IsSpreadsheet(ws.PreviewFile),
		"Editing":        editing,
		"ParamRows":      paramRows,
		"ForceChange":    s.ForceChangePassword(),
		"RefreshSeconds": int(h.refresh.Seconds()),
		"CreateNew":      CreateNewTable,
		"Engines":        []string{core.EngineSQLServer, core.EngineODBC, core.EngineMySQL, core.EnginePostgres},
	}
	ws.mu.Unlock()
	h.render(w, r, s, "dashboard.html", data)
}

// DashboardTiles is polled by the dashboard to refresh the summary tiles.
func (h *Handler) DashboardTiles(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if !s.IsAdmin() {
		http.Error(w, "Admin privileges required", http.StatusForbidden)
		return
	}
	summary, activity, err := NewDashboard(h.api(s)).Tiles(r.Context())
	if err != nil {
		if isUnauthorized(err) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.render(w, r, nil, "tiles", map[string]any{
		"View": &DashboardView{Summary: summary, Activity: activity},
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	f := NewDashboard(h.api(s)).ChangePassword(r.Context(), r.FormValue("new_password"), r.FormValue("confirm_password"))
	if f.Kind == FlashSuccess {
		s.SetForceChangePassword(false)
	}
	h.flash(s, f)
	h.redirect(w, r, s, "/#account")
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).CreateUser(r.Context(),
		r.FormValue("username"), r.FormValue("password"), r.FormValue("role")))
	h.redirect(w, r, s, "/#users")
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).UpdateUser(r.Context(), pathID(r),
		r.FormValue("username"), r.FormValue("password"), r.FormValue("role")))
	h.redirect(w, r, s, "/#users")
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).DeleteUser(r.Context(), pathID(r), r.FormValue("username"), FormConfirm(r)))
	h.redirect(w, r, s, "/#users")
}

func settingsFromForm(r *http.Request) core.DBSettings {
	port, _ := strconv.Atoi(r.FormValue("port"))
	if port == 0 {
		port = core.DefaultPort
	}
	return core.DBSettings{
		Engine:          r.FormValue("engine"),
		Driver:          strings.TrimSpace(r.FormValue("driver")),
		Host:            strings.TrimSpace(r.FormValue("host")),
		Port:            port,
		Database:        strings.TrimSpace(r.FormValue("database")),
		ReportDatabase:  strings.TrimSpace(r.FormValue("report_database")),
		ReportsDatabase: strings.TrimSpace(r.FormValue("reports_database")),
		Trusted:         r.FormValue("trusted") != "",
		Encrypt:         r.FormValue("encrypt") != "",
		Username:        strings.TrimSpace(r.FormValue("username")),
		Password:        r.FormValue("password"),
	}
}

// SaveSettings handles both buttons of the settings form.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	dash := NewDashboard(h.api(s))
	settings := settingsFromForm(r)
	if r.FormValue("action") == "test" {
		h.flash(s, dash.TestSettings(r.Context(), settings))
	} else {
		h.flash(s, dash.SaveSettings(r.Context(), settings))
	}
	h.redirect(w, r, s, "/#settings")
}

func (h *Handler) CheckDatabase(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).CheckDatabase(r.Context(), r.FormValue("target")))
	h.redirect(w, r, s, "/#settings")
}

func (h *Handler) NewDefinition(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	ws.mu.Lock()
	ws.Editing = nil
	ws.mu.Unlock()
	s.AddFlash("New definition", FlashInfo)
	h.redirect(w, r, s, "/#definitions")
}

func (h *Handler) EditDefinition(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	def, err := h.api(s).Definition(r.Context(), pathID(r))
	if err != nil {
		h.flash(s, failure(err))
		h.redirect(w, r, s, "/#definitions")
		return
	}
	ws.mu.Lock()
	ws.Editing = def
	ws.mu.Unlock()
	s.AddFlash(fmt.Sprintf("Loaded definition #%d", def.ID), FlashInfo)
	h.redirect(w, r, s, "/#definitions")
}

func (h *Handler) SaveDefinition(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	id, _ := strconv.ParseInt(r.FormValue("id"), 10, 64)
	def := core.ReportDefinition{
		ID:              id,
		ReportName:      strings.TrimSpace(r.FormValue("report_name")),
		StoredProcedure: strings.TrimSpace(r.FormValue("stored_procedure")),
		Parameters:      ParamRowsFromForm(r.Form),
		Active:          r.FormValue("active") != "",
	}
	newID, f := NewDashboard(h.api(s)).SaveDefinition(r.Context(), def)
	def.ID = newID
	ws.mu.Lock()
	ws.Editing = &def
	ws.mu.Unlock()
	h.flash(s, f)
	h.redirect(w, r, s, "/#definitions")
}

func (h *Handler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	id := pathID(r)
	f := NewDashboard(h.api(s)).DeleteDefinition(r.Context(), id, FormConfirm(r))
	if f.Kind == FlashSuccess {
		ws.mu.Lock()
		if ws.Editing != nil && ws.Editing.ID == id {
			ws.Editing = nil
		}
		ws.mu.Unlock()
	}
	h.flash(s, f)
	h.redirect(w, r, s, "/#definitions")
}

func checkbox(r *http.Request, name string) *bool {
	v := r.FormValue(name) != ""
	return &v
}

func (h *Handler) AddPowerBIReport(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).AddPowerBIReport(r.Context(), client.NewPowerBIReport{
		Title:           r.FormValue("title"),
		EmbedURL:        r.FormValue("embed_url"),
		ShowFilterPane:  checkbox(r, "show_filter_pane"),
		ShowNavPane:     checkbox(r, "show_nav_pane"),
		AllowFullscreen: checkbox(r, "allow_fullscreen"),
	}))
	h.redirect(w, r, s, "/#powerbi")
}

func (h *Handler) DeletePowerBIReport(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).DeletePowerBIReport(r.Context(), pathID(r), FormConfirm(r)))
	h.redirect(w, r, s, "/#powerbi")
}

func (h *Handler) OpenLocalPowerBI(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.flash(s, NewDashboard(h.api(s)).OpenLocalPowerBI(r.Context(), r.FormValue("file_path")))
	h.redirect(w, r, s, "/#powerbi")
}

// Import

func readUpload(fh *multipart.FileHeader) (client.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return client.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return client.Upload{}, err
	}
	return client.Upload{Name: fh.Filename, Data: data}, nil
}

// ImportPreview discovers the workbook's sheets, then previews the chosen
// one (the first by default). Without a new file the last upload is
// previewed again, so switching sheets needs no re-upload.
func (h *Handler) ImportPreview(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	var up client.Upload
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
			var rerr error
			if up, rerr = readUpload(fhs[0]); rerr != nil {
				h.flash(s, Flash{Message: "Preview error: " + rerr.Error(), Kind: FlashError})
				h.redirect(w, r, s, "/#import")
				return
			}
		}
	}
	if len(up.Data) == 0 {
		ws.mu.Lock()
		up = client.Upload{Name: ws.PreviewFile, Data: ws.PreviewData}
		ws.mu.Unlock()
	}

	dash := NewDashboard(h.api(s))
	sheets, f := dash.Sheets(r.Context(), up.Name, up.Data)
	h.flash(s, f)
	sheet := PickSheet(sheets, r.FormValue("sheet_name"))
	preview, f := dash.Preview(r.Context(), up.Name, up.Data, sheet)
	h.flash(s, f)

	ws.mu.Lock()
	ws.Preview, ws.PreviewFile, ws.PreviewData = preview, up.Name, up.Data
	ws.Sheets, ws.Sheet = sheets, sheet
	ws.mu.Unlock()
	h.redirect(w, r, s, "/#import")
}

func (h *Handler) ImportData(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	var files []client.Upload
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		for _, fh := range r.MultipartForm.File["files"] {
			up, err := readUpload(fh)
			if err != nil {
				h.flash(s, Flash{Message: "Import error: " + err.Error(), Kind: FlashError})
				h.redirect(w, r, s, "/#import")
				return
			}
			files = append(files, up)
		}
	}
	f := NewDashboard(h.api(s)).Import(r.Context(), files, r.FormValue("table_name"), r.FormValue("sheet_name"))
	if f.Kind != FlashError {
		ws.mu.Lock()
		ws.Preview, ws.PreviewFile, ws.PreviewData = nil, "", nil
		ws.Sheets, ws.Sheet = nil, ""
		ws.mu.Unlock()
	}
	h.flash(s, f)
	h.redirect(w, r, s, "/#import")
}

// Report runner

func (h *Handler) ReportPage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	runner := ws.Runner.Bind(h.api(s))
	if runner.Definitions == nil || r.URL.Query().Get("refresh") != "" {
		if err := runner.LoadDefinitions(r.Context()); err != nil && isUnauthorized(err) {
			h.signOut(w, r, s)
			return
		}
	}
	h.render(w, r, s, "report.html", map[string]any{
		"Title":  "Reports",
		"Runner": runner,
	})
}

func (h *Handler) SelectDefinition(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	id, _ := strconv.ParseInt(r.FormValue("definition_id"), 10, 64)
	ws.mu.Lock()
	runner := ws.Runner.Bind(h.api(s))
	runner.SelectDefinition(r.Context(), id)
	runner.Status = ""
	ws.mu.Unlock()
	h.redirect(w, r, s, "/report")
}

// ReportAction dispatches the buttons of the report form. The typed inputs
// are captured first so they survive the redirect.
func (h *Handler) ReportAction(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	ws := h.workspace(s)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	ws.mu.Lock()
	runner := ws.Runner.Bind(h.api(s))
	runner.Capture(r.Form)

	var err error
	action := r.FormValue("action")
	switch {
	case action == "add_row":
		runner.AddAdhocRow()
	case strings.HasPrefix(action, "remove_row:"):
		i, _ := strconv.Atoi(strings.TrimPrefix(action, "remove_row:"))
		runner.RemoveAdhocRow(i)
	case action == "discover":
		err = runner.DiscoverParameters(r.Context())
	case action == "diagnose":
		runner.Status = "Checking connectivity..."
		err = runner.Diagnose(r.Context())
	case action == "generate":
		err = runner.QuickGenerate(r.Context(), r.FormValue("quick_name"))
	default:
		runner.Status = "Running definition..."
		err = runner.Run(r.Context())
	}
	ws.mu.Unlock()
	if isUnauthorized(err) {
		h.signOut(w, r, s)
		return
	}
	h.redirect(w, r, s, "/report")
}

// Export downloads the last rendered result as csv, excel or txt.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	format, ok := exportFormats[chi.URLParam(r, "format")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	ws := h.workspace(s)
	ws.mu.Lock()
	output, base := ws.Runner.Output, ws.Runner.ExportBase()
	ws.mu.Unlock()

	rendered, err := TableFromHTML(output)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	name := ExportFilename(base, format.ext, h.now())
	if err := s.Save(w, r); err != nil {
		logger.Error.Printf("Failed to save session: %v", err)
	}
	w.Header().Set("Content-Type", format.contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.WriteString(w, format.encode(rendered))
}

// Power BI

func (h *Handler) PowerBIPage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if id, err := strconv.ParseInt(r.URL.Query().Get("report"), 10, 64); err == nil && id > 0 {
		s.SetSelectedPowerBIReport(id)
	}
	view := NewBIViewer(h.api(s)).Load(r.Context(), s.SelectedPowerBIReport())
	h.render(w, r, s, "powerbi.html", map[string]any{
		"Title": "Power BI",
		"View":  view,
	})
}
