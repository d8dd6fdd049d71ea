package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"reportapp/internal/client"
	"reportapp/internal/core"

	"golang.org/x/sync/errgroup"
)

// Confirm asks the user to approve a destructive action. A false answer
// means nothing is sent to the backend.
type Confirm func(prompt string) bool

// DashboardView is everything the dashboard page shows at once.
type DashboardView struct {
	Summary     *core.DashboardSummary
	Activity    []core.Activity
	Users       []core.User
	Settings    *core.DBSettings
	Drivers     []string
	Databases   []string
	Definitions []core.ReportDefinition
	PowerBI     []core.PowerBIReport
	Tables      []string
	LocalFiles  []core.LocalPBIXFile
	AppDB       *AppDBInfo
	Errors      []string

	// Unauthorized is set when the backend rejected the session token.
	Unauthorized bool
}

// Dashboard drives the admin panels.
type Dashboard struct {
	api AdminAPI
}

func NewDashboard(api AdminAPI) *Dashboard {
	return &Dashboard{api: api}
}

// Load fetches every panel concurrently. A failed panel is reported in
// Errors and the rest still render.
func (d *Dashboard) Load(ctx context.Context, admin bool) *DashboardView {
	v := &DashboardView{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	load := func(panel string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				mu.Lock()
				v.Errors = append(v.Errors, panel+": "+err.Error())
				if isUnauthorized(err) {
					v.Unauthorized = true
				}
				mu.Unlock()
			}
			return nil
		})
	}

	load("Tables", func(ctx context.Context) (err error) {
		v.Tables, err = d.api.Tables(ctx)
		return err
	})
	if admin {
		load("Summary", func(ctx context.Context) (err error) {
			v.Summary, err = d.api.DashboardSummary(ctx)
			return err
		})
		load("Recent activity", func(ctx context.Context) (err error) {
			v.Activity, err = d.api.RecentActivity(ctx)
			return err
		})
		load("Users", func(ctx context.Context) (err error) {
			v.Users, err = d.api.Users(ctx)
			return err
		})
		load("Settings", func(ctx context.Context) (err error) {
			v.Settings, err = d.api.Settings(ctx)
			return err
		})
		load("ODBC drivers", func(ctx context.Context) (err error) {
			v.Drivers, err = d.api.ODBCDrivers(ctx)
			return err
		})
		g.Go(func() error {
			// the server list is optional; the field stays free text without it
			v.Databases, _ = d.api.Databases(gctx)
			return nil
		})
		load("Report definitions", func(ctx context.Context) (err error) {
			v.Definitions, err = d.api.Definitions(ctx)
			return err
		})
		load("Power BI", func(ctx context.Context) (err error) {
			v.PowerBI, err = d.api.PowerBIReports(ctx)
			return err
		})
		load("Local Power BI files", func(ctx context.Context) (err error) {
			v.LocalFiles, err = d.api.LocalPowerBIFiles(ctx)
			return err
		})
		load("App database", func(ctx context.Context) error {
			info, err := d.api.AppDiag(ctx)
			if err != nil {
				return err
			}
			v.AppDB = appDBInfo(info)
			return nil
		})
	}
	g.Wait()
	sort.Strings(v.Errors)
	return v
}

// Tiles reloads only the summary and activity feeds.
func (d *Dashboard) Tiles(ctx context.Context) (*core.DashboardSummary, []core.Activity, error) {
	var (
		summary  *core.DashboardSummary
		activity []core.Activity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary, err = d.api.DashboardSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		activity, err = d.api.RecentActivity(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return summary, activity, nil
}

func isUnauthorized(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func failure(err error) Flash {
	return Flash{Message: "Error: " + err.Error(), Kind: FlashError}
}

// Account

const minPasswordLen = 6

func (d *Dashboard) ChangePassword(ctx context.Context, password, confirm string) Flash {
	if len(password) < minPasswordLen {
		return Flash{Message: "Password must be at least 6 characters", Kind: FlashError}
	}
	if password != confirm {
		return Flash{Message: "Passwords do not match", Kind: FlashError}
	}
	if err := d.api.ChangePassword(ctx, password); err != nil {
		return Flash{Message: "Failed: " + err.Error(), Kind: FlashError}
	}
	return Flash{Message: "Password updated successfully", Kind: FlashSuccess}
}

// Users

func (d *Dashboard) CreateUser(ctx context.Context, username, password, role string) Flash {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Flash{Message: "Username and password are required", Kind: FlashError}
	}
	if role == "" {
		role = core.RoleUser
	}
	if err := d.api.CreateUser(ctx, username, password, role); err != nil {
		return failure(err)
	}
	return Flash{Message: "User created successfully! Username: " + username, Kind: FlashSuccess}
}

func (d *Dashboard) UpdateUser(ctx context.Context, id int64, username, password, role string) Flash {
	username = strings.TrimSpace(username)
	if username == "" {
		return Flash{Message: "Username is required", Kind: FlashError}
	}
	if err := d.api.UpdateUser(ctx, id, username, password, role); err != nil {
		return failure(err)
	}
	return Flash{Message: "User updated successfully! Username: " + username, Kind: FlashSuccess}
}

func (d *Dashboard) DeleteUser(ctx context.Context, id int64, username string, confirm Confirm) Flash {
	if !confirm(fmt.Sprintf("Are you sure you want to delete user %q?", username)) {
		return Flash{}
	}
	if err := d.api.DeleteUser(ctx, id); err != nil {
		return Flash{Message: "Error deleting user: " + err.Error(), Kind: FlashError}
	}
	return Flash{Message: "User deleted successfully! Username: " + username, Kind: FlashSuccess}
}

// DB settings

// SaveSettings merges the form into the stored settings. An empty password
// keeps the stored one.
func (d *Dashboard) SaveSettings(ctx context.Context, s core.DBSettings) Flash {
	if msg := checkSettings(s); msg != "" {
		return Flash{Message: msg, Kind: FlashError}
	}
	patch := core.SettingsPatch{
		Engine:          &s.Engine,
		Driver:          &s.Driver,
		Host:            &s.Host,
		Port:            &s.Port,
		Database:        &s.Database,
		ReportDatabase:  &s.ReportDatabase,
		ReportsDatabase: &s.ReportsDatabase,
		Trusted:         &s.Trusted,
		Encrypt:         &s.Encrypt,
		Username:        &s.Username,
	}
	if s.Password != "" {
		patch.Password = &s.Password
	}
	if err := d.api.UpdateSettings(ctx, patch); err != nil {
		return Flash{Message: "Connection failed: " + err.Error(), Kind: FlashError}
	}
	return Flash{
		Message: fmt.Sprintf("Settings saved. Server: %s, database: %s.", s.Host, s.Database),
		Kind:    FlashSuccess,
	}
}

func (d *Dashboard) TestSettings(ctx context.Context, s core.DBSettings) Flash {
	if msg := checkSettings(s); msg != "" {
		return Flash{Message: msg, Kind: FlashError}
	}
	res, err := d.api.TestSettings(ctx, s)
	if err != nil {
		return Flash{Message: "Connection test failed: " + err.Error(), Kind: FlashError}
	}
	if !res.OK {
		msg := "Connection test failed: " + firstOf(res.Message, "Unable to connect")
		if res.Details != "" {
			msg += " (" + res.Details + ")"
		}
		return Flash{Message: msg, Kind: FlashError}
	}
	return Flash{
		Message: fmt.Sprintf("Connection test successful. Server: %s, database: %s, driver: %s.",
			s.Host, s.Database, firstOf(res.UsedDriver, s.Driver)),
		Kind: FlashSuccess,
	}
}

// Database targets of CheckDatabase.
const (
	DiagReport  = "report"
	DiagRuntime = "runtime"
)

// CheckDatabase tests the report or runtime database with the saved settings.
// A missing database lists the ones the server does have.
func (d *Dashboard) CheckDatabase(ctx context.Context, target string) Flash {
	diagnose := d.api.DiagnoseDefinitions
	if target == DiagRuntime {
		diagnose = d.api.DiagnoseRuntime
	}
	raw, err := diagnose(ctx)
	if err != nil {
		return failure(err)
	}
	var doc struct {
		Detail        string   `json:"detail"`
		UsingDatabase string   `json:"using_database"`
		TablesCount   int      `json:"tables_count"`
		Available     []string `json:"available_databases"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return failure(err)
	}
	if doc.Detail != "" {
		msg := "Failed: " + doc.Detail
		if len(doc.Available) > 0 {
			msg += " (available: " + strings.Join(doc.Available, ", ") + ")"
		}
		return Flash{Message: msg, Kind: FlashError}
	}
	return Flash{
		Message: fmt.Sprintf("Connected. Using DB: %s. Tables: %d.", firstOf(doc.UsingDatabase, "(unknown)"), doc.TablesCount),
		Kind:    FlashSuccess,
	}
}

// AppDBInfo is the application database readout of the settings panel.
type AppDBInfo struct {
	Server   string
	Database string
	Status   string
}

func appDBInfo(info *client.AppInfo) *AppDBInfo {
	out := &AppDBInfo{Server: "N/A", Database: "N/A", Status: "Connected"}
	if path, ok := strings.CutPrefix(info.DBURL, "sqlite://"); ok {
		out.Server = "SQLite (Local)"
		out.Database = firstOf(path, "reportapp.db")
	}
	if info.UsersCount != nil {
		out.Status = fmt.Sprintf("Connected (%d users)", *info.UsersCount)
	}
	return out
}

func checkSettings(s core.DBSettings) string {
	if strings.TrimSpace(s.Host) == "" || strings.TrimSpace(s.Database) == "" {
		return "Please enter both server and database name."
	}
	if !s.Trusted && strings.TrimSpace(s.Username) == "" {
		return "Please enter a username for SQL Authentication."
	}
	return ""
}

// Report definitions

// SaveDefinition creates the definition when ID is zero, else replaces it.
func (d *Dashboard) SaveDefinition(ctx context.Context, def core.ReportDefinition) (int64, Flash) {
	if strings.TrimSpace(def.ReportName) == "" || strings.TrimSpace(def.StoredProcedure) == "" {
		return def.ID, Flash{Message: "Report name and stored procedure are required.", Kind: FlashError}
	}
	if def.ID == 0 {
		id, err := d.api.CreateDefinition(ctx, def)
		if err != nil {
			return 0, failure(err)
		}
		return id, Flash{Message: "Saved.", Kind: FlashSuccess}
	}
	if err := d.api.UpdateDefinition(ctx, def); err != nil {
		return def.ID, failure(err)
	}
	return def.ID, Flash{Message: "Saved.", Kind: FlashSuccess}
}

func (d *Dashboard) DeleteDefinition(ctx context.Context, id int64, confirm Confirm) Flash {
	if id == 0 {
		return Flash{Message: "Select a definition first.", Kind: FlashWarning}
	}
	if !confirm("Delete this definition?") {
		return Flash{}
	}
	if err := d.api.DeleteDefinition(ctx, id); err != nil {
		return failure(err)
	}
	return Flash{Message: "Deleted.", Kind: FlashSuccess}
}

// ParamRowsFromForm reads the parameter editor. Rows with a lookup query
// become objects; the rest stay bare names.
func ParamRowsFromForm(form url.Values) []core.Parameter {
	names, queries := form["param_name"], form["param_query"]
	var params []core.Parameter
	for i, n := range names {
		n = core.NormalizeParamName(n)
		if n == "" {
			continue
		}
		p := core.Parameter{Name: n}
		if i < len(queries) {
			p.ValuesQuery = strings.TrimSpace(queries[i])
		}
		params = append(params, p)
	}
	return params
}

// Power BI registry

func (d *Dashboard) AddPowerBIReport(ctx context.Context, r client.NewPowerBIReport) Flash {
	r.Title = strings.TrimSpace(r.Title)
	r.EmbedURL = strings.TrimSpace(r.EmbedURL)
	if r.Title == "" {
		return Flash{Message: "Report name is required", Kind: FlashError}
	}
	if r.EmbedURL == "" {
		return Flash{Message: "Embed URL is required", Kind: FlashError}
	}
	if _, err := d.api.AddPowerBIReport(ctx, r); err != nil {
		return failure(err)
	}
	return Flash{Message: "Report added successfully!", Kind: FlashSuccess}
}

func (d *Dashboard) DeletePowerBIReport(ctx context.Context, id int64, confirm Confirm) Flash {
	if !confirm("Are you sure you want to delete this report?") {
		return Flash{}
	}
	if err := d.api.DeletePowerBIReport(ctx, id); err != nil {
		return failure(err)
	}
	return Flash{Message: "Report deleted successfully", Kind: FlashSuccess}
}

// OpenLocalPowerBI launches Power BI Desktop on the server host.
func (d *Dashboard) OpenLocalPowerBI(ctx context.Context, path string) Flash {
	if strings.TrimSpace(path) == "" {
		return Flash{Message: "Please select a file", Kind: FlashWarning}
	}
	msg, err := d.api.OpenLocalPowerBI(ctx, path)
	if err != nil {
		return Flash{Message: "Failed to open file: " + err.Error(), Kind: FlashError}
	}
	return Flash{Message: firstOf(msg, "Opening "+filepath.Base(path)), Kind: FlashSuccess}
}

// Import

const previewRows = 10

// IsSpreadsheet reports whether name has sheets to choose from.
func IsSpreadsheet(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}

// Sheets lists the sheets of a workbook upload. CSV files have none.
func (d *Dashboard) Sheets(ctx context.Context, name string, data []byte) ([]string, Flash) {
	if len(data) == 0 || !IsSpreadsheet(name) {
		return nil, Flash{}
	}
	sheets, err := d.api.SheetNames(ctx, name, data)
	if err != nil {
		return nil, Flash{Message: "Failed to load sheet names: " + err.Error(), Kind: FlashWarning}
	}
	return sheets, Flash{}
}

// PickSheet keeps the requested sheet when the workbook has it and
// otherwise falls back to the first one.
func PickSheet(sheets []string, requested string) string {
	if len(sheets) == 0 || slices.Contains(sheets, requested) {
		return requested
	}
	return sheets[0]
}

func (d *Dashboard) Preview(ctx context.Context, name string, data []byte, sheet string) (*core.ImportPreview, Flash) {
	if len(data) == 0 {
		return nil, Flash{Message: "Please select a file first to generate preview", Kind: FlashWarning}
	}
	p, err := d.api.ImportPreview(ctx, name, data, strings.TrimSpace(sheet), previewRows)
	if err != nil {
		return nil, Flash{Message: "Preview failed: " + err.Error(), Kind: FlashError}
	}
	if len(p.Columns) == 0 {
		return p, Flash{Message: "No columns detected in file.", Kind: FlashWarning}
	}
	return p, Flash{}
}

// CreateNewTable is the table choice that derives a table per file.
const CreateNewTable = "__CREATE_NEW__"

func (d *Dashboard) Import(ctx context.Context, files []client.Upload, table, sheet string) Flash {
	if table == "" {
		return Flash{Message: "Please select a table first", Kind: FlashWarning}
	}
	if len(files) == 0 {
		return Flash{Message: "Please choose files to import", Kind: FlashWarning}
	}
	req := client.ImportRequest{Files: files, SheetName: strings.TrimSpace(sheet)}
	if table == CreateNewTable {
		req.CreateNew = true
	} else {
		req.TableName = table
	}
	res, err := d.api.ImportData(ctx, req)
	if err != nil {
		return Flash{Message: "Import Failed: " + err.Error(), Kind: FlashError}
	}
	return importFlash(res)
}

func importFlash(res *client.ImportResult) Flash {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Import Successful! Rows Imported: %d.", res.RowsImported)
	kind := FlashSuccess
	for _, f := range res.Details {
		switch {
		case f.Success:
			fmt.Fprintf(&sb, " %s: %d rows into %s (ID: %s).", f.File, f.Rows, f.Table, formatID(f.ImportLogID))
		case f.Duplicate:
			fmt.Fprintf(&sb, " %s skipped: %s.", f.File, f.Error)
			kind = FlashWarning
		default:
			fmt.Fprintf(&sb, " %s failed: %s.", f.File, f.Error)
			kind = FlashWarning
		}
	}
	if !res.Success {
		kind = FlashError
	}
	return Flash{Message: sb.String(), Kind: kind}
}

// Ago formats a timestamp relative to now for the activity feed.
func Ago(t *time.Time, now time.Time) string {
	if t == nil {
		return ""
	}
	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day") + " ago"
	}
	return t.Local().Format("2006-01-02")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
