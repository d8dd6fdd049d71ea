package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"reportapp/internal/core"
)

type LoginResponse struct {
	Token              string `json:"token"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.sendJSON(ctx, "POST", "/login", map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	return c.sendForm(ctx, "POST", "/me/change-password", Form{Values: url.Values{"new_password": {newPassword}}}, nil)
}

// Report definitions

func (c *Client) Definitions(ctx context.Context) ([]core.ReportDefinition, error) {
	var out struct {
		Items []core.ReportDefinition `json:"items"`
	}
	if err := c.get(ctx, "/report/definitions", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) Definition(ctx context.Context, id int64) (*core.ReportDefinition, error) {
	var out core.ReportDefinition
	if err := c.get(ctx, fmt.Sprintf("/report/definitions/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDefinition(ctx context.Context, d core.ReportDefinition) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.sendJSON(ctx, "POST", "/report/definitions", d, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) UpdateDefinition(ctx context.Context, d core.ReportDefinition) error {
	return c.sendJSON(ctx, "PUT", fmt.Sprintf("/report/definitions/%d", d.ID), d, nil)
}

func (c *Client) DeleteDefinition(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/report/definitions/%d", id), nil)
}

// ParameterValues returns the lookup list for one declared parameter.
func (c *Client) ParameterValues(ctx context.Context, defID int64, param string) ([]any, error) {
	var out struct {
		Values []any `json:"values"`
	}
	path := fmt.Sprintf("/report/parameter-values/%d/%s", defID, url.PathEscape(param))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (c *Client) ProcParameters(ctx context.Context, proc string) ([]core.ProcParameter, error) {
	var out struct {
		Parameters []core.ProcParameter `json:"parameters"`
	}
	if err := c.get(ctx, "/report/proc-parameters?name="+url.QueryEscape(proc), &out); err != nil {
		return nil, err
	}
	return out.Parameters, nil
}

func (c *Client) StoredProcedures(ctx context.Context) ([]core.StoredProcedure, error) {
	var out struct {
		Procedures []core.StoredProcedure `json:"procedures"`
	}
	if err := c.get(ctx, "/report/stored-procedures", &out); err != nil {
		return nil, err
	}
	return out.Procedures, nil
}

// RunReport posts definition_id plus the given param_<name> fields.
func (c *Client) RunReport(ctx context.Context, defID int64, params url.Values) (*core.RunResult, error) {
	values := url.Values{"definition_id": {strconv.FormatInt(defID, 10)}}
	for k, vs := range params {
		values[k] = append(values[k], vs...)
	}
	var out core.RunResult
	if err := c.sendForm(ctx, "POST", "/report/run", Form{Values: values}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateReport(ctx context.Context, name string) (*core.QuickReport, error) {
	values := url.Values{}
	if name != "" {
		values.Set("report_name", name)
	}
	var out core.QuickReport
	if err := c.sendForm(ctx, "POST", "/report/generate", Form{Values: values}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DiagnoseDefinitions returns the raw diagnostics document of the
// definitions database. A 404 (database missing) or 503 (unreachable) still
// carries a diagnostics document, which is returned as-is.
func (c *Client) DiagnoseDefinitions(ctx context.Context) (json.RawMessage, error) {
	return c.diagnose(ctx, "/report/db/diag")
}

// DiagnoseRuntime is DiagnoseDefinitions for the runtime database.
func (c *Client) DiagnoseRuntime(ctx context.Context) (json.RawMessage, error) {
	return c.diagnose(ctx, "/report/db/diag/runtime")
}

func (c *Client) diagnose(ctx context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, path, &out)
	if err == nil {
		return out, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && json.Valid(apiErr.Body) &&
		(apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusServiceUnavailable) {
		return json.RawMessage(apiErr.Body), nil
	}
	return nil, err
}

// AppDiag reports the app database location and user count.
func (c *Client) AppDiag(ctx context.Context) (*AppInfo, error) {
	var out AppInfo
	if err := c.get(ctx, "/diag", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppInfo mirrors the /diag response.
type AppInfo struct {
	DBURL      string `json:"db_url"`
	UsersCount *int   `json:"users_count"`
}

// Users

func (c *Client) Users(ctx context.Context) ([]core.User, error) {
	var out []core.User
	if err := c.get(ctx, "/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, username, password, role string) error {
	values := url.Values{"username": {username}, "password": {password}, "role": {role}}
	return c.sendForm(ctx, "POST", "/create-user", Form{Values: values}, nil)
}

// UpdateUser leaves the password unchanged when it is empty.
func (c *Client) UpdateUser(ctx context.Context, id int64, username, password, role string) error {
	values := url.Values{"username": {username}, "role": {role}}
	if password != "" {
		values.Set("password", password)
	}
	return c.sendForm(ctx, "PUT", fmt.Sprintf("/users/%d", id), Form{Values: values}, nil)
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/users/%d", id), nil)
}

// DB settings

func (c *Client) Settings(ctx context.Context) (*core.DBSettings, error) {
	var out core.DBSettings
	if err := c.get(ctx, "/admin/settings", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, p core.SettingsPatch) error {
	return c.sendJSON(ctx, "PUT", "/admin/settings", p, nil)
}

// ConnectionTest mirrors the /settings/test response.
type ConnectionTest struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	URL        string `json:"url"`
	UsedDriver string `json:"used_driver"`
	Details    string `json:"details"`
}

func (c *Client) TestSettings(ctx context.Context, s core.DBSettings) (*ConnectionTest, error) {
	var out ConnectionTest
	if err := c.sendJSON(ctx, "POST", "/settings/test", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Databases(ctx context.Context) ([]string, error) {
	var out struct {
		Databases []string `json:"databases"`
	}
	if err := c.get(ctx, "/admin/databases", &out); err != nil {
		return nil, err
	}
	return out.Databases, nil
}

func (c *Client) ODBCDrivers(ctx context.Context) ([]string, error) {
	var out struct {
		Drivers []string `json:"drivers"`
	}
	if err := c.get(ctx, "/admin/odbc-drivers", &out); err != nil {
		return nil, err
	}
	return out.Drivers, nil
}

// Import

func (c *Client) SheetNames(ctx context.Context, name string, data []byte) ([]string, error) {
	var out struct {
		SheetNames []string `json:"sheet_names"`
	}
	form := Form{Files: []Upload{{Field: "file", Name: name, Data: data}}}
	if err := c.sendForm(ctx, "POST", "/get-sheet-names", form, &out); err != nil {
		return nil, err
	}
	return out.SheetNames, nil
}

func (c *Client) ImportPreview(ctx context.Context, name string, data []byte, sheet string, maxRows int) (*core.ImportPreview, error) {
	values := url.Values{"max_rows": {strconv.Itoa(maxRows)}}
	if sheet != "" {
		values.Set("sheet_name", sheet)
	}
	form := Form{Values: values, Files: []Upload{{Field: "file", Name: name, Data: data}}}
	var out core.ImportPreview
	if err := c.sendForm(ctx, "POST", "/import-preview", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportResult mirrors the /import-data response.
type ImportResult struct {
	Success      bool                    `json:"success"`
	RowsImported int                     `json:"rows_imported"`
	Details      []core.ImportFileResult `json:"details"`
	ImportLogIDs []int64                 `json:"import_log_ids"`
	TableCreated string                  `json:"table_created"`
}

type ImportRequest struct {
	Files     []Upload
	TableName string
	CreateNew bool
	SheetName string
}

func (c *Client) ImportData(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	values := url.Values{"create_new": {strconv.FormatBool(req.CreateNew)}}
	if req.TableName != "" {
		values.Set("table_name", req.TableName)
	}
	if req.SheetName != "" {
		values.Set("sheet_name", req.SheetName)
	}
	files := make([]Upload, len(req.Files))
	for i, f := range req.Files {
		f.Field = "files"
		files[i] = f
	}
	var out ImportResult
	if err := c.sendForm(ctx, "POST", "/import-data", Form{Values: values, Files: files}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Tables(ctx context.Context) ([]string, error) {
	var out struct {
		Tables []string `json:"tables"`
	}
	if err := c.get(ctx, "/tables", &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// Dashboard

func (c *Client) DashboardSummary(ctx context.Context) (*core.DashboardSummary, error) {
	var out core.DashboardSummary
	if err := c.get(ctx, "/dashboard/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecentActivity(ctx context.Context) ([]core.Activity, error) {
	var out struct {
		Activities []core.Activity `json:"activities"`
	}
	if err := c.get(ctx, "/recent-activity", &out); err != nil {
		return nil, err
	}
	return out.Activities, nil
}

// Power BI

func (c *Client) PowerBIReports(ctx context.Context) ([]core.PowerBIReport, error) {
	var out struct {
		Reports []core.PowerBIReport `json:"reports"`
	}
	if err := c.get(ctx, "/powerbi/reports", &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// NewPowerBIReport is the registry payload; nil flags take the backend
// defaults.
type NewPowerBIReport struct {
	EmbedURL        string `json:"embed_url"`
	Title           string `json:"title"`
	ShowFilterPane  *bool  `json:"show_filter_pane,omitempty"`
	ShowNavPane     *bool  `json:"show_nav_pane,omitempty"`
	AllowFullscreen *bool  `json:"allow_fullscreen,omitempty"`
}

func (c *Client) AddPowerBIReport(ctx context.Context, r NewPowerBIReport) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.sendJSON(ctx, "POST", "/powerbi/reports", r, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) DeletePowerBIReport(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/powerbi/reports/%d", id), nil)
}

func (c *Client) PowerBIHealth(ctx context.Context, embedURL string) (*core.PowerBIHealth, error) {
	var out core.PowerBIHealth
	if err := c.get(ctx, "/powerbi/health?url="+url.QueryEscape(embedURL), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LocalPowerBIFiles(ctx context.Context) ([]core.LocalPBIXFile, error) {
	var out struct {
		Files []core.LocalPBIXFile `json:"files"`
	}
	if err := c.get(ctx, "/powerbi/local-files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// OpenLocalPowerBI asks the server host to open a .pbix in Power BI Desktop.
func (c *Client) OpenLocalPowerBI(ctx context.Context, path string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	form := Form{Values: url.Values{"file_path": {path}}}
	if err := c.sendForm(ctx, "POST", "/powerbi/open-local", form, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
