package core

import (
	"strings"
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Role               string    `json:"role"`
	PasswordHash       string    `json:"-"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// ReportDefinition maps a report name to a stored procedure and its inputs.
type ReportDefinition struct {
	ID              int64       `json:"id"`
	ReportName      string      `json:"report_name"`
	StoredProcedure string      `json:"stored_procedure"`
	Parameters      []Parameter `json:"parameters"`
	Active          bool        `json:"active"`
}

// ParamNames returns the declared parameter names in order.
func (d *ReportDefinition) ParamNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names
}

// Param finds a declared parameter by name.
func (d *ReportDefinition) Param(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate checks the definition invariants and normalizes parameter names.
func (d *ReportDefinition) Validate() error {
	if strings.TrimSpace(d.ReportName) == "" {
		return Invalid("report_name is required")
	}
	if strings.TrimSpace(d.StoredProcedure) == "" {
		return Invalid("stored_procedure is required")
	}
	d.ReportName = strings.TrimSpace(d.ReportName)
	d.StoredProcedure = strings.TrimSpace(d.StoredProcedure)
	cleaned := d.Parameters[:0]
	for _, p := range d.Parameters {
		p.Name = NormalizeParamName(p.Name)
		if p.Name == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	d.Parameters = cleaned
	return nil
}

// RunResult is the outcome of a stored procedure execution.
type RunResult struct {
	OK              bool           `json:"ok"`
	ReportLogID     *int64         `json:"report_log_id"`
	ReportName      string         `json:"report_name"`
	StoredProcedure string         `json:"stored_procedure"`
	Parameters      []string       `json:"parameters"`
	InputValues     map[string]any `json:"input_values"`
	Columns         []string       `json:"columns"`
	Rows            [][]any        `json:"rows"`
	RowsReturned    int            `json:"rows_returned"`
	Status          string         `json:"status"`
	Error           *string        `json:"error"`
}

type ProcParameter struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Type      string `json:"type"`
	MaxLength *int64 `json:"max_length,omitempty"`
}

type StoredProcedure struct {
	Name       string          `json:"name"`
	Parameters []ProcParameter `json:"parameters"`
}

type TableCount struct {
	Table string `json:"table"`
	Rows  *int64 `json:"rows"`
}

// QuickReport is the summary produced by the quick report generator.
type QuickReport struct {
	OK                bool         `json:"ok"`
	ReportName        string       `json:"report_name"`
	ReportLogID       *int64       `json:"report_log_id"`
	TablesInspected   int          `json:"tables_inspected"`
	Tables            []TableCount `json:"tables"`
	RowsTotalEstimate *int64       `json:"rows_total_estimate"`
}

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

type ReportLog struct {
	ID         int64      `json:"id"`
	ReportName string     `json:"report_name"`
	UserName   string     `json:"user_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Details    string     `json:"details"`
}

type ImportLog struct {
	ID           int64      `json:"id"`
	FileName     string     `json:"file_name"`
	TableName    string     `json:"table_name"`
	UserName     string     `json:"user_name"`
	FileSize     int64      `json:"file_size"`
	RowsImported int        `json:"rows_imported"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

type PowerBIReport struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	EmbedURL        string `json:"embed_url"`
	Enabled         bool   `json:"enabled"`
	ShowFilterPane  bool   `json:"show_filter_pane"`
	ShowNavPane     bool   `json:"show_nav_pane"`
	AllowFullscreen bool   `json:"allow_fullscreen"`
	SortOrder       int    `json:"sort_order"`
	UpdatedBy       string `json:"-"`
}

// PowerBIHealth describes a probed embed address.
type PowerBIHealth struct {
	InputURL        *string `json:"input_url"`
	NormalizedURL   *string `json:"normalized_url"`
	Classification  string  `json:"classification"`
	StatusCode      *int    `json:"status_code"`
	OK              bool    `json:"ok"`
	NeedsEmbedParam bool    `json:"needs_embed_param"`
	Error           *string `json:"error"`
}

type LocalPBIXFile struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	RelativePath string  `json:"relative_path"`
	Size         int64   `json:"size"`
	SizeMB       float64 `json:"size_mb"`
	Modified     string  `json:"modified"`
}

// DBSettings is the runtime database connection configuration.
type DBSettings struct {
	Engine          string `json:"engine"`
	Driver          string `json:"driver"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Database        string `json:"database"`
	ReportDatabase  string `json:"report_database"`
	ReportsDatabase string `json:"reports_database"`
	Trusted         bool   `json:"trusted"`
	Encrypt         bool   `json:"encrypt"`
	Username        string `json:"username"`
	Password        string `json:"password,omitempty"`
}

const (
	EngineSQLServer = "sqlserver"
	EngineODBC      = "odbc"
	EngineMySQL     = "mysql"
	EnginePostgres  = "postgres"

	DefaultODBCDriver = "ODBC Driver 18 for SQL Server"
	DefaultPort       = 1433
)

// DefinitionsDatabase is the catalog holding report definitions.
func (s DBSettings) DefinitionsDatabase() string {
	return firstNonEmpty(s.ReportDatabase, s.ReportsDatabase, s.Database)
}

// RuntimeDatabase is the catalog stored procedures and lookups run against.
func (s DBSettings) RuntimeDatabase() string {
	return firstNonEmpty(s.ReportsDatabase, s.ReportDatabase, s.Database)
}

// Redacted returns a copy without the password.
func (s DBSettings) Redacted() DBSettings {
	s.Password = ""
	return s
}

// SettingsPatch carries a partial settings update; nil fields are left alone.
type SettingsPatch struct {
	Engine          *string `json:"engine"`
	Driver          *string `json:"driver"`
	Host            *string `json:"host"`
	Port            *int    `json:"port"`
	Database        *string `json:"database"`
	ReportDatabase  *string `json:"report_database"`
	ReportsDatabase *string `json:"reports_database"`
	Trusted         *bool   `json:"trusted"`
	Encrypt         *bool   `json:"encrypt"`
	Username        *string `json:"username"`
	Password        *string `json:"password"`
}

// DiagInfo describes the database a report feature resolved to. Only one of
// ReportDatabase and ReportsDatabase is set, depending on the probed target.
type DiagInfo struct {
	Server           string  `json:"server"`
	ReportDatabase   *string `json:"report_database,omitempty"`
	ReportsDatabase  *string `json:"reports_database,omitempty"`
	FallbackDatabase string  `json:"fallback_database"`
	UsingDatabase    string  `json:"using_database"`
	TablesCount      int     `json:"tables_count"`
}

type ImportPreview struct {
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	SheetNameUsed *string          `json:"sheet_name_used"`
	RowCount      int              `json:"row_count"`
}

// ImportFileResult is the per-file outcome of a bulk import.
type ImportFileResult struct {
	File        string `json:"file"`
	Success     bool   `json:"success"`
	Rows        int    `json:"rows"`
	Table       string `json:"table,omitempty"`
	ImportLogID *int64 `json:"import_log_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

type DashboardSummary struct {
	UsersTotal    int        `json:"users_total"`
	ImportsTotal  int        `json:"imports_total"`
	ImportsLastAt *time.Time `json:"imports_last_at"`
	ReportsTotal  int        `json:"reports_total"`
	ReportsLastAt *time.Time `json:"reports_last_at"`
	TablesCount   int        `json:"tables_count"`
}

type Activity struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	User        string     `json:"user"`
	Timestamp   *time.Time `json:"timestamp"`
	Details     string     `json:"details"`
}
