package ui

import (
	"context"
	"encoding/json"
	"net/url"

	"reportapp/internal/client"
	"reportapp/internal/core"
)

// ReportAPI is what the report runner needs from the backend.
type ReportAPI interface {
	Definitions(ctx context.Context) ([]core.ReportDefinition, error)
	Definition(ctx context.Context, id int64) (*core.ReportDefinition, error)
	ParameterValues(ctx context.Context, defID int64, param string) ([]any, error)
	ProcParameters(ctx context.Context, proc string) ([]core.ProcParameter, error)
	RunReport(ctx context.Context, defID int64, params url.Values) (*core.RunResult, error)
	GenerateReport(ctx context.Context, name string) (*core.QuickReport, error)
	DiagnoseDefinitions(ctx context.Context) (json.RawMessage, error)
}

// BIAPI is what the Power BI viewer needs.
type BIAPI interface {
	PowerBIReports(ctx context.Context) ([]core.PowerBIReport, error)
	PowerBIHealth(ctx context.Context, embedURL string) (*core.PowerBIHealth, error)
}

// AdminAPI backs the dashboard panels.
type AdminAPI interface {
	ChangePassword(ctx context.Context, newPassword string) error

	Users(ctx context.Context) ([]core.User, error)
	CreateUser(ctx context.Context, username, password, role string) error
	UpdateUser(ctx context.Context, id int64, username, password, role string) error
	DeleteUser(ctx context.Context, id int64) error

	Settings(ctx context.Context) (*core.DBSettings, error)
	UpdateSettings(ctx context.Context, p core.SettingsPatch) error
	TestSettings(ctx context.Context, s core.DBSettings) (*client.ConnectionTest, error)
	Databases(ctx context.Context) ([]string, error)
	ODBCDrivers(ctx context.Context) ([]string, error)
	DiagnoseDefinitions(ctx context.Context) (json.RawMessage, error)
	DiagnoseRuntime(ctx context.Context) (json.RawMessage, error)
	AppDiag(ctx context.Context) (*client.AppInfo, error)

	Definitions(ctx context.Context) ([]core.ReportDefinition, error)
	Definition(ctx context.Context, id int64) (*core.ReportDefinition, error)
	CreateDefinition(ctx context.Context, d core.ReportDefinition) (int64, error)
	UpdateDefinition(ctx context.Context, d core.ReportDefinition) error
	DeleteDefinition(ctx context.Context, id int64) error

	SheetNames(ctx context.Context, name string, data []byte) ([]string, error)
	ImportPreview(ctx context.Context, name string, data []byte, sheet string, maxRows int) (*core.ImportPreview, error)
	ImportData(ctx context.Context, req client.ImportRequest) (*client.ImportResult, error)
	Tables(ctx context.Context) ([]string, error)

	DashboardSummary(ctx context.Context) (*core.DashboardSummary, error)
	RecentActivity(ctx context.Context) ([]core.Activity, error)

	PowerBIReports(ctx context.Context) ([]core.PowerBIReport, error)
	AddPowerBIReport(ctx context.Context, r client.NewPowerBIReport) (string, error)
	DeletePowerBIReport(ctx context.Context, id int64) error
	LocalPowerBIFiles(ctx context.Context) ([]core.LocalPBIXFile, error)
	OpenLocalPowerBI(ctx context.Context, path string) (string, error)
}

// Backend is the full surface the UI consumes. *client.Client implements it.
type Backend interface {
	ReportAPI
	BIAPI
	AdminAPI
	Login(ctx context.Context, username, password string) (*client.LoginResponse, error)
}

var _ Backend = (*client.Client)(nil)

// BackendFunc returns a backend that authenticates with token.
type BackendFunc func(token string) Backend

// ClientBackend adapts a base API client into a BackendFunc.
func ClientBackend(base *client.Client) BackendFunc {
	return func(token string) Backend {
		return base.WithToken(token)
	}
}
