package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/logger"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	// Runtime drivers
	_ "github.com/alexbrainman/odbc"
)

const connectTimeout = 5 * time.Second

// Opener opens a database handle; tests swap it for sqlmock.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Runtime opens short-lived connections to the configured runtime database.
// Every operation reads the current settings, so saved changes apply to the
// next request without a restart.
type Runtime struct {
	settings core.SettingsStore
	open     Opener
	drivers  func() []string
}

func NewRuntime(settings core.SettingsStore) *Runtime {
	return &Runtime{
		settings: settings,
		open:     sql.Open,
		drivers:  InstalledODBCDrivers,
	}
}

// WithOpener replaces the function used to open handles.
func (r *Runtime) WithOpener(open Opener) *Runtime {
	r.open = open
	return r
}

// WithDrivers replaces the ODBC driver enumeration.
func (r *Runtime) WithDrivers(list func() []string) *Runtime {
	r.drivers = list
	return r
}

func (r *Runtime) Settings() (core.DBSettings, error) {
	return r.settings.Load()
}

// ODBCDrivers lists the installed ODBC drivers.
func (r *Runtime) ODBCDrivers() []string {
	d := r.drivers()
	if d == nil {
		return []string{}
	}
	return d
}

var driverVersion = regexp.MustCompile(`(\d+)`)

// PickODBCDriver returns preferred when installed, else the newest Microsoft
// "ODBC Driver NN for SQL Server", else any SQL Server driver.
func (r *Runtime) PickODBCDriver(preferred string) string {
	installed := r.ODBCDrivers()
	if preferred != "" && slices.Contains(installed, preferred) {
		return preferred
	}

	var best string
	bestVer := -1
	for _, d := range installed {
		if !strings.Contains(d, "ODBC Driver") || !strings.Contains(d, "SQL Server") {
			continue
		}
		v, _ := strconv.Atoi(driverVersion.FindString(d))
		if v > bestVer {
			best, bestVer = d, v
		}
	}
	if best != "" {
		return best
	}
	for _, d := range installed {
		if strings.Contains(d, "SQL Server") {
			return d
		}
	}
	if preferred != "" {
		return preferred
	}
	return core.DefaultODBCDriver
}

// connect opens and pings a handle to database using s.
func (r *Runtime) connect(ctx context.Context, s core.DBSettings, database, odbcDriver string) (*sql.DB, dialect, error) {
	d, err := dialectFor(s.Engine)
	if err != nil {
		return nil, d, err
	}
	if odbcDriver == "" {
		odbcDriver = r.PickODBCDriver(s.Driver)
	}

	db, err := r.open(d.driverName, d.dsn(s, database, odbcDriver))
	if err != nil {
		return nil, d, fmt.Errorf("failed to open database connection (%s): %w", d.driverName, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, d, err
	}
	return db, d, nil
}

// OpenRuntime connects to the database holding stored procedures and data.
func (r *Runtime) OpenRuntime(ctx context.Context) (*sql.DB, dialect, error) {
	s, err := r.settings.Load()
	if err != nil {
		return nil, dialect{}, err
	}
	database := s.RuntimeDatabase()
	if s.Host == "" || database == "" {
		return nil, dialect{}, core.Unavailable("Report data DB connection unavailable")
	}
	db, d, err := r.connect(ctx, s, database, "")
	if err != nil {
		logger.Error.Printf("Runtime DB connect failed (%s/%s): %v", s.Host, database, err)
		return nil, d, core.Unavailable("Report data DB connection unavailable")
	}
	return db, d, nil
}

// ListDatabases enumerates databases on the configured server.
func (r *Runtime) ListDatabases(ctx context.Context) ([]string, error) {
	s, err := r.settings.Load()
	if err != nil {
		return nil, err
	}
	if s.Host == "" {
		return nil, core.Invalid("SQL Server host not configured")
	}
	d, err := dialectFor(s.Engine)
	if err != nil {
		return nil, err
	}
	db, _, err := r.connect(ctx, s, d.systemDB, "")
	if err != nil {
		return nil, core.Unavailable("Failed to list databases: %v", err)
	}
	defer db.Close()

	names, err := queryStrings(ctx, db, d.listDatabases)
	if err != nil {
		return nil, core.Unavailable("Failed to list databases: %v", err)
	}
	return names, nil
}

// ConnectionTest is the outcome of probing unsaved settings.
type ConnectionTest struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	URL        string `json:"url,omitempty"`
	UsedDriver string `json:"used_driver,omitempty"`
	Details    string `json:"details,omitempty"`
}

// TestConnection tries s without saving it. Failures are rewritten into
// messages an operator can act on; the raw error is kept in Details.
func (r *Runtime) TestConnection(ctx context.Context, s core.DBSettings) ConnectionTest {
	s = withConnDefaults(s)
	url := ConnectionURL(s)
	if strings.TrimSpace(s.Host) == "" {
		return ConnectionTest{OK: false, Message: "Server host is required", URL: url}
	}
	d, err := dialectFor(s.Engine)
	if err != nil {
		return ConnectionTest{OK: false, Message: err.Error(), URL: url}
	}

	used := d.driverName
	if d.engine == core.EngineODBC {
		used = s.Driver
		installed := r.ODBCDrivers()
		if !slices.Contains(installed, s.Driver) {
			for _, cand := range []string{"ODBC Driver 18 for SQL Server", "ODBC Driver 17 for SQL Server"} {
				if slices.Contains(installed, cand) {
					used = cand
					break
				}
			}
		}
	}

	logger.Info.Printf("Testing connection to %s/%s with %s", s.Host, s.Database, used)
	db, _, err := r.connect(ctx, s, s.Database, used)
	if err != nil {
		logger.Error.Printf("Connection test failed for %s/%s: %v", s.Host, s.Database, err)
		return ConnectionTest{
			OK:         false,
			Message:    friendlyConnectError(err, s, used),
			URL:        url,
			UsedDriver: used,
			Details:    err.Error(),
		}
	}
	db.Close()
	return ConnectionTest{OK: true, Message: "Connection successful", URL: url, UsedDriver: used}
}

func withConnDefaults(s core.DBSettings) core.DBSettings {
	if s.Engine == "" {
		s.Engine = core.EngineSQLServer
	}
	if s.Driver == "" {
		s.Driver = core.DefaultODBCDriver
	}
	if s.Port == 0 {
		s.Port = core.DefaultPort
	}
	return s
}

type connectFailure int

const (
	failOther connectFailure = iota
	failNoDatabase
	failLogin
	failNoDriver
	failUnreachable
)

var cannotOpenDB = regexp.MustCompile(`Cannot open database "([^"]+)"`)

func classifyConnectError(err error) connectFailure {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 4060:
			return failNoDatabase
		case 18456:
			return failLogin
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1049:
			return failNoDatabase
		case 1045:
			return failLogin
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "3D000":
			return failNoDatabase
		case "28P01", "28000":
			return failLogin
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "Cannot open database"):
		return failNoDatabase
	case strings.Contains(msg, "Login failed"):
		return failLogin
	case strings.Contains(msg, "Data source name not found"), strings.Contains(msg, "IM002"):
		return failNoDriver
	case strings.Contains(msg, "SQL Server does not exist"),
		strings.Contains(msg, "Named Pipes Provider"),
		strings.Contains(msg, "unable to open tcp connection"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return failUnreachable
	}
	return failOther
}

func friendlyConnectError(err error, s core.DBSettings, driver string) string {
	switch classifyConnectError(err) {
	case failNoDatabase:
		name := s.Database
		if m := cannotOpenDB.FindStringSubmatch(err.Error()); m != nil {
			name = m[1]
		}
		return fmt.Sprintf("Database '%s' does not exist or you don't have permission to access it.", name)
	case failLogin:
		if s.Trusted {
			user := os.Getenv("USERNAME")
			if user == "" {
				user = "current user"
			}
			return fmt.Sprintf("Windows Authentication failed for user '%s'. Make sure this user has access to SQL Server.", user)
		}
		return fmt.Sprintf("Login failed for user '%s'. Check username and password.", s.Username)
	case failNoDriver:
		return fmt.Sprintf("ODBC Driver not found. Please install '%s' on this machine.", driver)
	case failUnreachable:
		return fmt.Sprintf("Cannot connect to server '%s'. Make sure SQL Server is running and accessible.", s.Host)
	}
	return err.Error()
}

// IsConnectivityError reports whether err looks like the runtime server or its
// driver being unavailable rather than a statement failure.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrUnavailable) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"ODBC Driver", "SQLDriverConnect", "IM002", "Login failed", "timeout", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// DiagTarget selects which configured database Diagnose inspects.
type DiagTarget int

const (
	// DiagDefinitions probes the database holding report definitions.
	DiagDefinitions DiagTarget = iota
	// DiagRuntime probes the database stored procedures run in.
	DiagRuntime
)

// ConnectError is a diagnosable connectivity failure.
type ConnectError struct {
	Detail  string
	Hint    string
	Drivers []string
}

func (e *ConnectError) Error() string { return e.Detail }

// MissingDatabaseError means the server answered but the configured
// database does not exist there.
type MissingDatabaseError struct {
	Info      core.DiagInfo
	Database  string
	Available []string
}

func (e *MissingDatabaseError) Error() string {
	return fmt.Sprintf("Database '%s' not found on server.", e.Database)
}

// Diagnose resolves the database used for target, checks it exists and
// reports its table count.
func (r *Runtime) Diagnose(ctx context.Context, target DiagTarget) (*core.DiagInfo, error) {
	s, err := r.settings.Load()
	if err != nil {
		return nil, err
	}

	info := &core.DiagInfo{Server: s.Host, FallbackDatabase: s.Database}
	database := s.DefinitionsDatabase()
	if target == DiagRuntime {
		database = s.RuntimeDatabase()
		if v := firstSet(s.ReportsDatabase, s.ReportDatabase); v != "" {
			info.ReportsDatabase = &v
		}
	} else if v := firstSet(s.ReportDatabase, s.ReportsDatabase); v != "" {
		info.ReportDatabase = &v
	}

	if s.Host == "" {
		return nil, core.Unavailable("SQL Server host not configured")
	}
	d, err := dialectFor(s.Engine)
	if err != nil {
		return nil, err
	}

	master, _, err := r.connect(ctx, s, d.systemDB, "")
	if err != nil {
		return nil, &ConnectError{
			Detail:  fmt.Sprintf("SQL Server connection failed: %v", err),
			Hint:    "Ensure Microsoft ODBC Driver for SQL Server is installed (17 or 18).",
			Drivers: r.ODBCDrivers(),
		}
	}
	names, err := queryStrings(ctx, master, d.listDatabases)
	master.Close()
	if err != nil {
		return nil, &ConnectError{Detail: fmt.Sprintf("SQL Server connection failed: %v", err), Drivers: r.ODBCDrivers()}
	}
	if !slices.Contains(names, database) {
		if len(names) > 50 {
			names = names[:50]
		}
		return nil, &MissingDatabaseError{Info: *info, Database: database, Available: names}
	}

	db, _, err := r.connect(ctx, s, database, "")
	if err != nil {
		return nil, &ConnectError{
			Detail:  fmt.Sprintf("Failed to connect to database '%s': %v", database, err),
			Hint:    "Verify the ODBC driver name and SQL Server connectivity.",
			Drivers: r.ODBCDrivers(),
		}
	}
	defer db.Close()

	if err := db.QueryRowContext(ctx, d.countTables).Scan(&info.TablesCount); err != nil {
		return nil, err
	}
	var using sql.NullString
	if err := db.QueryRowContext(ctx, d.currentDB).Scan(&using); err != nil || !using.Valid {
		using.String = database
	}
	info.UsingDatabase = using.String
	return info, nil
}

// UserTables lists runtime tables that are not application bookkeeping.
func (r *Runtime) UserTables(ctx context.Context, db *sql.DB, d dialect) ([]string, error) {
	names, err := queryStrings(ctx, db, d.userTables)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !slices.Contains(internalTables, strings.ToLower(n)) {
			out = append(out, n)
		}
	}
	return out, nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
