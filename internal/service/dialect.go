package service

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"reportapp/internal/core"

	"github.com/go-sql-driver/mysql"
)

// internalTables are never reported as user data tables.
var internalTables = []string{"users", "import_log", "report_log", "report_generation_log", "sysdiagrams"}

// dialect holds the engine specific SQL used against the runtime database.
type dialect struct {
	engine     string
	driverName string
	// systemDB is the catalog used to enumerate databases.
	systemDB string

	listDatabases string
	countTables   string
	currentDB     string
	listProcs     string
	procParams    string
	procDetails   string
	userTables    string
	textType      string
}

var dialects = map[string]dialect{
	core.EngineSQLServer: {
		engine:        core.EngineSQLServer,
		driverName:    "sqlserver",
		systemDB:      "master",
		listDatabases: `SELECT name FROM sys.databases ORDER BY name`,
		countTables:   `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'`,
		currentDB:     `SELECT DB_NAME()`,
		listProcs:     `SELECT SPECIFIC_NAME FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = 'dbo' ORDER BY SPECIFIC_NAME`,
		procParams:    `SELECT PARAMETER_NAME, PARAMETER_MODE, DATA_TYPE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = @p1 ORDER BY ORDINAL_POSITION`,
		procDetails:   `SELECT PARAMETER_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, PARAMETER_MODE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = @p1 ORDER BY ORDINAL_POSITION`,
		userTables:    `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = 'dbo' ORDER BY TABLE_NAME`,
		textType:      "NVARCHAR(MAX)",
	},
	core.EngineODBC: {
		engine:        core.EngineODBC,
		driverName:    "odbc",
		systemDB:      "master",
		listDatabases: `SELECT name FROM sys.databases ORDER BY name`,
		countTables:   `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'`,
		currentDB:     `SELECT DB_NAME()`,
		listProcs:     `SELECT SPECIFIC_NAME FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = 'dbo' ORDER BY SPECIFIC_NAME`,
		procParams:    `SELECT PARAMETER_NAME, PARAMETER_MODE, DATA_TYPE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = ? ORDER BY ORDINAL_POSITION`,
		procDetails:   `SELECT PARAMETER_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, PARAMETER_MODE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = ? ORDER BY ORDINAL_POSITION`,
		userTables:    `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = 'dbo' ORDER BY TABLE_NAME`,
		textType:      "NVARCHAR(MAX)",
	},
	core.EngineMySQL: {
		engine:        core.EngineMySQL,
		driverName:    "mysql",
		systemDB:      "",
		listDatabases: `SHOW DATABASES`,
		countTables:   `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = DATABASE()`,
		currentDB:     `SELECT DATABASE()`,
		listProcs:     `SELECT SPECIFIC_NAME FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = DATABASE() ORDER BY SPECIFIC_NAME`,
		procParams:    `SELECT PARAMETER_NAME, PARAMETER_MODE, DATA_TYPE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = ? AND SPECIFIC_SCHEMA = DATABASE() ORDER BY ORDINAL_POSITION`,
		procDetails:   `SELECT PARAMETER_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, PARAMETER_MODE FROM INFORMATION_SCHEMA.PARAMETERS WHERE SPECIFIC_NAME = ? AND SPECIFIC_SCHEMA = DATABASE() ORDER BY ORDINAL_POSITION`,
		userTables:    `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME`,
		textType:      "TEXT",
	},
	core.EnginePostgres: {
		engine:        core.EnginePostgres,
		driverName:    "postgres",
		systemDB:      "postgres",
		listDatabases: `SELECT datname FROM pg_database WHERE NOT datistemplate ORDER BY datname`,
		countTables:   `SELECT COUNT(*) FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema = 'public'`,
		currentDB:     `SELECT current_database()`,
		listProcs:     `SELECT DISTINCT routine_name FROM information_schema.routines WHERE routine_schema = 'public' ORDER BY routine_name`,
		procParams:    `SELECT p.parameter_name, p.parameter_mode, p.data_type FROM information_schema.parameters p JOIN information_schema.routines r ON r.specific_name = p.specific_name WHERE r.routine_name = $1 ORDER BY p.ordinal_position`,
		procDetails:   `SELECT p.parameter_name, p.data_type, p.character_maximum_length, p.parameter_mode FROM information_schema.parameters p JOIN information_schema.routines r ON r.specific_name = p.specific_name WHERE r.routine_name = $1 ORDER BY p.ordinal_position`,
		userTables:    `SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema = 'public' ORDER BY table_name`,
		textType:      "TEXT",
	},
}

func dialectFor(engine string) (dialect, error) {
	if engine == "" {
		engine = core.EngineSQLServer
	}
	d, ok := dialects[strings.ToLower(engine)]
	if !ok {
		return dialect{}, core.Invalid("Unsupported database engine: %s", engine)
	}
	return d, nil
}

// bind returns the i-th (1-based) positional placeholder.
func (d dialect) bind(i int) string {
	switch d.engine {
	case core.EngineSQLServer:
		return "@p" + strconv.Itoa(i)
	case core.EnginePostgres:
		return "$" + strconv.Itoa(i)
	default:
		return "?"
	}
}

func (d dialect) quote(ident string) string {
	switch d.engine {
	case core.EngineMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case core.EnginePostgres:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	default:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	}
}

// qualify quotes a possibly schema-qualified object name. SQL Server names
// without a schema land in dbo.
func (d dialect) qualify(name string) string {
	name = strings.NewReplacer("[", "", "]", "", "`", "", `"`, "").Replace(strings.TrimSpace(name))
	parts := strings.Split(name, ".")
	if len(parts) == 1 && (d.engine == core.EngineSQLServer || d.engine == core.EngineODBC) {
		return "dbo." + d.quote(parts[0])
	}
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

// procCall builds the statement executing proc with the declared positional
// arguments followed by the named extras.
func (d dialect) procCall(proc string, declared int, extras []string) string {
	args := make([]string, 0, declared+len(extras))
	n := 0
	for i := 0; i < declared; i++ {
		n++
		args = append(args, d.bind(n))
	}
	for _, name := range extras {
		n++
		switch d.engine {
		case core.EngineSQLServer, core.EngineODBC:
			args = append(args, "@"+name+" = "+d.bind(n))
		case core.EnginePostgres:
			args = append(args, name+" => "+d.bind(n))
		default:
			// positional only
			args = append(args, d.bind(n))
		}
	}

	switch d.engine {
	case core.EngineMySQL:
		return fmt.Sprintf("CALL %s(%s)", d.qualify(proc), strings.Join(args, ", "))
	case core.EnginePostgres:
		return fmt.Sprintf("SELECT * FROM %s(%s)", d.qualify(proc), strings.Join(args, ", "))
	default:
		stmt := "EXEC " + d.qualify(proc)
		if len(args) > 0 {
			stmt += " " + strings.Join(args, ", ")
		}
		return stmt
	}
}

func (d dialect) countRows(table string) string {
	return "SELECT COUNT(*) FROM " + d.qualify(table)
}

func (d dialect) createTable(table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = d.quote(c) + " " + d.textType
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.qualify(table), strings.Join(defs, ", "))
}

func (d dialect) insertRow(table string, columns []string) string {
	cols := make([]string, len(columns))
	binds := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.quote(c)
		binds[i] = d.bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualify(table), strings.Join(cols, ", "), strings.Join(binds, ", "))
}

// tableExists returns a query yielding one row when table exists.
func (d dialect) tableExists() string {
	switch d.engine {
	case core.EngineMySQL:
		return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`
	case core.EnginePostgres:
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
	default:
		return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = 'dbo' AND TABLE_NAME = ` + d.bind(1)
	}
}

// dsn builds the driver connection string for database.
func (d dialect) dsn(s core.DBSettings, database, odbcDriver string) string {
	port := s.Port
	switch d.engine {
	case core.EngineODBC:
		parts := []string{"DRIVER={" + odbcDriver + "}", "SERVER=" + serverAddr(s.Host, port, ",")}
		if database != "" {
			parts = append(parts, "DATABASE="+database)
		}
		if s.Trusted {
			parts = append(parts, "Trusted_Connection=yes")
		} else {
			if s.Username != "" {
				parts = append(parts, "UID="+s.Username)
			}
			if s.Password != "" {
				parts = append(parts, "PWD="+s.Password)
			}
		}
		if s.Encrypt {
			parts = append(parts, "Encrypt=yes")
		}
		return strings.Join(parts, ";")

	case core.EngineMySQL:
		if port == 0 || port == core.DefaultPort {
			port = 3306
		}
		cfg := mysql.NewConfig()
		cfg.User = s.Username
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(port))
		cfg.DBName = database
		cfg.ParseTime = true
		if s.Encrypt {
			cfg.TLSConfig = "true"
		}
		return cfg.FormatDSN()

	case core.EnginePostgres:
		if port == 0 || port == core.DefaultPort {
			port = 5432
		}
		u := url.URL{Scheme: "postgres", Host: net.JoinHostPort(s.Host, strconv.Itoa(port)), Path: "/" + database}
		if s.Username != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		if s.Encrypt {
			q.Set("sslmode", "require")
		}
		q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String()

	default:
		u := url.URL{Scheme: "sqlserver"}
		if host, instance, ok := strings.Cut(s.Host, `\`); ok {
			u.Host = host
			u.Path = instance
		} else {
			u.Host = serverAddr(s.Host, port, ":")
		}
		if !s.Trusted && s.Username != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		}
		q := url.Values{}
		if database != "" {
			q.Set("database", database)
		}
		q.Set("encrypt", "disable")
		if s.Encrypt {
			q.Set("encrypt", "true")
		}
		q.Set("dial timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// serverAddr appends the port unless host names an instance.
func serverAddr(host string, port int, sep string) string {
	if strings.Contains(host, `\`) {
		return host
	}
	if port == 0 {
		port = core.DefaultPort
	}
	return host + sep + strconv.Itoa(port)
}

// ConnectionURL renders the settings as a URL for display. The password is
// masked.
func ConnectionURL(s core.DBSettings) string {
	driver := s.Driver
	if driver == "" {
		driver = core.DefaultODBCDriver
	}
	var userinfo string
	if !s.Trusted && s.Username != "" {
		userinfo = url.QueryEscape(s.Username)
		if s.Password != "" {
			userinfo += ":***"
		}
		userinfo += "@"
	}

	switch s.Engine {
	case core.EngineMySQL:
		return fmt.Sprintf("mysql://%s%s/%s", userinfo, s.Host, s.Database)
	case core.EnginePostgres:
		return fmt.Sprintf("postgresql://%s%s/%s", userinfo, s.Host, s.Database)
	}

	params := "driver=" + url.QueryEscape(driver)
	if s.Encrypt {
		params += "&Encrypt=yes"
	}
	if s.Trusted {
		params += "&trusted_connection=yes"
	}
	return fmt.Sprintf("sqlserver://%s%s/%s?%s", userinfo, serverAddr(s.Host, s.Port, ":"), s.Database, params)
}
