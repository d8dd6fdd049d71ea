package service

import (
	"database/sql"
	"testing"

	"reportapp/internal/core"
	"reportapp/internal/data"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	s core.DBSettings
}

func (m *memSettings) Load() (core.DBSettings, error) { return m.s, nil }

func (m *memSettings) Save(s core.DBSettings) error {
	m.s = s
	return nil
}

func newAppDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := data.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var runtimeSettings = core.DBSettings{
	Engine:   core.EngineSQLServer,
	Host:     "db1",
	Port:     1433,
	Database: "Reports",
	Trusted:  true,
}

// mockRuntime returns a Runtime whose connections all resolve to one
// sqlmock handle.
func mockRuntime(t *testing.T, s core.DBSettings) (*Runtime, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rt := NewRuntime(&memSettings{s: s}).
		WithOpener(func(driverName, dsn string) (*sql.DB, error) { return db, nil }).
		WithDrivers(func() []string { return nil })
	return rt, mock
}

// unreachableRuntime fails every connection attempt.
func unreachableRuntime(s core.DBSettings, err error) *Runtime {
	return NewRuntime(&memSettings{s: s}).
		WithOpener(func(string, string) (*sql.DB, error) { return nil, err }).
		WithDrivers(func() []string { return nil })
}
