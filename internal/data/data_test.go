package data

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reportapp/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(newTestDB(t))

	u := &core.User{Username: "alice", PasswordHash: "h1", Role: core.RoleAdmin, MustChangePassword: true}
	require.NoError(t, repo.Create(ctx, u))
	assert.NotZero(t, u.ID)

	err := repo.Create(ctx, &core.User{Username: "alice", PasswordHash: "x", Role: core.RoleUser})
	assert.True(t, errors.Is(err, core.ErrConflict))

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.PasswordHash)
	assert.True(t, got.MustChangePassword)

	got.Role = core.RoleUser
	got.PasswordHash = ""
	got.MustChangePassword = false
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", again.PasswordHash, "empty hash leaves password untouched")
	assert.Equal(t, core.RoleUser, again.Role)

	n, err := repo.CountByRole(ctx, core.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.Delete(ctx, u.ID))
	_, err = repo.GetByID(ctx, u.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, u.ID), core.ErrNotFound))
}

func TestDefinitionRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewDefinitionRepo(newTestDB(t))

	d := &core.ReportDefinition{
		ReportName:      "Sales",
		StoredProcedure: "usp_sales",
		Parameters: []core.Parameter{
			{Name: "city", ValuesQuery: "SELECT DISTINCT city FROM tenants"},
			{Name: "year"},
		},
		Active: true,
	}
	require.NoError(t, repo.Create(ctx, d))

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "year"}, got.ParamNames())
	p, ok := got.Param("city")
	require.True(t, ok)
	assert.Equal(t, "SELECT DISTINCT city FROM tenants", p.ValuesQuery)

	got.Active = false
	require.NoError(t, repo.Update(ctx, got))
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	err = repo.Update(ctx, &core.ReportDefinition{ID: 999, ReportName: "x", StoredProcedure: "y"})
	assert.True(t, errors.Is(err, core.ErrNotFound))

	require.NoError(t, repo.Delete(ctx, d.ID))
	_, err = repo.GetByID(ctx, d.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestReportLogRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewReportLogRepo(newTestDB(t))

	id, err := repo.Start(ctx, "Sales", "alice", `{"stored_procedure":"usp_sales"}`)
	require.NoError(t, err)

	recent, err := repo.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recent, "running entries are not listed")

	require.NoError(t, repo.Finish(ctx, id, core.StatusSuccess, `{}`))
	_, err = repo.CreateFinished(ctx, "Quick", "bob", core.StatusSuccess, `{}`)
	require.NoError(t, err)

	recent, err = repo.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.NotNil(t, recent[0].FinishedAt)

	total, last, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.NotNil(t, last)
}

func TestImportLogRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewImportLogRepo(newTestDB(t))

	total, last, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Nil(t, last)

	done := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, &core.ImportLog{FileName: "a.csv", TableName: "a", FileSize: 10, RowsImported: 3, Status: core.StatusSuccess, FinishedAt: &done}))
	require.NoError(t, repo.Create(ctx, &core.ImportLog{FileName: "b.csv", TableName: "b", FileSize: 5, Status: core.StatusError, ErrorMessage: "boom"}))

	total, last, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total, "total counts imported rows")
	assert.NotNil(t, last)

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "unfinished imports are skipped")
	assert.Equal(t, "a.csv", recent[0].FileName)

	dup, err := repo.IsDuplicate(ctx, "a.csv", "a", 10)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.IsDuplicate(ctx, "b.csv", "b", 5)
	require.NoError(t, err)
	assert.False(t, dup, "failed imports do not block a retry")

	tables, err := repo.ImportedTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tables)
}

func TestPowerBIRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewPowerBIRepo(newTestDB(t))

	first := &core.PowerBIReport{Name: "One", EmbedURL: "http://x/reports/one?rs:embed=true", Enabled: true, ShowNavPane: true}
	second := &core.PowerBIReport{Name: "Two", EmbedURL: "http://x/reports/two?rs:embed=true", Enabled: true}
	hidden := &core.PowerBIReport{Name: "Off", EmbedURL: "http://x/reports/off", Enabled: false}
	for _, r := range []*core.PowerBIReport{first, second, hidden} {
		require.NoError(t, repo.Create(ctx, r))
	}
	assert.Equal(t, 1, first.SortOrder)
	assert.Equal(t, 2, second.SortOrder)

	list, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "One", list[0].Name)
	assert.True(t, list[0].ShowNavPane)
	assert.False(t, list[0].ShowFilterPane)

	ok, err := repo.Delete(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Delete(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

type reverseCipher struct{}

func (reverseCipher) Encrypt(s string) (string, error) { return "enc:" + reverse(s), nil }
func (reverseCipher) Decrypt(s string) (string, error) {
	return reverse(strings.TrimPrefix(s, "enc:")), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func TestFileSettingsStore(t *testing.T) {
	store := NewFileSettingsStore(filepath.Join(t.TempDir(), "instance", "settings.json"), reverseCipher{})

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	s.Host = "sql01"
	s.Database = "main"
	s.Password = "hunter2"
	require.NoError(t, store.Save(s))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", loaded.Password)
	assert.Equal(t, "sql01", loaded.Host)
	assert.Equal(t, core.DefaultPort, loaded.Port)
}

func TestApplyPatch(t *testing.T) {
	str := func(s string) *string { return &s }
	no := false

	base := DefaultSettings()
	base.Password = "old"

	got := ApplyPatch(base, core.SettingsPatch{
		Host:           str("db"),
		ReportDatabase: str("reports"),
		Trusted:        &no,
		Password:       str(""),
	})

	assert.Equal(t, "db", got.Host)
	assert.Equal(t, "reports", got.ReportDatabase)
	assert.Equal(t, "reports", got.ReportsDatabase)
	assert.False(t, got.Trusted)
	assert.Empty(t, got.Password)
	assert.Equal(t, core.DefaultODBCDriver, got.Driver)

	kept := ApplyPatch(base, core.SettingsPatch{})
	assert.Equal(t, "old", kept.Password)
}
