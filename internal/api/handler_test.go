package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/data"
	"reportapp/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv        *httptest.Server
	settings   *data.FileSettingsStore
	adminToken string
	userToken  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := data.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := service.NewSecretBox(strings.Repeat("k", 32))
	require.NoError(t, err)
	settings := data.NewFileSettingsStore(filepath.Join(t.TempDir(), "settings.json"), box)

	users := data.NewUserRepo(db)
	defs := data.NewDefinitionRepo(db)
	reportLogs := data.NewReportLogRepo(db)
	importLogs := data.NewImportLogRepo(db)

	auth := service.NewAuthService(users, service.NewTokenService("secret", time.Hour))
	_, err = auth.EnsureAdmin(ctx)
	require.NoError(t, err)
	_, err = auth.CreateUser(ctx, "bob", "pw", core.RoleUser)
	require.NoError(t, err)

	runtime := service.NewRuntime(settings).
		WithOpener(func(string, string) (*sql.DB, error) { return nil, errors.New("connection refused") }).
		WithDrivers(func() []string { return []string{core.DefaultODBCDriver} })

	h := NewHandler(Services{
		Auth:                  auth,
		Executor:              service.NewReportExecutor(runtime, defs, reportLogs),
		Runtime:               runtime,
		Importer:              service.NewImporter(runtime, importLogs),
		PowerBI:               service.NewPowerBIService(data.NewPowerBIRepo(db), t.TempDir()),
		Dashboard:             service.NewDashboardService(users, importLogs, reportLogs, runtime),
		Settings:              settings,
		Defs:                  defs,
		ImportLogs:            importLogs,
		AdminSettingsPassword: "letmein",
		AppDBPath:             ":memory:",
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, settings: settings}
	env.adminToken = env.login(t, "admin", "admin")
	env.userToken = env.login(t, "bob", "pw")
	return env
}

func (e *testEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	var out map[string]any
	resp := e.do(t, http.MethodPost, "/login", "", encodeJSON(t, loginRequest{Username: user, Password: pass}), "application/json", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return out["token"].(string)
}

func encodeJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string, out any) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t)

	var detail map[string]string
	resp := env.do(t, http.MethodGet, "/users", "", nil, "", &detail)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid or expired token", detail["detail"])

	resp = env.do(t, http.MethodGet, "/users", "not-a-token", nil, "", &detail)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/users", env.userToken, nil, "", &detail)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Admin privileges required", detail["detail"])

	var users []userView
	resp = env.do(t, http.MethodGet, "/users", env.adminToken, nil, "", &users)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	var out map[string]any
	resp := env.do(t, http.MethodPost, "/login", "", encodeJSON(t, loginRequest{Username: "admin", Password: "admin"}), "application/json", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.RoleAdmin, out["role"])
	assert.Equal(t, true, out["must_change_password"])

	var detail map[string]string
	resp = env.do(t, http.MethodPost, "/login", "", encodeJSON(t, loginRequest{Username: "admin", Password: "nope"}), "application/json", &detail)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", detail["detail"])
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"new_password": "s3cret"}, nil)
	var out map[string]any
	resp := env.do(t, http.MethodPost, "/me/change-password", env.userToken, body, ct, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Password updated successfully", out["message"])

	assert.NotEmpty(t, env.login(t, "bob", "s3cret"))
}

func TestUserAdministration(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"username": "carol", "password": "pw", "role": "user"}, nil)
	var created map[string]any
	resp := env.do(t, http.MethodPost, "/create-user", env.adminToken, body, ct, &created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User created successfully", created["message"])
	id := int64(created["user_id"].(float64))

	body, ct = multipartBody(t, map[string]string{"username": "carol", "password": "pw"}, nil)
	var detail map[string]string
	resp = env.do(t, http.MethodPost, "/create-user", env.adminToken, body, ct, &detail)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User 'carol' already exists", detail["detail"])

	body, ct = multipartBody(t, map[string]string{"username": "carla", "role": "admin"}, nil)
	resp = env.do(t, http.MethodPut, "/users/"+itoa(id), env.adminToken, body, ct, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User updated successfully", detail["message"])

	resp = env.do(t, http.MethodDelete, "/users/"+itoa(id), env.adminToken, nil, "", &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User carla deleted successfully", detail["message"])

	resp = env.do(t, http.MethodDelete, "/users/"+itoa(id), env.adminToken, nil, "", &detail)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestDefinitionCRUD(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"report_name":"Sales","stored_procedure":"dbo.usp_sales",
		"parameters":["@city",{"name":"year","values_query":"SELECT DISTINCT yr FROM sales"}]}`

	var detail map[string]string
	resp := env.do(t, http.MethodPost, "/report/definitions", env.userToken, bytes.NewBufferString(payload), "application/json", &detail)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var created map[string]any
	resp = env.do(t, http.MethodPost, "/report/definitions", env.adminToken, bytes.NewBufferString(payload), "application/json", &created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, created["ok"])
	id := int64(created["id"].(float64))

	var list struct {
		Items []core.ReportDefinition `json:"items"`
	}
	resp = env.do(t, http.MethodGet, "/report/definitions", env.userToken, nil, "", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Items, 1)
	assert.Equal(t, []string{"city", "year"}, list.Items[0].ParamNames())
	assert.True(t, list.Items[0].Active)

	resp = env.do(t, http.MethodPut, "/report/definitions/"+itoa(id), env.adminToken, bytes.NewBufferString(`{"active":false}`), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got core.ReportDefinition
	resp = env.do(t, http.MethodGet, "/report/definitions/"+itoa(id), env.userToken, nil, "", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, got.Active)
	assert.Equal(t, "Sales", got.ReportName)
	p, ok := got.Param("year")
	require.True(t, ok)
	assert.Equal(t, "SELECT DISTINCT yr FROM sales", p.ValuesQuery)

	body, ct := multipartBody(t, map[string]string{"definition_id": itoa(id)}, nil)
	resp = env.do(t, http.MethodPost, "/report/run", env.userToken, body, ct, &detail)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Definition inactive", detail["detail"])

	resp = env.do(t, http.MethodDelete, "/report/definitions/"+itoa(id), env.adminToken, nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/report/definitions/"+itoa(id), env.userToken, nil, "", &detail)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Report definition not found", detail["detail"])
}

func TestCreateDefinitionValidation(t *testing.T) {
	env := newTestEnv(t)

	var detail map[string]string
	resp := env.do(t, http.MethodPost, "/report/definitions", env.adminToken, bytes.NewBufferString(`{"report_name":"x"}`), "application/json", &detail)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "stored_procedure is required", detail["detail"])
}

func TestSaveSettings(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]any{"host": "db1", "database": "Main", "username": "sa", "password": "pw", "adminPassword": "wrong"}

	var detail map[string]string
	resp := env.do(t, http.MethodPost, "/settings/save", "", encodeJSON(t, payload), "application/json", &detail)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid admin password", detail["detail"])

	payload["adminPassword"] = "letmein"
	var out map[string]any
	resp = env.do(t, http.MethodPost, "/settings/save", "", encodeJSON(t, payload), "application/json", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["ok"])
	assert.NotContains(t, out["url"], "pw")

	delete(payload, "adminPassword")
	payload["host"] = "db2"
	resp = env.do(t, http.MethodPost, "/settings/save", env.adminToken, encodeJSON(t, payload), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, "db2", stored.Host)
	assert.Equal(t, "pw", stored.Password)

	var shown map[string]any
	resp = env.do(t, http.MethodGet, "/admin/settings", env.adminToken, nil, "", &shown)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "db2", shown["host"])
	assert.NotContains(t, shown, "password")

	resp = env.do(t, http.MethodPut, "/admin/settings", env.adminToken, bytes.NewBufferString(`{"report_database":"Rpt"}`), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored, err = env.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, "Rpt", stored.ReportDatabase)
	assert.Equal(t, "db2", stored.Host)
}

func TestRuntimeUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.settings.Save(core.DBSettings{Engine: core.EngineSQLServer, Host: "db1", Database: "Main", Trusted: true}))

	var diag map[string]any
	resp := env.do(t, http.MethodGet, "/report/db/diag", env.userToken, nil, "", &diag)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, diag["detail"], "SQL Server connection failed")
	assert.Equal(t, []any{core.DefaultODBCDriver}, diag["drivers_available"])

	body, ct := multipartBody(t, map[string]string{"table_name": "sales"}, map[string]string{"a.csv": "x\n1\n"})
	var detail map[string]string
	resp = env.do(t, http.MethodPost, "/import-data", env.userToken, body, ct, &detail)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "SQL Server not available", detail["detail"])

	var test service.ConnectionTest
	resp = env.do(t, http.MethodPost, "/settings/test", env.adminToken, encodeJSON(t, map[string]any{"host": "db1", "database": "Main"}), "application/json", &test)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, test.OK)
	assert.NotEmpty(t, test.Message)
}

func TestImportWithoutFiles(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"table_name": "sales"}, nil)
	var out map[string]any
	resp := env.do(t, http.MethodPost, "/import-data", env.userToken, body, ct, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(0), out["rows_imported"])

	var tables map[string][]string
	resp = env.do(t, http.MethodGet, "/tables", env.userToken, nil, "", &tables)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, tables["tables"])
}

func TestPowerBIRoutes(t *testing.T) {
	env := newTestEnv(t)

	var added map[string]any
	resp := env.do(t, http.MethodPost, "/powerbi/reports", env.adminToken,
		encodeJSON(t, map[string]any{"embed_url": "http://rs/Reports/powerbi/Sales", "title": "Sales"}), "application/json", &added)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Power BI report 'Sales' added successfully", added["message"])
	assert.Equal(t, "http://rs/Reports/powerbi/Sales?rs:embed=true", added["normalized_embed_url"])

	var list struct {
		Reports []core.PowerBIReport `json:"reports"`
	}
	resp = env.do(t, http.MethodGet, "/powerbi/reports", env.userToken, nil, "", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Reports, 1)

	var settings service.EmbedSettings
	env.do(t, http.MethodGet, "/powerbi/settings", env.userToken, nil, "", &settings)
	assert.Equal(t, "Sales", settings.Title)

	var detail map[string]string
	resp = env.do(t, http.MethodDelete, "/powerbi/reports/999", env.adminToken, nil, "", &detail)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Power BI report with ID 999 not found", detail["detail"])

	resp = env.do(t, http.MethodDelete, "/powerbi/reports/"+itoa(list.Reports[0].ID), env.adminToken, nil, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDashboardRoutes(t *testing.T) {
	env := newTestEnv(t)

	var sum core.DashboardSummary
	resp := env.do(t, http.MethodGet, "/dashboard/summary", env.adminToken, nil, "", &sum)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, sum.UsersTotal)

	var act map[string][]core.Activity
	resp = env.do(t, http.MethodGet, "/recent-activity", env.adminToken, nil, "", &act)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, act["activities"])

	var diag map[string]any
	resp = env.do(t, http.MethodGet, "/diag", "", nil, "", &diag)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), diag["users_count"])
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"report_name":"Stock Levels","stored_procedure":"usp_stock","parameters":["site"]}`
	resp := env.do(t, http.MethodPost, "/report/definitions", env.adminToken, bytes.NewBufferString(payload), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var spec struct {
		Paths map[string]map[string]struct {
			RequestBody struct {
				Content map[string]struct {
					Examples map[string]struct {
						Value map[string]any `json:"value"`
					} `json:"examples"`
				} `json:"content"`
			} `json:"requestBody"`
		} `json:"paths"`
	}
	resp = env.do(t, http.MethodGet, "/docs/openapi.json", "", nil, "", &spec)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ex := spec.Paths["/report/run"]["post"].RequestBody.Content["multipart/form-data"].Examples["Stock_Levels"]
	assert.Equal(t, "value", ex.Value["param_site"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(core.NotFound("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(core.Conflict("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(core.Invalid("x")))
	assert.Equal(t, http.StatusForbidden, statusFor(core.Forbidden("x")))
	assert.Equal(t, http.StatusUnauthorized, statusFor(core.Unauthorized("x")))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.Unavailable("x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
