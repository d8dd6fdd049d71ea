package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"Definition inactive"}`, "Definition inactive"},
		{"detail object", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
		{"raw text", http.StatusBadGateway, "upstream down", "upstream down"},
		{"empty body", http.StatusInternalServerError, "", "500 Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Tables(context.Background())
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Detail)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, `{"tables":["sales"]}`)
	}))
	defer srv.Close()

	base := New(srv.URL + "/")
	tables, err := base.WithToken("abc").Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, tables)
	assert.Equal(t, "Bearer abc", auth)

	_, err = base.Tables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, auth, "WithToken must not mutate the base client")
}

func TestRunReportPostsMultipart(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/report/run", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		got = r.MultipartForm.Value
		io.WriteString(w, `{"ok":true,"columns":["a","b"],"rows":[[1,2],[3,4]],"rows_returned":2,"status":"success"}`)
	}))
	defer srv.Close()

	res, err := New(srv.URL).RunReport(context.Background(), 7, url.Values{
		"param_city":  {"NY"},
		"param_extra": {"5"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, got["definition_id"])
	assert.Equal(t, []string{"NY"}, got["param_city"])
	assert.Equal(t, []string{"5"}, got["param_extra"])
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	assert.Equal(t, 2, res.RowsReturned)
}

func TestParameterValuesEscapesName(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		io.WriteString(w, `{"values":["NY","LA"]}`)
	}))
	defer srv.Close()

	values, err := New(srv.URL).ParameterValues(context.Background(), 3, "due date")
	require.NoError(t, err)
	assert.Equal(t, []any{"NY", "LA"}, values)
	assert.Equal(t, "/report/parameter-values/3/due%20date", path)
}

func TestDiagnoseReturnsRawDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"server":"db1","tables_count":4}`)
	}))
	defer srv.Close()

	raw, err := New(srv.URL).DiagnoseDefinitions(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"server":"db1","tables_count":4}`, string(raw))
}

func TestDiagnoseKeepsFailureDocument(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"missing database", http.StatusNotFound, `{"server":"db1","exists":false,"available_databases":["master","sales"]}`, false},
		{"unreachable", http.StatusServiceUnavailable, `{"detail":"Login timeout","drivers_available":[]}`, false},
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`, true},
		{"plain text 404", http.StatusNotFound, "not here", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			raw, err := New(srv.URL).DiagnoseRuntime(context.Background())
			assert.Equal(t, "/report/db/diag/runtime", path)
			if tt.wantErr {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.status, apiErr.Status)
				assert.Equal(t, tt.body, string(apiErr.Body))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.body, string(raw))
		})
	}
}

func TestLocalPowerBIFiles(t *testing.T) {
	var opened url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/powerbi/local-files":
			io.WriteString(w, `{"files":[{"name":"sales.pbix","path":"/srv/app/sales.pbix","relative_path":"sales.pbix","size_mb":1.5}]}`)
		case "/powerbi/open-local":
			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				return
			}
			opened = r.MultipartForm.Value
			io.WriteString(w, `{"success":true,"message":"Opening sales.pbix in Power BI Desktop..."}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	files, err := c.LocalPowerBIFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/srv/app/sales.pbix", files[0].Path)
	assert.Equal(t, 1.5, files[0].SizeMB)

	msg, err := c.OpenLocalPowerBI(context.Background(), files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "Opening sales.pbix in Power BI Desktop...", msg)
	assert.Equal(t, []string{"/srv/app/sales.pbix"}, opened["file_path"])
}

func TestAppDiag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/diag", r.URL.Path)
		io.WriteString(w, `{"db_url":"sqlite://data/reportapp.db","users_count":2}`)
	}))
	defer srv.Close()

	info, err := New(srv.URL).AppDiag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite://data/reportapp.db", info.DBURL)
	require.NotNil(t, info.UsersCount)
	assert.Equal(t, 2, *info.UsersCount)
}
