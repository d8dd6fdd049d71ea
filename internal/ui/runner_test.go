package ui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"reportapp/internal/client"
	"reportapp/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html/atom"
)

type fakeReportAPI struct {
	mu      sync.Mutex
	defs    []core.ReportDefinition
	lookups map[string][]any
	procs   []core.ProcParameter
	result  *core.RunResult
	runErr  error
	diag    json.RawMessage
	quick   *core.QuickReport

	submitted url.Values
}

func (f *fakeReportAPI) Definitions(ctx context.Context) ([]core.ReportDefinition, error) {
	return append([]core.ReportDefinition(nil), f.defs...), nil
}

func (f *fakeReportAPI) Definition(ctx context.Context, id int64) (*core.ReportDefinition, error) {
	for _, d := range f.defs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, &client.APIError{Status: 404, Detail: "Definition not found"}
}

func (f *fakeReportAPI) ParameterValues(ctx context.Context, defID int64, param string) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, ok := f.lookups[param]
	if !ok {
		return nil, errors.New("lookup failed")
	}
	return values, nil
}

func (f *fakeReportAPI) ProcParameters(ctx context.Context, proc string) ([]core.ProcParameter, error) {
	return f.procs, nil
}

func (f *fakeReportAPI) RunReport(ctx context.Context, defID int64, params url.Values) (*core.RunResult, error) {
	f.submitted = params
	return f.result, f.runErr
}

func (f *fakeReportAPI) GenerateReport(ctx context.Context, name string) (*core.QuickReport, error) {
	return f.quick, nil
}

func (f *fakeReportAPI) DiagnoseDefinitions(ctx context.Context) (json.RawMessage, error) {
	return f.diag, nil
}

func salesAPI() *fakeReportAPI {
	return &fakeReportAPI{
		defs: []core.ReportDefinition{
			{ID: 1, ReportName: "Sales", StoredProcedure: "dbo.sp_sales", Active: true,
				Parameters: []core.Parameter{{Name: "city"}, {Name: "year"}}},
			{ID: 2, ReportName: "Old", StoredProcedure: "dbo.sp_old", Active: false},
		},
		lookups: map[string][]any{"year": {}},
	}
}

func TestLoadDefinitionsKeepsActive(t *testing.T) {
	r := NewReportRunner().Bind(salesAPI())
	require.NoError(t, r.LoadDefinitions(context.Background()))
	require.Len(t, r.Definitions, 1)
	assert.Equal(t, "Sales", r.Definitions[0].ReportName)
}

func TestSelectDefinitionRendersInputs(t *testing.T) {
	r := NewReportRunner().Bind(salesAPI())
	require.NoError(t, r.SelectDefinition(context.Background(), 1))

	require.Len(t, r.Params, 2)
	assert.Equal(t, "param_city", r.Params[0].ID())
	assert.Equal(t, "param_year", r.Params[1].ID())
	assert.False(t, r.Params[0].IsChoice(), "a failed lookup keeps the text input")
	assert.False(t, r.Params[1].IsChoice(), "an empty lookup keeps the text input")
	assert.Equal(t, "Procedure: dbo.sp_sales | Parameters: city, year", r.Info)
}

func TestSelectDefinitionLookupBecomesChoice(t *testing.T) {
	api := salesAPI()
	api.lookups["city"] = []any{"NY", "LA"}
	r := NewReportRunner().Bind(api)
	require.NoError(t, r.SelectDefinition(context.Background(), 1))

	assert.Equal(t, []string{"NY", "LA"}, r.Params[0].Options)
	assert.True(t, r.Params[0].IsChoice())
	assert.False(t, r.Params[1].IsChoice())
}

func TestSelectMissingDefinition(t *testing.T) {
	r := NewReportRunner().Bind(salesAPI())
	assert.Error(t, r.SelectDefinition(context.Background(), 99))
	assert.Nil(t, r.Selected)
	assert.Equal(t, "Error loading definition.", r.Info)
}

func TestRunSubmitsDeclaredAndAdhocParams(t *testing.T) {
	logID := int64(9)
	api := salesAPI()
	api.result = &core.RunResult{
		OK: true, ReportName: "Sales", ReportLogID: &logID,
		Columns: []string{"a", "b"}, Rows: [][]any{{1.0, 2.0}, {3.0, 4.0}}, RowsReturned: 2,
	}
	r := NewReportRunner().Bind(api)
	require.NoError(t, r.SelectDefinition(context.Background(), 1))

	r.Capture(url.Values{
		"param_city":  {"  NY "},
		"param_year":  {""},
		"adhoc_name":  {"extra", "  "},
		"adhoc_value": {"5", "ignored"},
	})
	r.Run(context.Background())

	assert.Equal(t, url.Values{"param_city": {"NY"}, "param_extra": {"5"}}, api.submitted)
	assert.Equal(t, "Definition Sales executed. Rows returned: 2. Log ID: 9.", r.Status)
	assert.Contains(t, string(r.Output), "<table")
	assert.Equal(t, "Sales", r.ExportBase())
}

func TestRunWithoutSelection(t *testing.T) {
	api := salesAPI()
	r := NewReportRunner().Bind(api)
	r.Run(context.Background())
	assert.Equal(t, "Select a definition first.", r.Status)
	assert.Nil(t, api.submitted)
}

func TestRunFailureHints(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantHint bool
	}{
		{"arity", "Procedure or function sp_sales has Too Many Arguments specified.", true},
		{"other", "Invalid object name 'Sales'", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := salesAPI()
			msg := tt.errMsg
			api.result = &core.RunResult{ReportName: "Sales", Error: &msg, Status: core.StatusError}
			r := NewReportRunner().Bind(api)
			require.NoError(t, r.SelectDefinition(context.Background(), 1))
			r.Run(context.Background())

			assert.Contains(t, r.Status, "Failed: "+tt.errMsg)
			if tt.wantHint {
				assert.Contains(t, r.Status, "Remove extra parameters or use parameter discovery.")
			} else {
				assert.NotContains(t, r.Status, "parameter discovery")
			}
			assert.Contains(t, string(r.Output), "<pre>")
		})
	}
}

func TestRunAPIError(t *testing.T) {
	api := salesAPI()
	api.runErr = &client.APIError{Status: 400, Detail: "Definition inactive"}
	r := NewReportRunner().Bind(api)
	require.NoError(t, r.SelectDefinition(context.Background(), 1))
	r.Run(context.Background())

	assert.Equal(t, "Failed: Definition inactive", r.Status)
	rendered, err := TableFromHTML(r.Output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"detail":"Definition inactive"}`, rendered.Text)
}

func TestRunNetworkError(t *testing.T) {
	api := salesAPI()
	api.runErr = errors.New("connection refused")
	r := NewReportRunner().Bind(api)
	require.NoError(t, r.SelectDefinition(context.Background(), 1))
	r.Run(context.Background())

	assert.Equal(t, "Execution error.", r.Status)
	assert.Contains(t, string(r.Output), "Error: connection refused")
}

func TestDiscoverParameters(t *testing.T) {
	api := salesAPI()
	api.procs = []core.ProcParameter{{Name: "@from", Mode: "IN"}, {Name: "@to", Mode: "IN"}}
	r := NewReportRunner().Bind(api)

	require.NoError(t, r.DiscoverParameters(context.Background()))
	assert.Equal(t, "Select a definition first.", r.Info)

	require.NoError(t, r.SelectDefinition(context.Background(), 1))
	require.NoError(t, r.DiscoverParameters(context.Background()))
	assert.Equal(t, "discovered: Parameters: from, to", r.Info)
	require.Len(t, r.Params, 2)
	assert.Equal(t, "param_from", r.Params[0].ID())

	r.Capture(url.Values{"param_from": {"2024-01-01"}, "param_city": {"NY"}})
	assert.Equal(t, url.Values{"param_from": {"2024-01-01"}}, r.Submission())
}

func TestAdhocRows(t *testing.T) {
	r := NewReportRunner()
	r.AddAdhocRow()
	r.AddAdhocRow()
	require.Len(t, r.Adhoc, 2)

	r.SetAdhocRows([]AdhocRow{{"a", "1"}, {"b", "2"}, {"c", "3"}})
	r.RemoveAdhocRow(1)
	r.RemoveAdhocRow(7)
	assert.Equal(t, []AdhocRow{{"a", "1"}, {"c", "3"}}, r.Adhoc)
	assert.Equal(t, url.Values{"param_a": {"1"}, "param_c": {"3"}}, r.Submission())
}

func TestDiagnoseAndQuickGenerate(t *testing.T) {
	logID, total := int64(4), int64(1200)
	api := salesAPI()
	api.diag = json.RawMessage(`{"server":"db1","tables_count":3}`)
	api.quick = &core.QuickReport{
		OK: true, ReportName: "quick", ReportLogID: &logID,
		Tables: []core.TableCount{{Table: "a"}, {Table: "b"}}, RowsTotalEstimate: &total,
	}
	r := NewReportRunner().Bind(api)

	r.Diagnose(context.Background())
	assert.Equal(t, "Connectivity checked.", r.Status)
	assert.Contains(t, string(r.Output), "tables_count")

	r.QuickGenerate(context.Background(), " quick ")
	assert.Equal(t, "Quick report quick generated. ID: 4. Tables: 2. Rows total estimate: 1200.", r.Status)
	assert.Equal(t, "quick", r.ExportBase())
}

func TestDiagnoseShowsMissingDatabaseDocument(t *testing.T) {
	rec, srv := newRecorder(t)
	rec.handle("GET /report/db/diag", http.StatusNotFound,
		`{"server":"db1","exists":false,"available_databases":["master","sales"]}`)
	r := NewReportRunner().Bind(client.New(srv.URL))

	require.NoError(t, r.Diagnose(context.Background()))
	assert.Equal(t, "Connectivity checked.", r.Status)
	pre := elements(parseFragment(t, string(r.Output)), atom.Pre)
	require.Len(t, pre, 1)
	assert.JSONEq(t, `{"server":"db1","exists":false,"available_databases":["master","sales"]}`,
		pre[0].FirstChild.Data)
}

func TestDiagnoseBackendFailure(t *testing.T) {
	rec, srv := newRecorder(t)
	rec.handle("GET /report/db/diag", http.StatusUnauthorized, `{"detail":"Invalid or expired token"}`)
	r := NewReportRunner().Bind(client.New(srv.URL))

	err := r.Diagnose(context.Background())
	assert.True(t, isUnauthorized(err))
	assert.Equal(t, "Connectivity check failed.", r.Status)
}

func TestFailedRunForgetsPreviousResultName(t *testing.T) {
	api := salesAPI()
	api.defs[0].ReportName = "Current"
	r := NewReportRunner().Bind(api)
	require.NoError(t, r.SelectDefinition(context.Background(), 1))
	r.lastName = "Previous Report"

	api.runErr = &client.APIError{Status: http.StatusBadRequest, Detail: "Definition inactive"}
	assert.Error(t, r.Run(context.Background()))
	assert.Equal(t, "Current", r.ExportBase())

	r.lastName = "Previous Report"
	api.runErr = errors.New("connection refused")
	assert.Error(t, r.Run(context.Background()))
	assert.Equal(t, "Current", r.ExportBase())
}
