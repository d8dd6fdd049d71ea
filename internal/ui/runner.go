package ui

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"

	"reportapp/internal/client"
	"reportapp/internal/core"

	"golang.org/x/sync/errgroup"
)

// ParamField is one rendered report input. Options turns it into a choice
// control; nil keeps the free-text input.
type ParamField struct {
	Name    string
	Options []string
	Value   string
}

func (f ParamField) ID() string     { return "param_" + f.Name }
func (f ParamField) IsChoice() bool { return len(f.Options) > 0 }

// AdhocRow is an extra name/value pair passed to the procedure.
type AdhocRow struct {
	Name  string
	Value string
}

// ReportRunner holds the report page for one session: the selected
// definition, its inputs and the last rendered result.
type ReportRunner struct {
	api ReportAPI

	Definitions []core.ReportDefinition
	Selected    *core.ReportDefinition
	Params      []ParamField
	Adhoc       []AdhocRow

	Info   string
	Status string
	Output template.HTML

	// lastName is the report name of the last result, used for exports.
	lastName string
}

func NewReportRunner() *ReportRunner {
	return &ReportRunner{}
}

// Bind points the runner at a backend for the current request.
func (r *ReportRunner) Bind(api ReportAPI) *ReportRunner {
	r.api = api
	return r
}

func (r *ReportRunner) ParamsHTML() template.HTML { return RenderParams(r.Params) }

// LoadDefinitions refreshes the active definitions for the picker.
func (r *ReportRunner) LoadDefinitions(ctx context.Context) error {
	defs, err := r.api.Definitions(ctx)
	if err != nil {
		r.Info = err.Error()
		return err
	}
	active := defs[:0]
	for _, d := range defs {
		if d.Active {
			active = append(active, d)
		}
	}
	r.Definitions = active
	return nil
}

// SelectDefinition renders one input per declared parameter and swaps in a
// choice control for every parameter whose lookup returns values.
func (r *ReportRunner) SelectDefinition(ctx context.Context, id int64) error {
	r.Params = nil
	if id == 0 {
		r.Selected = nil
		r.Info = ""
		return nil
	}
	def, err := r.api.Definition(ctx, id)
	if err != nil {
		r.Selected = nil
		r.Info = "Error loading definition."
		return err
	}
	r.Selected = def

	names := def.ParamNames()
	r.Info = "Procedure: " + def.StoredProcedure
	if len(names) > 0 {
		r.Info += " | Parameters: " + strings.Join(names, ", ")
	} else {
		r.Info += " | No parameters"
	}

	fields := make([]ParamField, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		fields[i] = ParamField{Name: name}
		g.Go(func() error {
			values, err := r.api.ParameterValues(gctx, def.ID, name)
			if err != nil || len(values) == 0 {
				// the text input stays
				return nil
			}
			opts := make([]string, len(values))
			for j, v := range values {
				opts[j] = displayCell(v)
			}
			fields[i].Options = opts
			return nil
		})
	}
	g.Wait()
	r.Params = fields
	return nil
}

// DiscoverParameters replaces the rendered inputs with the procedure's
// actual parameter list.
func (r *ReportRunner) DiscoverParameters(ctx context.Context) error {
	if r.Selected == nil {
		r.Info = "Select a definition first."
		return nil
	}
	if r.Selected.StoredProcedure == "" {
		r.Info = "Stored procedure name missing on definition."
		return nil
	}
	params, err := r.api.ProcParameters(ctx, r.Selected.StoredProcedure)
	if err != nil {
		r.Info = "Parameter discovery failed: " + err.Error()
		return err
	}
	var names []string
	for _, p := range params {
		if name := core.NormalizeParamName(p.Name); name != "" {
			names = append(names, name)
		}
	}
	r.Params = make([]ParamField, len(names))
	for i, n := range names {
		r.Params[i] = ParamField{Name: n}
	}
	if len(names) == 0 {
		r.Info = "No parameters (discovered)"
	} else {
		r.Info = "discovered: Parameters: " + strings.Join(names, ", ")
	}
	return nil
}

func (r *ReportRunner) AddAdhocRow() {
	r.Adhoc = append(r.Adhoc, AdhocRow{})
}

func (r *ReportRunner) RemoveAdhocRow(i int) {
	if i < 0 || i >= len(r.Adhoc) {
		return
	}
	r.Adhoc = append(r.Adhoc[:i], r.Adhoc[i+1:]...)
}

func (r *ReportRunner) SetAdhocRows(rows []AdhocRow) {
	r.Adhoc = rows
}

// Capture keeps the values typed into the form so they survive a redirect.
func (r *ReportRunner) Capture(form url.Values) {
	for i := range r.Params {
		r.Params[i].Value = strings.TrimSpace(form.Get(r.Params[i].ID()))
	}
	r.SetAdhocRows(AdhocRowsFromForm(form))
}

// AdhocRowsFromForm pairs the repeated adhoc_name / adhoc_value fields.
func AdhocRowsFromForm(form url.Values) []AdhocRow {
	names, values := form["adhoc_name"], form["adhoc_value"]
	rows := make([]AdhocRow, len(names))
	for i, n := range names {
		rows[i].Name = n
		if i < len(values) {
			rows[i].Value = values[i]
		}
	}
	return rows
}

// Submission builds the param_<name> fields: declared inputs with a value,
// then every ad-hoc row that has a name.
func (r *ReportRunner) Submission() url.Values {
	out := url.Values{}
	for _, f := range r.Params {
		if v := strings.TrimSpace(f.Value); v != "" {
			out.Add(f.ID(), v)
		}
	}
	for _, row := range r.Adhoc {
		if n := strings.TrimSpace(row.Name); n != "" {
			out.Add("param_"+n, strings.TrimSpace(row.Value))
		}
	}
	return out
}

const fewerArgsHint = "; this stored procedure appears to accept fewer parameters. Remove extra parameters or use parameter discovery."

func failureStatus(msg string) string {
	if strings.Contains(strings.ToLower(msg), "too many arguments") {
		msg += fewerArgsHint
	}
	return "Failed: " + msg
}

// Run executes the selected definition with the captured inputs. The
// returned error is the backend call's, already reflected in Status.
func (r *ReportRunner) Run(ctx context.Context) error {
	if r.Selected == nil {
		r.Status = "Select a definition first."
		return nil
	}
	res, err := r.api.RunReport(ctx, r.Selected.ID, r.Submission())
	if err != nil {
		r.lastName = ""
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			r.Output = RenderJSON(map[string]any{"detail": apiErr.Detail})
			r.Status = failureStatus(apiErr.Detail)
			return err
		}
		r.Output = RenderText("Error: " + err.Error())
		r.Status = "Execution error."
		return err
	}

	r.Output = RenderResult(res)
	r.lastName = res.ReportName
	if !res.OK {
		msg := "Execution failed"
		if res.Error != nil && *res.Error != "" {
			msg = *res.Error
		}
		r.Status = failureStatus(msg)
		return nil
	}
	r.Status = fmt.Sprintf("Definition %s executed. Rows returned: %d. Log ID: %s.",
		res.ReportName, res.RowsReturned, formatID(res.ReportLogID))
	return nil
}

// Diagnose renders the definitions database diagnostics, including the
// document the backend sends with a missing or unreachable database.
func (r *ReportRunner) Diagnose(ctx context.Context) error {
	raw, err := r.api.DiagnoseDefinitions(ctx)
	if err != nil {
		r.Output = RenderText("Error: " + err.Error())
		r.Status = "Connectivity check failed."
		return err
	}
	r.Output = RenderJSON(raw)
	r.Status = "Connectivity checked."
	return nil
}

// QuickGenerate runs the built-in table statistics report.
func (r *ReportRunner) QuickGenerate(ctx context.Context, name string) error {
	q, err := r.api.GenerateReport(ctx, strings.TrimSpace(name))
	if err != nil {
		r.Output = RenderText("Error: " + err.Error())
		r.Status = ""
		return err
	}
	r.Output = RenderJSON(q)
	r.lastName = q.ReportName

	msg := "Quick report " + q.ReportName + " generated."
	if q.ReportLogID != nil {
		msg += " ID: " + formatID(q.ReportLogID) + "."
	}
	msg += " Tables: " + strconv.Itoa(len(q.Tables)) + "."
	if q.RowsTotalEstimate != nil {
		msg += " Rows total estimate: " + strconv.FormatInt(*q.RowsTotalEstimate, 10) + "."
	}
	r.Status = msg
	return nil
}

// ExportBase names downloads after the last result, then the selection.
func (r *ReportRunner) ExportBase() string {
	if r.lastName != "" {
		return r.lastName
	}
	if r.Selected != nil && r.Selected.ReportName != "" {
		return r.Selected.ReportName
	}
	return "report"
}

func formatID(id *int64) string {
	if id == nil {
		return "n/a"
	}
	return strconv.FormatInt(*id, 10)
}
