package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/logger"
)

const (
	maxResultRows   = 100
	maxLookupValues = 1000
	maxReportName   = 200
)

// ReportExecutor runs report definitions against the runtime database and
// records each run in the report log.
type ReportExecutor struct {
	runtime *Runtime
	defs    core.DefinitionRepository
	logs    core.ReportLogRepository
	now     func() time.Time
}

func NewReportExecutor(runtime *Runtime, defs core.DefinitionRepository, logs core.ReportLogRepository) *ReportExecutor {
	return &ReportExecutor{
		runtime: runtime,
		defs:    defs,
		logs:    logs,
		now:     time.Now,
	}
}

func (e *ReportExecutor) definition(ctx context.Context, id int64, missing string) (*core.ReportDefinition, error) {
	d, err := e.defs.GetByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NotFound("%s", missing)
	}
	return d, err
}

// Run executes the definition's stored procedure. Declared parameters are
// read from param_<name> fields and passed positionally; undeclared
// param_* fields follow as named arguments. A procedure failure is reported
// in the result, not as an error.
func (e *ReportExecutor) Run(ctx context.Context, defID int64, user string, form map[string][]string) (*core.RunResult, error) {
	def, err := e.definition(ctx, defID, "Definition not found")
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, core.Invalid("Definition inactive")
	}

	db, d, err := e.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	declared := def.ParamNames()
	binding := core.BindParams(declared, form)
	extras := make([]string, len(binding.Extra))
	for i, x := range binding.Extra {
		extras[i] = x.Name
	}

	result := &core.RunResult{
		ReportName:      def.ReportName,
		StoredProcedure: def.StoredProcedure,
		Parameters:      declared,
		InputValues:     binding.Input,
		Columns:         []string{},
		Rows:            [][]any{},
	}

	started, _ := json.Marshal(map[string]any{
		"stored_procedure": def.StoredProcedure,
		"parameters":       declared,
		"input_values":     binding.Input,
	})
	if id, err := e.logs.Start(ctx, def.ReportName, user, string(started)); err != nil {
		logger.Error.Printf("Failed to record report start for %s: %v", def.ReportName, err)
	} else {
		result.ReportLogID = &id
	}

	stmt := d.procCall(def.StoredProcedure, len(declared), extras)
	result.Columns, result.Rows, err = fetchRows(ctx, db, maxResultRows, stmt, binding.Args()...)
	result.RowsReturned = len(result.Rows)
	result.Status = core.StatusSuccess
	if err != nil {
		msg := err.Error()
		result.Status = core.StatusError
		result.Error = &msg
		logger.Error.Printf("Report %s (%s) failed: %v", def.ReportName, def.StoredProcedure, err)
	}
	result.OK = result.Status == core.StatusSuccess

	if result.ReportLogID != nil {
		final, _ := json.Marshal(map[string]any{
			"stored_procedure": def.StoredProcedure,
			"parameters":       declared,
			"input_values":     binding.Input,
			"columns":          result.Columns,
			"rows_returned":    result.RowsReturned,
			"error":            result.Error,
		})
		if err := e.logs.Finish(ctx, *result.ReportLogID, result.Status, string(final)); err != nil {
			logger.Error.Printf("Failed to record report finish for %s: %v", def.ReportName, err)
		}
	}
	return result, nil
}

// ParameterValues runs the lookup query attached to a parameter and returns
// the first column of up to 1000 rows. Parameters without a lookup yield an
// empty list.
func (e *ReportExecutor) ParameterValues(ctx context.Context, defID int64, name string) ([]any, error) {
	def, err := e.definition(ctx, defID, "Report definition not found")
	if err != nil {
		return nil, err
	}
	p, ok := def.Param(core.NormalizeParamName(name))
	if !ok || p.ValuesQuery == "" {
		return []any{}, nil
	}

	db, _, err := e.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	_, rows, err := fetchRows(ctx, db, maxLookupValues, p.ValuesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute values_query: %w", err)
	}
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 {
			values = append(values, r[0])
		}
	}
	return values, nil
}

// ProcParameters reads a stored procedure's parameter list from the runtime
// catalog, in ordinal order and without the leading @.
func (e *ReportExecutor) ProcParameters(ctx context.Context, proc string) ([]core.ProcParameter, error) {
	db, d, err := e.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, d.procParams, proc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	params := []core.ProcParameter{}
	for rows.Next() {
		var name, mode, typ sql.NullString
		if err := rows.Scan(&name, &mode, &typ); err != nil {
			return nil, err
		}
		params = append(params, core.ProcParameter{
			Name: core.NormalizeParamName(name.String),
			Mode: mode.String,
			Type: typ.String,
		})
	}
	return params, rows.Err()
}

// StoredProcedures lists the runtime procedures with their parameters.
func (e *ReportExecutor) StoredProcedures(ctx context.Context) ([]core.StoredProcedure, error) {
	db, d, err := e.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	names, err := queryStrings(ctx, db, d.listProcs)
	if err != nil {
		return nil, err
	}

	procs := make([]core.StoredProcedure, 0, len(names))
	for _, name := range names {
		params, err := procDetails(ctx, db, d, name)
		if err != nil {
			return nil, err
		}
		procs = append(procs, core.StoredProcedure{Name: name, Parameters: params})
	}
	return procs, nil
}

func procDetails(ctx context.Context, db *sql.DB, d dialect, proc string) ([]core.ProcParameter, error) {
	rows, err := db.QueryContext(ctx, d.procDetails, proc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	params := []core.ProcParameter{}
	for rows.Next() {
		var name, typ, mode sql.NullString
		var maxLen sql.NullInt64
		if err := rows.Scan(&name, &typ, &maxLen, &mode); err != nil {
			return nil, err
		}
		p := core.ProcParameter{Name: name.String, Type: typ.String, Mode: mode.String}
		if maxLen.Valid {
			p.MaxLength = &maxLen.Int64
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

// Generate records a quick report summarising the runtime tables and their
// row counts. Table inspection is best effort.
func (e *ReportExecutor) Generate(ctx context.Context, name, user string) (*core.QuickReport, error) {
	if name == "" {
		name = "report_" + e.now().UTC().Format("20060102_150405")
	}
	if len(name) > maxReportName {
		name = name[:maxReportName]
	}

	db, d, err := e.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, core.Unavailable("Main DB connection unavailable")
	}
	defer db.Close()

	report := &core.QuickReport{OK: true, ReportName: name, Tables: []core.TableCount{}}
	tables, err := e.runtime.UserTables(ctx, db, d)
	if err != nil {
		logger.Error.Printf("Quick report table listing failed: %v", err)
	}
	report.TablesInspected = len(tables)
	for _, t := range tables {
		tc := core.TableCount{Table: t}
		var n int64
		if err := db.QueryRowContext(ctx, d.countRows(t)).Scan(&n); err == nil {
			tc.Rows = &n
		}
		report.Tables = append(report.Tables, tc)
	}
	if len(report.Tables) > 0 {
		var total int64
		for _, tc := range report.Tables {
			if tc.Rows != nil {
				total += *tc.Rows
			}
		}
		report.RowsTotalEstimate = &total
	}

	details, _ := json.Marshal(map[string]any{
		"tables":              report.Tables,
		"rows_total_estimate": report.RowsTotalEstimate,
	})
	id, err := e.logs.CreateFinished(ctx, name, user, core.StatusSuccess, string(details))
	if err != nil {
		return nil, fmt.Errorf("report generation failed: %w", err)
	}
	report.ReportLogID = &id
	return report, nil
}

// fetchRows runs query and returns its columns and at most limit rows with
// every cell converted to a JSON friendly value.
func fetchRows(ctx context.Context, db *sql.DB, limit int, query string, args ...any) ([]string, [][]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return []string{}, [][]any{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return []string{}, [][]any{}, err
	}

	out := [][]any{}
	for len(out) < limit && rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range columns {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return columns, out, err
		}
		for i, v := range values {
			values[i] = safeCell(v)
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

// safeCell keeps nil, numbers, booleans and strings, renders times as
// RFC 3339 and everything else as its string form.
func safeCell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
