package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/logger"

	"github.com/xuri/excelize/v2"
)

const (
	insertBatchSize   = 1000
	defaultPreviewRow = 10
	maxPreviewRows    = 100
)

// UploadedFile is one file of an import request.
type UploadedFile struct {
	Name string
	Data []byte
}

// ImportResult is the response of a bulk import.
type ImportResult struct {
	Success      bool                    `json:"success"`
	RowsImported int                     `json:"rows_imported"`
	Details      []core.ImportFileResult `json:"details"`
	ImportLogIDs []int64                 `json:"import_log_ids"`
	TableCreated string                  `json:"table_created,omitempty"`
}

// Importer loads spreadsheet and CSV files into runtime tables.
type Importer struct {
	runtime *Runtime
	logs    core.ImportLogRepository
}

func NewImporter(runtime *Runtime, logs core.ImportLogRepository) *Importer {
	return &Importer{runtime: runtime, logs: logs}
}

func isExcel(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".xlsx" || ext == ".xls"
}

func isCSV(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".csv"
}

// SheetNames lists the worksheets of a spreadsheet upload.
func SheetNames(name string, data []byte) ([]string, error) {
	if !isExcel(name) {
		return nil, core.Invalid("Only Excel files have sheets")
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.Invalid("Failed to read Excel file: %v", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// rawTable is a parsed upload: the first row is the header.
type rawTable struct {
	header []string
	rows   [][]string
	sheet  *string
}

func readUpload(name string, data []byte, sheet string) (*rawTable, error) {
	switch {
	case isExcel(name):
		return readSheet(data, sheet)
	case isCSV(name):
		t, err := readCSV(data)
		if err != nil {
			return nil, core.Invalid("Failed to read CSV file: %v", err)
		}
		return t, nil
	}
	return nil, core.Invalid("Unsupported file type: %s. Please upload CSV or Excel files.", strings.ToLower(filepath.Ext(name)))
}

func readSheet(data []byte, sheet string) (*rawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.Invalid("Failed to read Excel file: %v", err)
	}
	defer f.Close()

	target := sheet
	if target == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return &rawTable{}, nil
		}
		target = list[0]
	}
	rows, err := f.GetRows(target)
	if err != nil {
		if sheet != "" {
			return nil, core.Invalid("Failed to read sheet '%s': %v", sheet, err)
		}
		return nil, core.Invalid("Failed to read Excel file: %v", err)
	}

	t := &rawTable{}
	if sheet != "" {
		t.sheet = &sheet
	}
	if len(rows) > 0 {
		t.header, t.rows = rows[0], rows[1:]
	}
	return t, nil
}

func readCSV(data []byte) (*rawTable, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	t := &rawTable{}
	if len(records) > 0 {
		t.header, t.rows = records[0], records[1:]
	}
	return t, nil
}

// CleanTable drops all-empty columns and rows, names blank headers
// Column_<n>, strips [ ] and , from headers and suffixes duplicates with
// _<k>. Rows are padded to the header width.
func CleanTable(header []string, rows [][]string) ([]string, [][]string) {
	width := len(header)
	for _, r := range rows {
		width = max(width, len(r))
	}
	cell := func(r []string, i int) string {
		if i < len(r) {
			return r[i]
		}
		return ""
	}

	keep := []int{}
	for c := 0; c < width; c++ {
		for _, r := range rows {
			if strings.TrimSpace(cell(r, c)) != "" {
				keep = append(keep, c)
				break
			}
		}
	}

	var outRows [][]string
	for _, r := range rows {
		row := make([]string, len(keep))
		empty := true
		for i, c := range keep {
			row[i] = cell(r, c)
			if strings.TrimSpace(row[i]) != "" {
				empty = false
			}
		}
		if !empty {
			outRows = append(outRows, row)
		}
	}

	return headerNames(header, keep), outRows
}

var headerStrip = strings.NewReplacer("[", "", "]", "", ",", "")

func headerNames(header []string, keep []int) []string {
	names := make([]string, len(keep))
	seen := map[string]int{}
	for i, c := range keep {
		name := ""
		if c < len(header) {
			name = headerStrip.Replace(strings.TrimSpace(header[c]))
		}
		if name == "" || strings.HasPrefix(name, "Unnamed:") {
			name = fmt.Sprintf("Column_%d", i+1)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 0
		}
		names[i] = name
	}
	return names
}

// Preview parses an upload and returns its columns with up to maxRows
// records. Nothing is written.
func (i *Importer) Preview(name string, data []byte, sheet string, maxRows int) (*core.ImportPreview, error) {
	if !isExcel(name) && !isCSV(name) {
		return nil, core.Invalid("Unsupported file type. Please upload CSV or Excel.")
	}
	t, err := readUpload(name, data, sheet)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = defaultPreviewRow
	}
	maxRows = min(maxRows, maxPreviewRows)

	all := make([]int, len(t.header))
	for c := range all {
		all[c] = c
	}
	columns := headerNames(t.header, all)

	preview := &core.ImportPreview{
		Columns:       columns,
		Rows:          []map[string]any{},
		SheetNameUsed: t.sheet,
		RowCount:      len(t.rows),
	}
	for _, r := range t.rows {
		if len(preview.Rows) == maxRows {
			break
		}
		rec := make(map[string]any, len(columns))
		for c, col := range columns {
			if c < len(r) && r[c] != "" {
				rec[col] = r[c]
			} else {
				rec[col] = nil
			}
		}
		preview.Rows = append(preview.Rows, rec)
	}
	return preview, nil
}

// ImportRequest describes one bulk import.
type ImportRequest struct {
	Files     []UploadedFile
	TableName string
	CreateNew bool
	SheetName string
	User      string
}

// Import loads every file into its target table. Per-file failures are
// reported in the details; only a missing table name or an unreachable
// runtime database fail the whole request.
func (i *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	result := &ImportResult{Success: true, Details: []core.ImportFileResult{}, ImportLogIDs: []int64{}}
	if len(req.Files) == 0 {
		return result, nil
	}

	db, d, err := i.runtime.OpenRuntime(ctx)
	if err != nil {
		return nil, core.Unavailable("SQL Server not available")
	}
	defer db.Close()

	for _, f := range req.Files {
		target := core.SanitizeTableName(req.TableName)
		if req.CreateNew {
			target = core.TableNameFromFile(f.Name)
			result.TableCreated = target
		}
		if target == "" {
			return nil, core.Invalid("Table name is required")
		}

		res := i.importFile(ctx, db, d, f, target, req)
		if res.Success {
			result.RowsImported += res.Rows
		}
		if res.ImportLogID != nil {
			result.ImportLogIDs = append(result.ImportLogIDs, *res.ImportLogID)
		}
		result.Details = append(result.Details, res)
	}
	logger.Info.Printf("Total rows imported: %d", result.RowsImported)
	return result, nil
}

func (i *Importer) importFile(ctx context.Context, db *sql.DB, d dialect, f UploadedFile, table string, req ImportRequest) core.ImportFileResult {
	res := core.ImportFileResult{File: f.Name}
	size := int64(len(f.Data))

	dup, err := i.logs.IsDuplicate(ctx, f.Name, table, size)
	if err != nil {
		logger.Error.Printf("Duplicate import check failed; proceeding: %v", err)
	}
	if dup {
		logger.Info.Printf("Skipping duplicate import of %s into %s (%d bytes)", f.Name, table, size)
		res.Error = "This file was already imported for this table with the same size."
		res.Duplicate = true
		return res
	}

	t, err := readUpload(f.Name, f.Data, req.SheetName)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	columns, rows := CleanTable(t.header, t.rows)

	entry := &core.ImportLog{
		FileName:  f.Name,
		TableName: table,
		UserName:  req.User,
		FileSize:  size,
		StartedAt: time.Now().UTC(),
	}
	n, err := insertRows(ctx, db, d, table, columns, rows)
	finished := time.Now().UTC()
	entry.FinishedAt = &finished
	entry.RowsImported = n
	if err != nil {
		logger.Error.Printf("Import of %s into %s failed: %v", f.Name, table, err)
		entry.Status = core.StatusError
		entry.ErrorMessage = err.Error()
		res.Error = fmt.Sprintf("Failed to import: %v", err)
	} else {
		logger.Info.Printf("Imported %d rows from %s into %s", n, f.Name, table)
		entry.Status = core.StatusSuccess
		res.Success = true
		res.Rows = n
		res.Table = table
	}

	if err := i.logs.Create(ctx, entry); err != nil {
		logger.Error.Printf("Failed to record import of %s: %v", f.Name, err)
	} else {
		res.ImportLogID = &entry.ID
	}
	return res
}

// insertRows creates table with text columns when it is missing and inserts
// rows in transactions of insertBatchSize.
func insertRows(ctx context.Context, db *sql.DB, d dialect, table string, columns []string, rows [][]string) (int, error) {
	if len(columns) == 0 {
		return 0, nil
	}

	var exists int
	if err := db.QueryRowContext(ctx, d.tableExists(), table).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		if _, err := db.ExecContext(ctx, d.createTable(table, columns)); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	stmtText := d.insertRow(table, columns)
	inserted := 0
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if err := insertBatch(ctx, db, stmtText, rows[start:end]); err != nil {
			return inserted, err
		}
		inserted += end - start
	}
	return inserted, nil
}

func insertBatch(ctx context.Context, db *sql.DB, stmtText string, rows [][]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtText)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		args := make([]any, len(r))
		for i, v := range r {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
