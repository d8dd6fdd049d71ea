package data

import (
	"context"
	"database/sql"
	"time"

	"reportapp/internal/core"
)

type ImportLogRepo struct {
	db *sql.DB
}

func NewImportLogRepo(db *sql.DB) *ImportLogRepo {
	return &ImportLogRepo{db: db}
}

func (r *ImportLogRepo) Create(ctx context.Context, l *core.ImportLog) error {
	if l.StartedAt.IsZero() {
		l.StartedAt = now()
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO import_log (file_name, table_name, user_name, file_size, rows_imported, status, error_message, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.FileName, l.TableName, l.UserName, l.FileSize, l.RowsImported, l.Status, l.ErrorMessage, l.StartedAt, l.FinishedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// IsDuplicate reports whether the same file was already imported into table.
func (r *ImportLogRepo) IsDuplicate(ctx context.Context, fileName, tableName string, fileSize int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_log WHERE file_name = ? AND table_name = ? AND file_size = ? AND status = ?`,
		fileName, tableName, fileSize, core.StatusSuccess).Scan(&count)
	return count > 0, err
}

// Recent returns the latest finished imports, newest first.
func (r *ImportLogRepo) Recent(ctx context.Context, limit int) ([]core.ImportLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, file_name, table_name, user_name, file_size, rows_imported, status, error_message, started_at, finished_at FROM import_log WHERE finished_at IS NOT NULL ORDER BY finished_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []core.ImportLog{}
	for rows.Next() {
		var l core.ImportLog
		var user, errMsg sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(&l.ID, &l.FileName, &l.TableName, &user, &l.FileSize, &l.RowsImported, &l.Status, &errMsg, &started, &finished); err != nil {
			return nil, err
		}
		l.UserName = user.String
		l.ErrorMessage = errMsg.String
		l.StartedAt = started.Time
		l.FinishedAt = nullTimePtr(finished)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats returns the total number of imported rows and the last finish time.
func (r *ImportLogRepo) Stats(ctx context.Context) (int, *time.Time, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(rows_imported), 0) FROM import_log`).Scan(&total); err != nil {
		return 0, nil, err
	}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT finished_at FROM import_log WHERE finished_at IS NOT NULL ORDER BY finished_at DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return total, nil, err
	}
	return total, nullTimePtr(last), nil
}

// ImportedTables lists tables that received at least one successful import.
func (r *ImportLogRepo) ImportedTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT table_name FROM import_log WHERE status = ? ORDER BY table_name`, core.StatusSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}
