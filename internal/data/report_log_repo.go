package data

import (
	"context"
	"database/sql"
	"time"

	"reportapp/internal/core"
)

type ReportLogRepo struct {
	db *sql.DB
}

func NewReportLogRepo(db *sql.DB) *ReportLogRepo {
	return &ReportLogRepo{db: db}
}

// Start inserts a running entry and returns its id.
func (r *ReportLogRepo) Start(ctx context.Context, reportName, userName, details string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO report_log (report_name, user_name, started_at, status, details) VALUES (?, ?, ?, ?, ?)`,
		reportName, userName, now(), core.StatusRunning, details)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *ReportLogRepo) Finish(ctx context.Context, id int64, status, details string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE report_log SET finished_at=?, status=?, details=? WHERE id=?`,
		now(), status, details, id)
	return err
}

func (r *ReportLogRepo) CreateFinished(ctx context.Context, reportName, userName, status, details string) (int64, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `INSERT INTO report_log (report_name, user_name, started_at, finished_at, status, details) VALUES (?, ?, ?, ?, ?, ?)`,
		reportName, userName, ts, ts, status, details)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recent returns the latest finished runs, newest first.
func (r *ReportLogRepo) Recent(ctx context.Context, limit int) ([]core.ReportLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, report_name, user_name, started_at, finished_at, status, details FROM report_log WHERE finished_at IS NOT NULL ORDER BY finished_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []core.ReportLog{}
	for rows.Next() {
		var l core.ReportLog
		var user, details sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(&l.ID, &l.ReportName, &user, &started, &finished, &l.Status, &details); err != nil {
			return nil, err
		}
		l.UserName = user.String
		l.Details = details.String
		l.StartedAt = started.Time
		l.FinishedAt = nullTimePtr(finished)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *ReportLogRepo) Stats(ctx context.Context) (int, *time.Time, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_log`).Scan(&total); err != nil {
		return 0, nil, err
	}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT finished_at FROM report_log WHERE finished_at IS NOT NULL ORDER BY finished_at DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return total, nil, err
	}
	return total, nullTimePtr(last), nil
}
