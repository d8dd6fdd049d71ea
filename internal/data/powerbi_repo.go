package data

import (
	"context"
	"database/sql"

	"reportapp/internal/core"
)

type PowerBIRepo struct {
	db *sql.DB
}

func NewPowerBIRepo(db *sql.DB) *PowerBIRepo {
	return &PowerBIRepo{db: db}
}

// Create appends the report after the current last sort position.
func (r *PowerBIRepo) Create(ctx context.Context, rep *core.PowerBIReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), 0) + 1 FROM powerbi_reports`).Scan(&next); err != nil {
		return err
	}

	ts := now()
	res, err := tx.ExecContext(ctx, `INSERT INTO powerbi_reports (name, embed_url, enabled, show_filter_pane, show_nav_pane, allow_fullscreen, sort_order, created_at, updated_at, updated_by) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.Name, rep.EmbedURL, boolInt(rep.Enabled), boolInt(rep.ShowFilterPane), boolInt(rep.ShowNavPane), boolInt(rep.AllowFullscreen), next, ts, ts, rep.UpdatedBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rep.ID = id
	rep.SortOrder = next
	return nil
}

func (r *PowerBIRepo) ListEnabled(ctx context.Context) ([]core.PowerBIReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, embed_url, enabled, show_filter_pane, show_nav_pane, allow_fullscreen, sort_order FROM powerbi_reports WHERE enabled = 1 ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []core.PowerBIReport{}
	for rows.Next() {
		var p core.PowerBIReport
		// SQLite stores booleans as integers (0 or 1)
		var enabled, filter, nav, full int
		if err := rows.Scan(&p.ID, &p.Name, &p.EmbedURL, &enabled, &filter, &nav, &full, &p.SortOrder); err != nil {
			return nil, err
		}
		p.Enabled = enabled == 1
		p.ShowFilterPane = filter == 1
		p.ShowNavPane = nav == 1
		p.AllowFullscreen = full == 1
		reports = append(reports, p)
	}
	return reports, rows.Err()
}

func (r *PowerBIRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM powerbi_reports WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
