package data

import (
	"context"
	"database/sql"

	"reportapp/internal/core"
)

type DefinitionRepo struct {
	db *sql.DB
}

func NewDefinitionRepo(db *sql.DB) *DefinitionRepo {
	return &DefinitionRepo{db: db}
}

func (r *DefinitionRepo) Create(ctx context.Context, d *core.ReportDefinition) error {
	params, err := core.EncodeParameters(d.Parameters)
	if err != nil {
		return err
	}
	ts := now()
	res, err := r.db.ExecContext(ctx, `INSERT INTO report_definitions (report_name, stored_procedure, parameters, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ReportName, d.StoredProcedure, params, boolInt(d.Active), ts, ts)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

func (r *DefinitionRepo) GetByID(ctx context.Context, id int64) (*core.ReportDefinition, error) {
	var d core.ReportDefinition
	var params sql.NullString
	var active int
	err := r.db.QueryRowContext(ctx, `SELECT id, report_name, stored_procedure, parameters, active FROM report_definitions WHERE id = ?`, id).
		Scan(&d.ID, &d.ReportName, &d.StoredProcedure, &params, &active)
	if err != nil {
		return nil, notFoundOr(err, "Report definition not found")
	}
	d.Parameters = core.ParseParameters(params.String)
	d.Active = active == 1
	return &d, nil
}

func (r *DefinitionRepo) GetAll(ctx context.Context) ([]core.ReportDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, report_name, stored_procedure, parameters, active FROM report_definitions ORDER BY report_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := []core.ReportDefinition{}
	for rows.Next() {
		var d core.ReportDefinition
		var params sql.NullString
		var active int
		if err := rows.Scan(&d.ID, &d.ReportName, &d.StoredProcedure, &params, &active); err != nil {
			return nil, err
		}
		d.Parameters = core.ParseParameters(params.String)
		d.Active = active == 1
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (r *DefinitionRepo) Update(ctx context.Context, d *core.ReportDefinition) error {
	params, err := core.EncodeParameters(d.Parameters)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE report_definitions SET report_name=?, stored_procedure=?, parameters=?, active=?, updated_at=? WHERE id=?`,
		d.ReportName, d.StoredProcedure, params, boolInt(d.Active), now(), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("Report definition not found")
	}
	return nil
}

func (r *DefinitionRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM report_definitions WHERE id=?`, id)
	return err
}
