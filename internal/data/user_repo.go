package data

import (
	"context"
	"database/sql"
	"strings"

	"reportapp/internal/core"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO users (username, password_hash, role, must_change_password, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Role, boolInt(u.MustChangePassword), u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.Conflict("Username already exists")
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*core.User, error) {
	return r.scanOne(ctx, `SELECT id, username, password_hash, role, must_change_password, created_at FROM users WHERE username = ?`, username)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*core.User, error) {
	return r.scanOne(ctx, `SELECT id, username, password_hash, role, must_change_password, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepo) scanOne(ctx context.Context, query string, arg any) (*core.User, error) {
	var u core.User
	var mustChange int
	var createdAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &mustChange, &createdAt)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	u.MustChangePassword = mustChange == 1
	u.CreatedAt = createdAt.Time
	return &u, nil
}

func (r *UserRepo) GetAll(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, username, role, must_change_password, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []core.User{}
	for rows.Next() {
		var u core.User
		var mustChange int
		var createdAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &mustChange, &createdAt); err != nil {
			return nil, err
		}
		u.MustChangePassword = mustChange == 1
		u.CreatedAt = createdAt.Time
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update writes username, role and the change flag. The password hash is
// only touched when non-empty.
func (r *UserRepo) Update(ctx context.Context, u *core.User) error {
	var err error
	if u.PasswordHash != "" {
		_, err = r.db.ExecContext(ctx, `UPDATE users SET username=?, role=?, password_hash=?, must_change_password=? WHERE id=?`,
			u.Username, u.Role, u.PasswordHash, boolInt(u.MustChangePassword), u.ID)
	} else {
		_, err = r.db.ExecContext(ctx, `UPDATE users SET username=?, role=?, must_change_password=? WHERE id=?`,
			u.Username, u.Role, boolInt(u.MustChangePassword), u.ID)
	}
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return core.Conflict("Username already exists")
	}
	return err
}

func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("User not found")
	}
	return nil
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (r *UserRepo) CountByRole(ctx context.Context, role string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ?`, role).Scan(&count)
	return count, err
}
