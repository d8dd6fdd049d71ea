package api

import (
	"fmt"
	"net/http"
	"strings"

	"reportapp/internal/core"
	"reportapp/internal/logger"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err, "Login failed")
		return
	}
	logger.Info.Printf("Login attempt for user: %s", req.Username)

	res, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Info.Printf("Login rejected for %s: %v", req.Username, err)
		fail(w, err, "Login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":                res.Token,
		"role":                 res.Role,
		"must_change_password": res.MustChangePassword,
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Failed to change password")
		return
	}
	if err := h.Auth.ChangePassword(r.Context(), username(r), r.FormValue("new_password")); err != nil {
		fail(w, err, "Failed to change password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Password updated successfully"})
}

type userView struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	Role      string  `json:"role"`
	CreatedAt *string `json:"created_at"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.ListUsers(r.Context())
	if err != nil {
		fail(w, err, "Failed to list users")
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{ID: u.ID, Username: u.Username, Role: u.Role}
		if !u.CreatedAt.IsZero() {
			v.CreatedAt = isoTime(&u.CreatedAt)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Failed to create user")
		return
	}
	role := r.FormValue("role")
	if role == "" {
		role = core.RoleUser
	}
	u, err := h.Auth.CreateUser(r.Context(), r.FormValue("username"), r.FormValue("password"), role)
	if err != nil {
		fail(w, err, "Failed to create user")
		return
	}
	logger.Info.Printf("User %s created by %s", u.Username, username(r))
	writeJSON(w, http.StatusOK, map[string]any{"message": "User created successfully", "user_id": u.ID})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = parseForm(r)
	}
	if err != nil {
		fail(w, err, "Failed to update user")
		return
	}
	name := strings.TrimSpace(r.FormValue("username"))
	if name == "" {
		fail(w, core.Invalid("Username is required"), "Failed to update user")
		return
	}
	if _, err := h.Auth.UpdateUser(r.Context(), id, name, r.FormValue("password"), r.FormValue("role")); err != nil {
		fail(w, err, "Failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User updated successfully"})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, err, "Failed to delete user")
		return
	}
	u, err := h.Auth.DeleteUser(r.Context(), id)
	if err != nil {
		fail(w, err, "Failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("User %s deleted successfully", u.Username)})
}
