package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cbt/internal/auth"
	"github.com/mind-engage/mindengage-cbt/internal/rbac"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/store"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
	Phone    string `json:"phone" validate:"required,min=7,max=20"`
}

type authResponse struct {
	Message string           `json:"message"`
	Token   string           `json:"token"`
	User    session.Identity `json:"user"`
}

func identityOf(u store.User) session.Identity {
	return session.Identity{ID: u.ID, Email: u.Email, FullName: u.FullName, IsAdmin: u.IsAdmin}
}

func roleOf(u store.User) string {
	if u.IsAdmin {
		return rbac.RoleAdmin
	}
	return rbac.RoleStudent
}

func (d *Deps) issue(w nethttp.ResponseWriter, r *nethttp.Request, status int, msg string, u store.User) {
	tok, err := d.Auth.IssueJWT(u.ID, u.Email, roleOf(u))
	if err != nil {
		d.writeErr(w, r, err)
		return
	}
	writeJSON(w, status, authResponse{Message: msg, Token: tok, User: identityOf(u)})
}

// POST /auth/login {email, password}
// The configured admin user name logs in as the bootstrap administrator.
func LoginHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req loginRequest
		if err := d.decode(r, &req); err != nil {
			d.writeErr(w, r, err)
			return
		}
		if req.Email == d.Config.AdminUser && d.adminPassword(req.Password) {
			u, err := d.bootstrapAdmin(r.Context())
			if err != nil {
				d.writeErr(w, r, err)
				return
			}
			d.issue(w, r, nethttp.StatusOK, "Admin login successful", u)
			return
		}
		u, err := d.Store.UserByEmail(r.Context(), strings.TrimSpace(req.Email))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			d.writeErr(w, r, err)
			return
		}
		if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
			writeDetail(w, nethttp.StatusUnauthorized, "Invalid email or password")
			return
		}
		d.issue(w, r, nethttp.StatusOK, "Login successful", u)
	}
}

func (d *Deps) adminPassword(pw string) bool {
	if d.Config.AdminPassHash != "" {
		return auth.CheckPassword(d.Config.AdminPassHash, pw)
	}
	return d.Config.AdminPassword != "" && pw == d.Config.AdminPassword
}

// bootstrapAdmin returns the admin account, creating it on first login.
func (d *Deps) bootstrapAdmin(ctx context.Context) (store.User, error) {
	u, err := d.Store.UserByEmail(ctx, d.Config.AdminEmail)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, err
	}
	u = store.User{
		ID:        uuid.NewString(),
		Email:     d.Config.AdminEmail,
		FullName:  "Administrator",
		IsAdmin:   true,
		CreatedAt: d.now(),
	}
	// Password login for the admin goes through the configured secret, so
	// the stored hash is only a placeholder that never matches.
	if u.PasswordHash, err = auth.HashPassword(uuid.NewString()); err != nil {
		return store.User{}, err
	}
	if err := d.Store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d.Store.UserByEmail(ctx, d.Config.AdminEmail)
		}
		return store.User{}, err
	}
	d.Logger.Printf("created bootstrap admin %s", u.Email)
	return u, nil
}

// POST /auth/register {email, password, full_name, phone}
func RegisterHandler(d *Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req registerRequest
		if err := d.decode(r, &req); err != nil {
			d.writeErr(w, r, err)
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			d.writeErr(w, r, err)
			return
		}
		u := store.User{
			ID:           uuid.NewString(),
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			PasswordHash: hash,
			FullName:     strings.TrimSpace(req.FullName),
			Phone:        strings.TrimSpace(req.Phone),
			CreatedAt:    d.now(),
		}
		if err := d.Store.CreateUser(r.Context(), u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeDetail(w, nethttp.StatusBadRequest, "Email already registered")
				return
			}
			d.writeErr(w, r, err)
			return
		}
		d.issue(w, r, nethttp.StatusCreated, "Registration successful", u)
	}
}
