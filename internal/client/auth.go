package client

import (
	"context"
	"net/http"

	"github.com/mind-engage/mindengage-cbt/internal/session"
)

type LoginRequest struct {
	// Email is an address, or the bootstrap admin user name.
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
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

// Login authenticates and, on success, stores the identity in the session.
// Server failures are returned with the server's detail message.
func (c *Client) Login(ctx context.Context, req LoginRequest) (session.Identity, error) {
	if err := c.check(req); err != nil {
		return session.Identity{}, err
	}
	return c.authenticate(ctx, "/auth/login", req)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (session.Identity, error) {
	if err := c.check(req); err != nil {
		return session.Identity{}, err
	}
	return c.authenticate(ctx, "/auth/register", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (session.Identity, error) {
	var out authResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: path, body: body, out: &out, authCall: true}); err != nil {
		return session.Identity{}, err
	}
	if err := c.session.Login(out.User, out.Token); err != nil {
		return session.Identity{}, err
	}
	return out.User, nil
}

// Logout drops the local session; the server keeps no session state.
func (c *Client) Logout() { c.session.Logout() }
