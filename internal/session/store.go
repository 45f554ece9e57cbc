// Package session holds the authenticated identity and bearer credential of
// one client. A Store is created by the caller and injected into the API
// client; there is no process-wide login state.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/mind-engage/mindengage-cbt/internal/errs"
)

type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// Claims is the subset of the server token the client reads.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var ErrNoSession = errs.New(errs.CodeAuthFailure, "not signed in")

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	identity *Identity
	token    string
}

func New() *Store { return &Store{} }

// Login replaces any active identity with id and its credential.
func (s *Store) Login(id Identity, credential string) error {
	if credential == "" {
		return errs.Validation("credential must not be empty")
	}
	if id.ID == "" {
		return errs.Validation("identity id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	s.token = credential
	return nil
}

func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.token = ""
}

func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Identity returns a copy of the active identity.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Token implements oauth2.TokenSource so the credential is attached by
// oauth2.Transport. It fails once the session is logged out.
func (s *Store) Token() (*oauth2.Token, error) {
	cred := s.Credential()
	if cred == "" {
		return nil, ErrNoSession
	}
	tok := &oauth2.Token{AccessToken: cred, TokenType: "Bearer"}
	if c, err := parseClaims(cred); err == nil && c.ExpiresAt != nil {
		tok.Expiry = c.ExpiresAt.Time
	}
	return tok, nil
}

// Claims decodes the credential without verifying its signature; the server
// remains the only authority on validity.
func (s *Store) Claims() (*Claims, error) {
	cred := s.Credential()
	if cred == "" {
		return nil, ErrNoSession
	}
	return parseClaims(cred)
}

// Expired reports whether the credential carries an expiry in the past.
func (s *Store) Expired(now time.Time) bool {
	c, err := s.Claims()
	if err != nil || c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

func parseClaims(token string) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	return &c, nil
}

type persisted struct {
	Identity *Identity `json:"identity"`
	Token    string    `json:"token"`
}

// Save writes the session to path with owner-only permissions. A logged out
// store removes the file.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	p := persisted{Identity: s.identity, Token: s.token}
	s.mu.RUnlock()
	if p.Token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

// Load restores a session saved with Save. A missing file yields an empty
// store.
func Load(path string) (*Store, error) {
	s := New()
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var p persisted
	if err := json.Unmarshal(buf, &p); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if p.Identity != nil && p.Token != "" {
		if err := s.Login(*p.Identity, p.Token); err != nil {
			return nil, err
		}
	}
	return s, nil
}
