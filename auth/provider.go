// Package auth keeps track of who is signed in. A Session runs the "who am
// I" request through an async.Operation when it starts, and login, register
// and logout set the user directly.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/querycache/client"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenStore persists the session token between runs.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Provider is the identity provider: it trades credentials for a user and
// owns the stored token.
type Provider interface {
	Login(ctx context.Context, c Credentials) (User, error)
	Register(ctx context.Context, c Credentials) (User, error)
	Logout(ctx context.Context) error
	Token(ctx context.Context) (string, error)
}

var ErrMissingCredentials = errors.New("auth: username and password are required")

// HTTPProvider logs in against the bookshelf API's login and register
// endpoints and keeps the returned token in Store.
type HTTPProvider struct {
	Requester client.Requester // unauthenticated
	Store     TokenStore
}

var _ Provider = (*HTTPProvider)(nil)

type userResponse struct {
	User User `json:"user"`
}

func (p *HTTPProvider) Login(ctx context.Context, c Credentials) (User, error) {
	return p.authenticate(ctx, "login", c)
}

func (p *HTTPProvider) Register(ctx context.Context, c Credentials) (User, error) {
	return p.authenticate(ctx, "register", c)
}

func (p *HTTPProvider) authenticate(ctx context.Context, endpoint string, c Credentials) (User, error) {
	if c.Username == "" || c.Password == "" {
		return User{}, ErrMissingCredentials
	}
	resp, err := client.Call[userResponse](ctx, p.Requester, endpoint, client.WithBody(c))
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", endpoint, err)
	}
	if err := p.Store.SetToken(ctx, resp.User.Token); err != nil {
		return User{}, fmt.Errorf("store token: %w", err)
	}
	return resp.User, nil
}

func (p *HTTPProvider) Logout(ctx context.Context) error { return p.Store.ClearToken(ctx) }

func (p *HTTPProvider) Token(ctx context.Context) (string, error) { return p.Store.Token(ctx) }

// MemoryTokenStore keeps the token for the life of the process.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryTokenStore) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryTokenStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) ClearToken(context.Context) error {
	return s.SetToken(context.Background(), "")
}
