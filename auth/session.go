package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/async"
	"github.com/unkn0wn-root/querycache/client"
)

var ErrNotAuthenticated = errors.New("auth: not signed in")

type SessionConfig struct {
	Provider  Provider         // required
	Requester client.Requester // unauthenticated transport; required

	// Registry holds the caches that must be emptied on logout.
	Registry *querycache.Registry
	Logger   querycache.Logger
}

// Session is the signed-in state of one client. The user is nil when
// nobody is signed in.
type Session struct {
	provider Provider
	req      client.Requester
	registry *querycache.Registry
	log      querycache.Logger
	op       *async.Operation[*User]
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Provider == nil || cfg.Requester == nil {
		return nil, fmt.Errorf("auth: provider and requester are required")
	}
	s := &Session{
		provider: cfg.Provider,
		req:      cfg.Requester,
		registry: cfg.Registry,
		log:      cfg.Logger,
		op:       async.New[*User](),
	}
	if s.log == nil {
		s.log = querycache.NopLogger{}
	}
	return s, nil
}

// Bootstrap loads the user behind the stored token, if any. The session is
// pending until the returned promise settles.
func (s *Session) Bootstrap(ctx context.Context) *async.Promise[*User] {
	p, _ := s.op.Run(async.Go(ctx, s.currentUser))
	return p
}

func (s *Session) currentUser(ctx context.Context) (*User, error) {
	token, err := s.provider.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return nil, nil
	}
	resp, err := client.Call[userResponse](ctx, s.req, "me", client.WithToken(token))
	if err != nil {
		return nil, err
	}
	u := resp.User
	if u.Token == "" {
		u.Token = token
	}
	return &u, nil
}

func (s *Session) Login(ctx context.Context, c Credentials) (*User, error) {
	u, err := s.provider.Login(ctx, c)
	if err != nil {
		return nil, err
	}
	s.op.SetData(&u)
	s.log.Info("signed in", querycache.Fields{"user": u.Username})
	return &u, nil
}

func (s *Session) Register(ctx context.Context, c Credentials) (*User, error) {
	u, err := s.provider.Register(ctx, c)
	if err != nil {
		return nil, err
	}
	s.op.SetData(&u)
	s.log.Info("registered", querycache.Fields{"user": u.Username})
	return &u, nil
}

// Logout discards the stored token, empties every registered cache and
// clears the user. Both steps are attempted; their errors are joined.
func (s *Session) Logout(ctx context.Context) error {
	var errs []error
	if err := s.provider.Logout(ctx); err != nil {
		errs = append(errs, fmt.Errorf("discard token: %w", err))
	}
	if s.registry != nil {
		if err := s.registry.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear caches: %w", err))
		}
	}
	s.op.SetData(nil)
	s.log.Info("signed out", nil)
	return errors.Join(errs...)
}

// HandleUnauthorized is meant for client.OnUnauthorized: a 401 anywhere
// signs the user out.
func (s *Session) HandleUnauthorized(ctx context.Context) {
	if err := s.Logout(ctx); err != nil {
		s.log.Warn("logout after 401 failed", querycache.Fields{"err": err})
	}
}

func (s *Session) State() async.State[*User] { return s.op.State() }

func (s *Session) Subscribe(fn func(async.State[*User])) (cancel func()) {
	return s.op.Subscribe(fn)
}

// User returns the signed-in user.
func (s *Session) User() (*User, bool) {
	st := s.op.State()
	if !st.IsSuccess() || st.Data == nil {
		return nil, false
	}
	return st.Data, true
}

// Client returns a transport that sends the signed-in user's token.
func (s *Session) Client() (client.Requester, error) {
	u, ok := s.User()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return client.Bind(s.req, u.Token), nil
}

// Close detaches the session from any request still in flight.
func (s *Session) Close() { s.op.Close() }
