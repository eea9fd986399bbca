package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/client"
	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/internal/fakeapi"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

type fixture struct {
	api      *fakeapi.Server
	store    *MemoryTokenStore
	registry *querycache.Registry
	cache    *querycache.Cache[string]
	sess     *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := fakeapi.New()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := &fixture{api: api, store: &MemoryTokenStore{}, registry: querycache.NewRegistry()}

	c, err := client.New(srv.URL, client.OnUnauthorized(func(ctx context.Context) {
		f.sess.HandleUnauthorized(ctx)
	}))
	require.NoError(t, err)

	f.cache, err = querycache.New(querycache.Options[string]{
		Namespace: "misc",
		Provider:  memory.New(),
		Codec:     codec.String{},
		Registry:  f.registry,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.cache.Close(context.Background()) })

	f.sess, err = NewSession(SessionConfig{
		Provider:  &HTTPProvider{Requester: c, Store: f.store},
		Requester: c,
		Registry:  f.registry,
	})
	require.NoError(t, err)
	return f
}

func TestBootstrapWithoutToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.sess.Bootstrap(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.True(t, f.sess.State().IsSuccess())

	_, err = f.sess.Client()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestBootstrapWithStoredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.api.AddUser("ann", "pw")
	require.NoError(t, f.store.SetToken(ctx, user.Token))

	u, err := f.sess.Bootstrap(ctx).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ann", u.Username)
	assert.Equal(t, user.Token, u.Token)

	got, ok := f.sess.User()
	require.True(t, ok)
	assert.Equal(t, u, got)
}

func TestBootstrapWithRevokedToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetToken(ctx, "stale-token"))

	_, err := f.sess.Bootstrap(ctx).Await(ctx)
	require.ErrorIs(t, err, client.ErrReauthenticate)

	tok, _ := f.store.Token(ctx)
	assert.Empty(t, tok, "a 401 must discard the stored token")
}

func TestRegisterLoginLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.sess.Register(ctx, Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, f.sess.Logout(ctx))

	u, err := f.sess.Login(ctx, Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Username)
	tok, _ := f.store.Token(ctx)
	assert.Equal(t, u.Token, tok)

	require.NoError(t, f.cache.Set(ctx, querycache.NewKey("k"), "v"))
	require.NoError(t, f.sess.Logout(ctx))

	_, ok := f.sess.User()
	assert.False(t, ok)
	tok, _ = f.store.Token(ctx)
	assert.Empty(t, tok)
	_, ok, _ = f.cache.Peek(ctx, querycache.NewKey("k"))
	assert.False(t, ok, "logout must clear registered caches")
}

func TestLoginErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.sess.Login(ctx, Credentials{Username: "ann"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = f.sess.Login(ctx, Credentials{Username: "ghost", Password: "pw"})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.True(t, f.sess.State().IsIdle(), "failed login leaves the session alone")
}

func TestUnauthorizedClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.AddUser("ann", "pw")
	_, err := f.sess.Login(ctx, Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, querycache.NewKey("k"), "v"))

	req, err := f.sess.Client()
	require.NoError(t, err)
	f.api.RevokeTokens()

	err = req.Do(ctx, "list-items", nil)
	require.ErrorIs(t, err, client.ErrReauthenticate)

	_, ok := f.sess.User()
	assert.False(t, ok)
	tok, _ := f.store.Token(ctx)
	assert.Empty(t, tok)
	_, ok, _ = f.cache.Peek(ctx, querycache.NewKey("k"))
	assert.False(t, ok)
}
