package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querycache/auth"
	"github.com/unkn0wn-root/querycache/config"
	"github.com/unkn0wn-root/querycache/internal/fakeapi"
	"github.com/unkn0wn-root/querycache/listitems"
)

func newTestApp(t *testing.T, provider string) (*app, *fakeapi.Server) {
	t.Helper()
	api := fakeapi.New(fakeapi.DefaultBooks()...)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	yaml := fmt.Sprintf(`
api:
  url: %s
cache:
  provider: %s
  bolt:
    path: %s
logging:
  backend: zap
  file: %s
  level: debug
`, srv.URL, provider, filepath.Join(dir, "cache.db"), filepath.Join(dir, "bookshelf.log"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := config.Load(config.Options{Dir: dir, EnvFile: filepath.Join(dir, ".env")})
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a, api
}

func TestSignedInRequiresLogin(t *testing.T) {
	a, _ := newTestApp(t, config.ProviderMemory)
	_, _, err := a.signedIn(context.Background())
	assert.ErrorContains(t, err, "not signed in")
}

func TestReadingListFlow(t *testing.T) {
	ctx := context.Background()
	a, api := newTestApp(t, config.ProviderBolt)

	u, err := a.session.Register(ctx, auth.Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	tok, _ := a.cfg.Token(ctx)
	assert.Equal(t, u.Token, tok, "token persisted to the config file")

	co, err := coordinator(ctx, a)
	require.NoError(t, err)
	_, err = co.Create(ctx, "B003")
	require.NoError(t, err)

	items, err := co.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Finished())

	require.NoError(t, patchItem(ctx, a, "B003", func(li listitems.ListItem) listitems.Patch {
		return listitems.Finish(li.ID, 1_700_000_000_000)
	}))
	server := api.ListItems(u.ID)
	require.Len(t, server, 1)
	require.NotNil(t, server[0].FinishDate)

	items, err = co.List(ctx)
	require.NoError(t, err)
	assert.True(t, items[0].Finished(), "list refetched after the mutation settled")

	require.NoError(t, a.session.Logout(ctx))
	_, ok, err := a.itemCache.Peek(ctx, listitems.CollectionKey)
	require.NoError(t, err)
	assert.False(t, ok, "logout empties the caches")
	tok, _ = a.cfg.Token(ctx)
	assert.Empty(t, tok)
}

func TestPatchUnknownBook(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, config.ProviderMemory)
	_, err := a.session.Register(ctx, auth.Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)

	err = patchItem(ctx, a, "B001", func(li listitems.ListItem) listitems.Patch {
		return listitems.Unfinish(li.ID)
	})
	assert.ErrorContains(t, err, "not on your list")
}

func TestFormatting(t *testing.T) {
	ms := int64(0)
	assert.Equal(t, "-", date(nil))
	assert.Equal(t, "-", date(&ms))
	assert.Equal(t, "-", stars(0))
	assert.Equal(t, "★★★☆☆", stars(3))

	name, pw, ok := cutUser("ann:secret")
	assert.True(t, ok)
	assert.Equal(t, "ann", name)
	assert.Equal(t, "secret", pw)
	_, _, ok = cutUser("ann:")
	assert.False(t, ok)
}
