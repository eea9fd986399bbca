package books

import (
	"context"
	"net/http"
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
	svc      *Service
	books    *querycache.Cache[Book]
	searches *querycache.Cache[[]Book]
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	api := fakeapi.New()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	user := api.AddUser("reader", "pw")

	c, err := client.New(srv.URL)
	require.NoError(t, err)

	prov := memory.New()
	bc, err := querycache.New(querycache.Options[Book]{Namespace: "book", Provider: prov, Codec: codec.JSON[Book]{}})
	require.NoError(t, err)
	sc, err := querycache.New(querycache.Options[[]Book]{Namespace: "bookSearch", Provider: prov, Codec: codec.JSON[[]Book]{}})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bc.Close(context.Background())
		_ = sc.Close(context.Background())
	})

	svc, err := NewService(Config{
		Books:     bc,
		Searches:  sc,
		Requester: client.Bind(c, user.Token),
		Retry:     client.RetryPolicy{MaxRetries: 2},
	})
	require.NoError(t, err)
	return fixture{api: api, svc: svc, books: bc, searches: sc}
}

func TestSearchSeedsBooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.svc.Search(ctx, "le guin")
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, b := range got {
		cached, ok, err := f.books.Get(ctx, Key(b.ID))
		require.NoError(t, err)
		require.True(t, ok, "book %s not seeded", b.ID)
		assert.Equal(t, b, cached)
	}

	// a single read after search never reaches the API
	_, err = f.svc.Book(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.api.Hits("GET /books/{bookID}"))
}

func TestSearchIsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Search(ctx, "dune")
	require.NoError(t, err)
	_, err = f.svc.Search(ctx, "dune")
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.Hits("GET /books"))
}

func TestBookRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Fail("GET /books/{bookID}", fakeapi.Failure{Status: http.StatusBadGateway, Message: "try again", Times: 2})

	b, err := f.svc.Book(ctx, "B005")
	require.NoError(t, err)
	assert.Equal(t, "Neuromancer", b.Title)
	assert.Equal(t, 3, f.api.Hits("GET /books/{bookID}"))
}

func TestBookNotFoundIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Book(ctx, "nope")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, 1, f.api.Hits("GET /books/{bookID}"))

	_, ok, _ := f.books.Peek(ctx, Key("nope"))
	assert.False(t, ok, "errors must not be cached")
}

func TestBooksBulk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := []string{"B003", "B001", "B006"}

	first, err := f.svc.Books(ctx, ids)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, id := range ids {
		assert.Equal(t, id, first[i].ID)
	}
	assert.Equal(t, 3, f.api.Hits("GET /books/{bookID}"))

	second, err := f.svc.Books(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, f.api.Hits("GET /books/{bookID}"), "second read should come from the cache")

	// invalidating one member refetches only that one
	require.NoError(t, f.books.Invalidate(ctx, Key("B001")))
	_, err = f.svc.Books(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 4, f.api.Hits("GET /books/{bookID}"))
}

func TestRefetchSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Search(ctx, "dune")
	require.NoError(t, err)
	require.NoError(t, f.svc.RefetchSearch(ctx))

	_, ok, _ := f.searches.Peek(ctx, SearchKey("dune"))
	assert.False(t, ok, "old searches should be removed")
	all, ok, err := f.searches.Get(ctx, SearchKey(""))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, all, len(fakeapi.DefaultBooks()))
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(Config{})
	assert.ErrorIs(t, err, ErrNoRequester)
}
