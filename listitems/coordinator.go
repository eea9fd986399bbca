package listitems

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/books"
	"github.com/unkn0wn-root/querycache/client"
	"github.com/unkn0wn-root/querycache/mutation"
)

var ErrNoRequester = errors.New("listitems: requester is required")

type Config struct {
	Items     *querycache.Cache[[]ListItem] // required
	Requester client.Requester              // token-bound; required

	// Books, when set, is seeded with every book embedded in a fetched list.
	Books *books.Service

	Retry    client.RetryPolicy // reads only; zero => client.DefaultRetryPolicy
	Logger   querycache.Logger
	Observer mutation.Observer
}

// Coordinator owns the list-items collection of one signed-in user.
type Coordinator struct {
	items    *querycache.Cache[[]ListItem]
	req      client.Requester
	books    *books.Service
	retry    client.RetryPolicy
	log      querycache.Logger
	observer mutation.Observer
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Requester == nil {
		return nil, ErrNoRequester
	}
	if cfg.Items == nil {
		return nil, fmt.Errorf("listitems: items cache is required")
	}
	c := &Coordinator{
		items:    cfg.Items,
		req:      cfg.Requester,
		books:    cfg.Books,
		retry:    cfg.Retry,
		log:      cfg.Logger,
		observer: cfg.Observer,
	}
	if c.retry == (client.RetryPolicy{}) {
		c.retry = client.DefaultRetryPolicy
	}
	if c.log == nil {
		c.log = querycache.NopLogger{}
	}
	return c, nil
}

type listResponse struct {
	ListItems []ListItem `json:"listItems"`
}

type itemResponse struct {
	ListItem ListItem `json:"listItem"`
}

// List returns the user's list items, from the cache when fresh.
func (c *Coordinator) List(ctx context.Context) ([]ListItem, error) {
	return c.items.Fetch(ctx, CollectionKey, func(ctx context.Context) ([]ListItem, error) {
		resp, err := client.Retry(ctx, c.retry, func(ctx context.Context) (listResponse, error) {
			return client.Call[listResponse](ctx, c.req, "list-items")
		})
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		c.seedBooks(ctx, resp.ListItems)
		return resp.ListItems, nil
	})
}

// ByBook returns the list item for bookID, if the book is on the list.
func (c *Coordinator) ByBook(ctx context.Context, bookID string) (ListItem, bool, error) {
	items, err := c.List(ctx)
	if err != nil {
		return ListItem{}, false, err
	}
	for _, li := range items {
		if li.BookID == bookID {
			return li, true, nil
		}
	}
	return ListItem{}, false, nil
}

// Updater returns an update mutation with its own state. The cached entry
// with the patch's id is patched before the PUT is sent.
func (c *Coordinator) Updater() *mutation.Mutation[Patch, ListItem] {
	return build(c, mutation.Options[Patch, ListItem]{
		Name: "list-items.update",
		Mutate: func(ctx context.Context, p Patch) (ListItem, error) {
			resp, err := client.Call[itemResponse](ctx, c.req, "list-items/"+url.PathEscape(p.ID),
				client.WithMethod("PUT"), client.WithBody(p))
			return resp.ListItem, err
		},
		OnMutate: mutation.Optimistic(c.items, CollectionKey, func(p Patch, prev []ListItem, ok bool) ([]ListItem, bool) {
			if !ok {
				return nil, false
			}
			next := make([]ListItem, len(prev))
			for i, li := range prev {
				if li.ID == p.ID {
					li = p.Apply(li)
				}
				next[i] = li
			}
			return next, true
		}),
		OnSettled: mutation.InvalidateOnSettle[Patch, ListItem](c.items, CollectionKey),
	})
}

// Remover returns a remove mutation; the entry is filtered out of the cached
// collection before the DELETE is sent.
func (c *Coordinator) Remover() *mutation.Mutation[string, struct{}] {
	return build(c, mutation.Options[string, struct{}]{
		Name: "list-items.remove",
		Mutate: func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, c.req.Do(ctx, "list-items/"+url.PathEscape(id), nil, client.WithMethod("DELETE"))
		},
		OnMutate: mutation.Optimistic(c.items, CollectionKey, func(id string, prev []ListItem, ok bool) ([]ListItem, bool) {
			if !ok {
				return nil, false
			}
			next := make([]ListItem, 0, len(prev))
			for _, li := range prev {
				if li.ID != id {
					next = append(next, li)
				}
			}
			return next, true
		}),
		OnSettled: mutation.InvalidateOnSettle[string, struct{}](c.items, CollectionKey),
	})
}

// Creator returns a create mutation. Nothing is inserted optimistically: the
// server assigns the new item's fields.
func (c *Coordinator) Creator() *mutation.Mutation[string, ListItem] {
	return build(c, mutation.Options[string, ListItem]{
		Name: "list-items.create",
		Mutate: func(ctx context.Context, bookID string) (ListItem, error) {
			resp, err := client.Call[itemResponse](ctx, c.req, "list-items",
				client.WithBody(map[string]string{"bookId": bookID}))
			return resp.ListItem, err
		},
		OnSettled: mutation.InvalidateOnSettle[string, ListItem](c.items, CollectionKey),
	})
}

func (c *Coordinator) Update(ctx context.Context, p Patch) (ListItem, error) {
	return oneShot(ctx, c.Updater(), p)
}

func (c *Coordinator) Remove(ctx context.Context, id string) error {
	_, err := oneShot(ctx, c.Remover(), id)
	return err
}

func (c *Coordinator) Create(ctx context.Context, bookID string) (ListItem, error) {
	return oneShot(ctx, c.Creator(), bookID)
}

func oneShot[In, Out any](ctx context.Context, m *mutation.Mutation[In, Out], in In) (Out, error) {
	defer m.Close()
	return m.MutateAndWait(ctx, in)
}

func build[In, Out any](c *Coordinator, opts mutation.Options[In, Out]) *mutation.Mutation[In, Out] {
	opts.Logger = c.log
	opts.Observer = c.observer
	m, err := mutation.New(opts)
	if err != nil {
		// only a nil Mutate fails, and every caller sets one
		panic(err)
	}
	return m
}

func (c *Coordinator) seedBooks(ctx context.Context, items []ListItem) {
	if c.books == nil {
		return
	}
	bs := make([]books.Book, 0, len(items))
	for _, li := range items {
		if li.Book != nil {
			bs = append(bs, *li.Book)
		}
	}
	c.books.Seed(ctx, bs...)
}
