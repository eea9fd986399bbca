// Package books reads books through the query cache. Every search result
// also seeds the book's own entry, so a book page opened from a search never
// disagrees with the list it came from.
package books

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/client"
)

type Book struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	CoverImageURL string `json:"coverImageUrl,omitempty"`
	PageCount     int    `json:"pageCount,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	Synopsis      string `json:"synopsis,omitempty"`
}

const (
	bookName   = "book"
	searchName = "bookSearch"
)

// Key is the cache key of a single book.
func Key(id string) querycache.Key { return querycache.NewKey(bookName, id) }

// SearchKey is the cache key of the results for query.
func SearchKey(query string) querycache.Key { return querycache.NewKey(searchName, query) }

var ErrNoRequester = errors.New("books: requester is required")

type Config struct {
	Books     *querycache.Cache[Book]   // required
	Searches  *querycache.Cache[[]Book] // required
	Requester client.Requester          // token-bound; required
	Retry     client.RetryPolicy        // zero => client.DefaultRetryPolicy
	Logger    querycache.Logger
}

type Service struct {
	books    *querycache.Cache[Book]
	searches *querycache.Cache[[]Book]
	req      client.Requester
	retry    client.RetryPolicy
	log      querycache.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Requester == nil {
		return nil, ErrNoRequester
	}
	if cfg.Books == nil || cfg.Searches == nil {
		return nil, fmt.Errorf("books: both caches are required")
	}
	s := &Service{
		books:    cfg.Books,
		searches: cfg.Searches,
		req:      cfg.Requester,
		retry:    cfg.Retry,
		log:      cfg.Logger,
	}
	if s.retry == (client.RetryPolicy{}) {
		s.retry = client.DefaultRetryPolicy
	}
	if s.log == nil {
		s.log = querycache.NopLogger{}
	}
	return s, nil
}

type searchResponse struct {
	Books []Book `json:"books"`
}

type bookResponse struct {
	Book Book `json:"book"`
}

// Search returns the books matching query. A fetched result seeds every
// book's own entry.
func (s *Service) Search(ctx context.Context, query string) ([]Book, error) {
	return s.searches.Fetch(ctx, SearchKey(query), func(ctx context.Context) ([]Book, error) {
		endpoint := "books?query=" + url.QueryEscape(query)
		resp, err := client.Retry(ctx, s.retry, func(ctx context.Context) (searchResponse, error) {
			return client.Call[searchResponse](ctx, s.req, endpoint)
		})
		if err != nil {
			return nil, fmt.Errorf("search books %q: %w", query, err)
		}
		s.Seed(ctx, resp.Books...)
		return resp.Books, nil
	})
}

// Book returns one book, from the cache when fresh.
func (s *Service) Book(ctx context.Context, id string) (Book, error) {
	return s.books.Fetch(ctx, Key(id), func(ctx context.Context) (Book, error) {
		return s.fetchBook(ctx, id)
	})
}

// Books returns the books with the given ids in the same order. Cached books
// come from one bulk read; the rest are fetched and seeded back as a bulk.
func (s *Service) Books(ctx context.Context, ids []string) ([]Book, error) {
	keys := make([]querycache.Key, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	hit, missing, err := s.books.GetBulk(ctx, keys)
	if err != nil {
		s.log.Warn("bulk read failed; fetching all", querycache.Fields{"err": err})
		hit, missing = map[querycache.Key]Book{}, keys
	}

	if len(missing) > 0 {
		obs := s.books.SnapshotGens(keys)
		fetched := make(map[querycache.Key]Book, len(keys))
		for k, b := range hit {
			fetched[k] = b
		}
		for i, id := range ids {
			k := keys[i]
			if _, ok := fetched[k]; ok {
				continue
			}
			b, err := s.fetchBook(ctx, id)
			if err != nil {
				return nil, err
			}
			fetched[k] = b
		}
		if err := s.books.SetBulkWithGens(ctx, fetched, obs, 0); err != nil {
			s.log.Warn("seeding books failed", querycache.Fields{"err": err})
		}
		hit = fetched
	}

	out := make([]Book, len(ids))
	for i, k := range keys {
		out[i] = hit[k]
	}
	return out, nil
}

// Seed writes books into their own cache entries, as if each had been read
// with Book.
func (s *Service) Seed(ctx context.Context, books ...Book) {
	if len(books) == 0 {
		return
	}
	items := make(map[querycache.Key]Book, len(books))
	keys := make([]querycache.Key, 0, len(books))
	for _, b := range books {
		if b.ID == "" {
			continue
		}
		k := Key(b.ID)
		items[k] = b
		keys = append(keys, k)
	}
	if err := s.books.SetBulkWithGens(ctx, items, s.books.SnapshotGens(keys), 0); err != nil {
		s.log.Warn("seeding books failed", querycache.Fields{"err": err, "n": len(items)})
	}
}

// RefetchSearch drops every cached search and prefetches the empty query,
// which is what the discover screen shows first.
func (s *Service) RefetchSearch(ctx context.Context) error {
	if err := s.searches.RemovePrefix(ctx, searchName); err != nil {
		return err
	}
	_, err := s.Search(ctx, "")
	return err
}

func (s *Service) fetchBook(ctx context.Context, id string) (Book, error) {
	resp, err := client.Retry(ctx, s.retry, func(ctx context.Context) (bookResponse, error) {
		return client.Call[bookResponse](ctx, s.req, "books/"+url.PathEscape(id))
	})
	if err != nil {
		return Book{}, fmt.Errorf("get book %s: %w", id, err)
	}
	return resp.Book, nil
}
