package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/auth"
	"github.com/unkn0wn-root/querycache/books"
	"github.com/unkn0wn-root/querycache/client"
	"github.com/unkn0wn-root/querycache/config"
	asynchook "github.com/unkn0wn-root/querycache/hooks/async"
	"github.com/unkn0wn-root/querycache/internal/logging"
	"github.com/unkn0wn-root/querycache/listitems"
	"github.com/unkn0wn-root/querycache/mutation"
	"github.com/unkn0wn-root/querycache/promhooks"
	"github.com/unkn0wn-root/querycache/sloghooks"
)

// app is everything a command needs, built once per invocation from the
// loaded configuration.
type app struct {
	cfg     *config.Loaded
	logs    *logging.Logging
	log     querycache.Logger
	backend *config.Backend
	hooks   *asynchook.Hooks
	metrics *promhooks.Hooks
	msrv    *http.Server

	registry *querycache.Registry
	client   *client.Client
	session  *auth.Session

	bookCache   *querycache.Cache[books.Book]
	searchCache *querycache.Cache[[]books.Book]
	itemCache   *querycache.Cache[[]listitems.ListItem]

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Loaded) (_ *app, err error) {
	a := &app{cfg: cfg, registry: querycache.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	a.logs, err = logging.Setup(logging.Config{
		Backend: cfg.Logging.Backend,
		File:    cfg.Logging.File,
		Level:   cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	a.log = a.logs.Logger

	hooks := querycache.MultiHooks{sloghooks.New(a.logs.Slog, sloghooks.Options{
		SelfHealEvery:    10,
		BulkRejectEvery:  10,
		InvalidatedEvery: 10,
	})}
	if cfg.Metrics.Enabled {
		a.metrics = promhooks.New(promhooks.WithNamespace("bookshelf"))
		hooks = append(hooks, a.metrics)
		a.serveMetrics(cfg.Metrics.Addr)
	}
	a.hooks = asynchook.New(hooks, 1, 1000)

	a.backend, err = config.OpenBackend(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	if a.bookCache, err = newCache[books.Book](ctx, a, "books"); err != nil {
		return nil, err
	}
	if a.searchCache, err = newCache[[]books.Book](ctx, a, "book-searches"); err != nil {
		return nil, err
	}
	if a.itemCache, err = newCache[[]listitems.ListItem](ctx, a, "list-items"); err != nil {
		return nil, err
	}

	a.client, err = client.New(cfg.API.URL,
		client.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		client.WithLogger(a.log),
		client.OnUnauthorized(func(ctx context.Context) {
			if a.session != nil {
				a.session.HandleUnauthorized(ctx)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	a.session, err = auth.NewSession(auth.SessionConfig{
		Provider:  &auth.HTTPProvider{Requester: a.client, Store: cfg},
		Requester: a.client,
		Registry:  a.registry,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newCache[V any](ctx context.Context, a *app, ns string) (*querycache.Cache[V], error) {
	opts, err := config.CacheOptions[V](ctx, a.backend, ns)
	if err != nil {
		return nil, err
	}
	opts.Logger = a.log
	opts.Hooks = a.hooks
	opts.Registry = a.registry
	c, err := querycache.New(opts)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", ns, err)
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.msrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics endpoint stopped", querycache.Fields{"addr": addr, "err": err})
		}
	}()
}

func (a *app) retry() client.RetryPolicy {
	p := client.DefaultRetryPolicy
	if a.cfg.API.Retries > 0 {
		p.MaxRetries = a.cfg.API.Retries
	}
	return p
}

func (a *app) observer() mutation.Observer {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

// signedIn restores the session from the stored token.
func (a *app) signedIn(ctx context.Context) (*auth.User, client.Requester, error) {
	u, err := a.session.Bootstrap(ctx).Await(ctx)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, fmt.Errorf("not signed in; run `bookshelf login` first")
	}
	req, err := a.session.Client()
	if err != nil {
		return nil, nil, err
	}
	return u, req, nil
}

func (a *app) books(req client.Requester) (*books.Service, error) {
	return books.NewService(books.Config{
		Books:     a.bookCache,
		Searches:  a.searchCache,
		Requester: req,
		Retry:     a.retry(),
		Logger:    a.log,
	})
}

func (a *app) listItems(req client.Requester) (*listitems.Coordinator, error) {
	bs, err := a.books(req)
	if err != nil {
		return nil, err
	}
	return listitems.NewCoordinator(listitems.Config{
		Items:     a.itemCache,
		Requester: req,
		Books:     bs,
		Retry:     a.retry(),
		Logger:    a.log,
		Observer:  a.observer(),
	})
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.session != nil {
		a.session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close(ctx))
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	if a.msrv != nil {
		errs = append(errs, a.msrv.Shutdown(ctx))
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
