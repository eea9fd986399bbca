package mutation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/provider/memory"
)

type item struct {
	ID     int  `json:"id"`
	Finish *int `json:"finish"`
}

var itemsKey = querycache.NewKey("list-items")

func newItemsCache(t *testing.T) *querycache.Cache[[]item] {
	t.Helper()
	cc, err := querycache.New(querycache.Options[[]item]{
		Namespace: "list-items",
		Provider:  memory.New(),
		Codec:     codec.JSON[[]item]{},
	})
	if err != nil {
		t.Fatalf("New cache: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return cc
}

func cached(t *testing.T, cc *querycache.Cache[[]item]) querycache.Entry[[]item] {
	t.Helper()
	e, ok, err := cc.Peek(context.Background(), itemsKey)
	if err != nil || !ok {
		t.Fatalf("Peek = %v, %v", ok, err)
	}
	return e
}

func intp(v int) *int { return &v }

// gate blocks the fake remote write until release is called.
type gate struct {
	started chan struct{}
	release chan error
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan error, 1)}
}

func (g *gate) mutate(ctx context.Context, in item) (item, error) {
	close(g.started)
	if err := <-g.release; err != nil {
		return item{}, err
	}
	return in, nil
}

func updateOptions(cc *querycache.Cache[[]item], g *gate) Options[item, item] {
	return Options[item, item]{
		Name:   "update-item",
		Mutate: g.mutate,
		OnMutate: Optimistic(cc, itemsKey, func(in item, prev []item, ok bool) ([]item, bool) {
			if !ok {
				return nil, false
			}
			next := make([]item, len(prev))
			for i, it := range prev {
				if it.ID == in.ID {
					it.Finish = in.Finish
				}
				next[i] = it
			}
			return next, true
		}),
		OnSettled: InvalidateOnSettle[item, item](cc, itemsKey),
	}
}

func TestUpdateOptimisticThenRollback(t *testing.T) {
	ctx := context.Background()
	cc := newItemsCache(t)
	if err := cc.Set(ctx, itemsKey, []item{{ID: 1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	g := newGate()
	m, err := New(updateOptions(cc, g))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := m.Mutate(ctx, item{ID: 1, Finish: intp(5)})
	<-g.started

	got, ok, err := cc.Get(ctx, itemsKey)
	if err != nil || !ok {
		t.Fatalf("Get during mutation = %v, %v", ok, err)
	}
	if want := []item{{ID: 1, Finish: intp(5)}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("optimistic value = %+v, want %+v", got, want)
	}
	if st := m.State(); !st.IsLoading() {
		t.Fatalf("state during mutation = %v", st.Status)
	}

	boom := errors.New("server said no")
	g.release <- boom
	if _, err := p.Await(ctx); !errors.Is(err, boom) {
		t.Fatalf("Await = %v, want %v", err, boom)
	}

	e := cached(t, cc)
	if want := []item{{ID: 1}}; !reflect.DeepEqual(e.Value, want) {
		t.Fatalf("after rollback = %+v, want %+v", e.Value, want)
	}
	if !e.Stale {
		t.Fatalf("collection should be invalidated after settle")
	}
	if st := m.State(); !st.IsError() || !errors.Is(st.Err, boom) {
		t.Fatalf("state after failure = %+v", st)
	}
}

func TestRemoveOptimisticThenRollback(t *testing.T) {
	ctx := context.Background()
	cc := newItemsCache(t)
	start := []item{{ID: 1}, {ID: 2}}
	if err := cc.Set(ctx, itemsKey, start); err != nil {
		t.Fatalf("Set: %v", err)
	}

	g := newGate()
	m, err := New(Options[int, struct{}]{
		Mutate: func(ctx context.Context, id int) (struct{}, error) {
			_, err := g.mutate(ctx, item{ID: id})
			return struct{}{}, err
		},
		OnMutate: Optimistic(cc, itemsKey, func(id int, prev []item, ok bool) ([]item, bool) {
			if !ok {
				return nil, false
			}
			var next []item
			for _, it := range prev {
				if it.ID != id {
					next = append(next, it)
				}
			}
			return next, true
		}),
		OnSettled: InvalidateOnSettle[int, struct{}](cc, itemsKey),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := m.Mutate(ctx, 1)
	<-g.started
	got, _, _ := cc.Get(ctx, itemsKey)
	if want := []item{{ID: 2}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("optimistic value = %+v, want %+v", got, want)
	}

	g.release <- errors.New("nope")
	if _, err := p.Await(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	e := cached(t, cc)
	if !reflect.DeepEqual(e.Value, start) || !e.Stale {
		t.Fatalf("after rollback = %+v (stale=%v), want %+v stale", e.Value, e.Stale, start)
	}
}

func TestSuccessKeepsPatchAndInvalidates(t *testing.T) {
	ctx := context.Background()
	cc := newItemsCache(t)
	_ = cc.Set(ctx, itemsKey, []item{{ID: 1}})

	g := newGate()
	opts := updateOptions(cc, g)
	var success item
	opts.OnSuccess = func(_ context.Context, out item, _ item) { success = out }
	m, _ := New(opts)

	p := m.Mutate(ctx, item{ID: 1, Finish: intp(9)})
	g.release <- nil
	out, err := p.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if success.ID != 1 || out.ID != 1 {
		t.Fatalf("OnSuccess saw %+v, promise %+v", success, out)
	}

	e := cached(t, cc)
	if want := []item{{ID: 1, Finish: intp(9)}}; !reflect.DeepEqual(e.Value, want) {
		t.Fatalf("value = %+v, want %+v", e.Value, want)
	}
	if !e.Stale {
		t.Fatalf("collection should be invalidated after success too")
	}
	if _, ok, _ := cc.Get(ctx, itemsKey); ok {
		t.Fatalf("Get should miss once invalidated")
	}
}

func TestOptimisticPatchSurvivesEarlierFetch(t *testing.T) {
	ctx := context.Background()
	cc := newItemsCache(t)
	_ = cc.Set(ctx, itemsKey, []item{{ID: 1}})
	_ = cc.Invalidate(ctx, itemsKey)

	fetchStarted := make(chan struct{})
	fetchRelease := make(chan struct{})
	fetchDone := make(chan error, 1)
	go func() {
		_, err := cc.Fetch(ctx, itemsKey, func(context.Context) ([]item, error) {
			close(fetchStarted)
			<-fetchRelease
			return []item{{ID: 1}}, nil
		})
		fetchDone <- err
	}()
	<-fetchStarted

	g := newGate()
	m, _ := New(updateOptions(cc, g))
	p := m.Mutate(ctx, item{ID: 1, Finish: intp(5)})
	<-g.started

	close(fetchRelease)
	if err := <-fetchDone; err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, ok, err := cc.Get(ctx, itemsKey)
	if err != nil || !ok {
		t.Fatalf("Get while mutation pending = %v, %v", ok, err)
	}
	if want := []item{{ID: 1, Finish: intp(5)}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pre-mutation fetch overwrote the patch: %+v, want %+v", got, want)
	}

	g.release <- nil
	if _, err := p.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestNoCachedCollectionSkipsPatch(t *testing.T) {
	ctx := context.Background()
	cc := newItemsCache(t)
	g := newGate()
	m, _ := New(updateOptions(cc, g))

	p := m.Mutate(ctx, item{ID: 1, Finish: intp(1)})
	g.release <- errors.New("fail")
	if _, err := p.Await(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	if _, ok, _ := cc.Peek(ctx, itemsKey); ok {
		t.Fatalf("nothing should be cached")
	}
}

func TestOnMutateErrorSkipsWrite(t *testing.T) {
	ctx := context.Background()
	called := false
	boom := errors.New("cache down")
	m, _ := New(Options[int, int]{
		Mutate: func(context.Context, int) (int, error) {
			called = true
			return 0, nil
		},
		OnMutate: func(context.Context, int) (Rollback, error) { return nil, boom },
	})

	if _, err := m.Mutate(ctx, 1).Await(ctx); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if called {
		t.Fatalf("write dispatched after a failed optimistic step")
	}
	if st := m.State(); !st.IsError() {
		t.Fatalf("state = %v", st.Status)
	}
}

func TestPanicRollsBack(t *testing.T) {
	ctx := context.Background()
	rolledBack := false
	m, _ := New(Options[int, int]{
		Mutate: func(context.Context, int) (int, error) { panic("boom") },
		OnMutate: func(context.Context, int) (Rollback, error) {
			return func(context.Context) error { rolledBack = true; return nil }, nil
		},
	})
	if _, err := m.MutateAndWait(ctx, 1); !errors.Is(err, ErrPanic) {
		t.Fatalf("err = %v, want ErrPanic", err)
	}
	if !rolledBack {
		t.Fatalf("rollback did not run")
	}
}

func TestRollbackErrorIsJoined(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("write failed")
	rbErr := errors.New("restore failed")
	m, _ := New(Options[int, int]{
		Mutate: func(context.Context, int) (int, error) { return 0, boom },
		OnMutate: func(context.Context, int) (Rollback, error) {
			return func(context.Context) error { return rbErr }, nil
		},
	})
	_, err := m.MutateAndWait(ctx, 1)
	if !errors.Is(err, boom) || !errors.Is(err, rbErr) {
		t.Fatalf("err = %v, want both causes", err)
	}
}

func TestHookOrder(t *testing.T) {
	ctx := context.Background()
	var (
		mu    sync.Mutex
		order []string
	)
	rec := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	m, _ := New(Options[int, int]{
		Mutate: func(context.Context, int) (int, error) { rec("mutate"); return 0, errors.New("x") },
		OnMutate: func(context.Context, int) (Rollback, error) {
			rec("onMutate")
			return func(context.Context) error { rec("rollback"); return nil }, nil
		},
		OnError:   func(context.Context, error, int) { rec("onError") },
		OnSuccess: func(context.Context, int, int) { rec("onSuccess") },
		OnSettled: func(context.Context, int, error, int) error { rec("onSettled"); return nil },
	})
	_, _ = m.MutateAndWait(ctx, 1)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"onMutate", "mutate", "rollback", "onError", "onSettled"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

type recObserver struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (o *recObserver) MutationSettled(name string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
	o.errs = append(o.errs, err)
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	obs := &recObserver{}
	m, _ := New(Options[int, int]{
		Name:     "create-item",
		Mutate:   func(_ context.Context, n int) (int, error) { return n, nil },
		Observer: obs,
	})
	if _, err := m.MutateAndWait(ctx, 3); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.names) != 1 || obs.names[0] != "create-item" || obs.errs[0] != nil {
		t.Fatalf("observer saw %v %v", obs.names, obs.errs)
	}
}

func TestCloseDetachesState(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	settled := make(chan struct{})
	m, _ := New(Options[int, int]{
		Mutate: func(ctx context.Context, n int) (int, error) {
			_, err := g.mutate(ctx, item{ID: n})
			return n, err
		},
		OnSettled: func(context.Context, int, error, int) error { close(settled); return nil },
	})

	p := m.Mutate(ctx, 1)
	<-g.started
	m.Close()
	g.release <- nil
	if _, err := p.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	<-settled
	if st := m.State(); !st.IsLoading() {
		t.Fatalf("state changed after Close: %+v", st)
	}
}

func TestNewRequiresMutate(t *testing.T) {
	if _, err := New(Options[int, int]{}); !errors.Is(err, ErrNilMutate) {
		t.Fatalf("err = %v", err)
	}
}

func TestSettledChainsSteps(t *testing.T) {
	e1, e2 := errors.New("a"), errors.New("b")
	var ran int
	step := func(err error) func(context.Context, int, error, int) error {
		return func(context.Context, int, error, int) error { ran++; return err }
	}
	err := Settled(step(e1), step(nil), step(e2))(context.Background(), 0, nil, 0)
	if ran != 3 || !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("ran=%d err=%v", ran, err)
	}
}
