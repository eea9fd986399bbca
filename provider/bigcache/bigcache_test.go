package bigcache

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestBigcacheProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	for _, k := range []string{"single:books:bookSearch#a", "single:books:bookSearch#b", "single:books:book#1"} {
		if ok, err := p.Set(ctx, k, []byte(k), 1, 0); !ok || err != nil {
			t.Fatalf("Set %s: ok=%v err=%v", k, ok, err)
		}
	}
	b, ok, err := p.Get(ctx, "single:books:book#1")
	if err != nil || !ok || string(b) != "single:books:book#1" {
		t.Fatalf("Get: %q ok=%v err=%v", b, ok, err)
	}

	keys, err := p.Keys(ctx, "single:books:bookSearch")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "single:books:bookSearch#a" || keys[1] != "single:books:bookSearch#b" {
		t.Fatalf("Keys: %v", keys)
	}

	if err := p.Del(ctx, "single:books:book#1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "single:books:book#1"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "single:books:book#1"); ok {
		t.Fatalf("expected miss after Del")
	}
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatalf("expected error for zero LifeWindow")
	}
}
