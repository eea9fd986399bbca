package memory

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := New()

	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); !ok || err != nil {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get: %q ok=%v err=%v", b, ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	p := New()
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	_, _ = p.Set(ctx, "k", []byte("v"), 1, time.Minute)
	now = now.Add(59 * time.Second)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
	if p.Len() != 0 {
		t.Fatalf("expired entry should be dropped on read")
	}
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	p := New()
	for _, k := range []string{"single:books:bookSearch#b", "single:books:bookSearch#a", "single:books:book#1", "bulk:books:x"} {
		_, _ = p.Set(ctx, k, []byte("v"), 1, 0)
	}
	got, err := p.Keys(ctx, "single:books:bookSearch")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"single:books:bookSearch#a", "single:books:bookSearch#b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys: got %v want %v", got, want)
	}
}
