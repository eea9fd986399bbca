package promhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(WithRegistry(reg), WithNamespace("bookshelf"))

	h.SelfHealSingle("single:list-items:list-items", "corrupt")
	h.Invalidated("list-items", 3)
	h.RolledBack("single:list-items:list-items")
	h.MutationSettled("list-items.update", 10*time.Millisecond, errors.New("boom"))
	h.MutationSettled("list-items.update", 5*time.Millisecond, nil)

	if got := testutil.ToFloat64(h.selfHeals.WithLabelValues("corrupt")); got != 1 {
		t.Fatalf("self heals %v", got)
	}
	if got := testutil.ToFloat64(h.invalidated.WithLabelValues("list-items")); got != 3 {
		t.Fatalf("invalidated %v", got)
	}
	if got := testutil.ToFloat64(h.rollbacks); got != 1 {
		t.Fatalf("rollbacks %v", got)
	}
	if got := testutil.ToFloat64(h.mutations.WithLabelValues("list-items.update", "error")); got != 1 {
		t.Fatalf("failed mutations %v", got)
	}
	if n := testutil.CollectAndCount(h.mutationDuration); n != 1 {
		t.Fatalf("duration series %d", n)
	}
}
