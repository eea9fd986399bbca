package sloghooks

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSamplingAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{SelfHealEvery: 3})

	for i := 0; i < 6; i++ {
		h.SelfHealSingle("single:list-items:list-items", "corrupt")
	}
	if n := strings.Count(buf.String(), "querycache.self_heal_single"); n != 2 {
		t.Fatalf("sampled self-heal lines = %d, want 2", n)
	}
	if strings.Contains(buf.String(), "single:list-items") {
		t.Fatalf("storage key should be redacted: %s", buf.String())
	}

	buf.Reset()
	h.RolledBack("single:list-items:list-items")
	if !strings.Contains(buf.String(), "querycache.rolled_back") {
		t.Fatalf("rollback not logged: %s", buf.String())
	}
}

func TestCustomRedactorAndNilLogger(t *testing.T) {
	var buf bytes.Buffer
	h := New(slog.New(slog.NewTextHandler(&buf, nil)), Options{Redact: func(string) string { return "K" }})
	h.ProviderSetRejected("secret", false)
	if !strings.Contains(buf.String(), "key=K") {
		t.Fatalf("custom redactor not used: %s", buf.String())
	}

	quiet := New(nil, Options{})
	quiet.InvalidateOutage("k", nil, nil)
	quiet.Invalidated("ns", 1)
}
