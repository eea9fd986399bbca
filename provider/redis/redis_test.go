package redis

import (
	"errors"
	"testing"
)

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestEscapeGlob(t *testing.T) {
	cases := map[string]string{
		"single:books:bookSearch": "single:books:bookSearch",
		"single:ns:a*b":           `single:ns:a\*b`,
		"x[1]?":                   `x\[1\]\?`,
	}
	for in, want := range cases {
		if got := escapeGlob(in); got != want {
			t.Fatalf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}
