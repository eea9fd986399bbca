package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/querycache"
)

func TestFieldsAreSortedAndLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("dropped", querycache.Fields{"x": 1})
	l.Info("invalidated key", querycache.Fields{"key": "single:list-items:list-items", "gen": 2})

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	gi, ki := strings.Index(out, "gen=2"), strings.Index(out, "key=")
	if gi < 0 || ki < 0 || gi > ki {
		t.Fatalf("fields missing or unsorted: %q", out)
	}
}
