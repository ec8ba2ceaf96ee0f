package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewTextLoggerWritesLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "text", "debug")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Warn(ctx, "wrn", "b", 2)
	log.With("component", "guard").Error(ctx, "err", "c", 3)

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "msg=dbg", "a=1", "level=WARN", "b=2", "component=guard", "c=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestNewJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "json", "warn")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json error line:\n%s", out)
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := New(&bytes.Buffer{}, "json", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
