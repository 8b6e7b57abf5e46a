package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/moon/internal/config"
)

func TestNew(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	var buf syncBuffer
	l, closer := NewWithWriter(config.Logging{Level: "info", Format: "json", Async: true}, &buf, false)
	l.Info("hello")
	closer.Close()
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected flushed record, got %q", buf.String())
	}
}

func TestFormatSelection(t *testing.T) {
	tests := []struct {
		configured string
		tty        bool
		want       string
	}{
		{"", true, "text"},
		{"", false, "json"},
		{"json", true, "json"},
		{"TEXT", false, "text"},
	}
	for _, tt := range tests {
		if got := format(tt.configured, tt.tty); got != tt.want {
			t.Errorf("format(%q, %v) = %s, want %s", tt.configured, tt.tty, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RunID(ctx); got != "" {
		t.Errorf("expected empty run ID, got %q", got)
	}

	ctx = WithRunID(ctx, "run-123")
	if got := RunID(ctx); got != "run-123" {
		t.Errorf("expected run-123, got %q", got)
	}
}

func TestRunIDStampedOnRecords(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Format: "json"}, &buf, false)
	defer closer.Close()

	l.InfoContext(WithRunID(context.Background(), "run-7"), "batch done")
	if !strings.Contains(buf.String(), `"run_id":"run-7"`) {
		t.Fatalf("run_id missing: %s", buf.String())
	}
}
