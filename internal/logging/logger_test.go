package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

// =============================================================================
// Logger construction
// =============================================================================

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo}, // Unknown level defaults to info
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	testCases := []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"JSON", true},
		{"text", false},
		{"", false},
		{"invalid", false},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, tc.format, false).Info("fork", "pid", 2)

			out := buf.String()
			if got := strings.HasPrefix(out, "{"); got != tc.json {
				t.Errorf("format %q produced %q", tc.format, out)
			}
			if !strings.Contains(out, "pid") {
				t.Errorf("output missing attribute: %q", out)
			}
		})
	}
}

func TestNewLogger_Verbose(t *testing.T) {
	var quiet, verbose bytes.Buffer
	NewLogger(&quiet, "text", false).Debug("waitpid_blocked")
	NewLogger(&verbose, "text", true).Debug("waitpid_blocked")

	if quiet.Len() != 0 {
		t.Errorf("non-verbose logger wrote debug record: %q", quiet.String())
	}
	if !strings.Contains(verbose.String(), "waitpid_blocked") {
		t.Errorf("verbose logger dropped debug record: %q", verbose.String())
	}
	if !strings.Contains(verbose.String(), "source=") {
		t.Errorf("verbose logger should add source: %q", verbose.String())
	}
}

func TestNewLoggerWithLevel_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithLevel(&buf, "text", "warn")

	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "info msg") {
		t.Error("warn level should not log info messages")
	}
	for _, want := range []string{"warn msg", "error msg"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should be disabled at every level")
	}
	logger.Error("dropped")
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithLevel(&buf, "text", "info"))
	slog.Info("default logger")

	if !strings.Contains(buf.String(), "default logger") {
		t.Errorf("default logger not replaced: %q", buf.String())
	}
}

// =============================================================================
// Ring
// =============================================================================

func TestRing_RecentLines(t *testing.T) {
	r := NewRing(3)
	for i := range 5 {
		r.add("m", fmt.Sprintf("line %d", i))
	}

	testCases := []struct {
		n    int
		want []string
	}{
		{1, []string{"line 4"}},
		{3, []string{"line 2", "line 3", "line 4"}},
		{10, []string{"line 2", "line 3", "line 4"}},
		{0, []string{}},
	}
	for _, tc := range testCases {
		if got := r.RecentLines(tc.n); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("RecentLines(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestRing_RecentLines_NotFull(t *testing.T) {
	r := NewRing(0)
	r.add("m", "only")

	if got := r.RecentLines(5); !reflect.DeepEqual(got, []string{"only"}) {
		t.Errorf("RecentLines = %v, want [only]", got)
	}
}

func TestRing_Truncation(t *testing.T) {
	r := NewRing(1)
	r.add("m", strings.Repeat("x", MaxLineLength+10))

	line := r.RecentLines(1)[0]
	if !strings.HasSuffix(line, "...(truncated)") {
		t.Errorf("long line not truncated: %d bytes", len(line))
	}
	if len(line) != MaxLineLength+len("...(truncated)") {
		t.Errorf("truncated length = %d", len(line))
	}
}

func TestRing_CountsAreCopies(t *testing.T) {
	r := NewRing(2)
	r.add("fork", "a")
	r.add("fork", "b")
	r.add("exit", "c")

	counts := r.Counts()
	if counts["fork"] != 2 || counts["exit"] != 1 {
		t.Errorf("Counts = %v", counts)
	}
	counts["fork"] = 100
	if r.Counts()["fork"] != 2 {
		t.Error("Counts should return a copy")
	}
}

func TestTopCounts(t *testing.T) {
	counts := map[string]int{"exit": 3, "fork": 3, "reap": 5, "boot": 1}

	if got, want := TopCounts(counts, 2), []string{"reap: 5", "exit: 3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TopCounts(2) = %v, want %v", got, want)
	}
	if got := TopCounts(counts, -1); len(got) != 4 {
		t.Errorf("TopCounts(-1) returned %d entries, want 4", len(got))
	}
}

// =============================================================================
// RingHandler
// =============================================================================

func TestRingHandler_RecordsAndForwards(t *testing.T) {
	ring := NewRing(10)
	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRingHandler(ring, slog.LevelInfo, next))

	logger.Debug("debug_only")
	logger.Info("fork", "pid", 2)

	lines := ring.RecentLines(10)
	if len(lines) != 1 {
		t.Fatalf("ring has %d lines, want 1: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "INFO  fork pid=2") {
		t.Errorf("ring line = %q", lines[0])
	}
	for _, want := range []string{"debug_only", "fork"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("forwarded output missing %q", want)
		}
	}
}

func TestRingHandler_AttrsAndGroups(t *testing.T) {
	ring := NewRing(10)
	logger := slog.New(NewRingHandler(ring, nil, nil)).
		With("component", "lifecycle").
		WithGroup("proc")

	logger.Info("exit", "pid", 3, slog.Group("status", "code", 7))

	line := ring.RecentLines(1)[0]
	for _, want := range []string{"component=lifecycle", "proc.pid=3", "proc.status.code=7"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestRingHandler_Enabled(t *testing.T) {
	h := NewRingHandler(NewRing(1), slog.LevelWarn, nil)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled without a forwarding handler")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled")
	}
}
