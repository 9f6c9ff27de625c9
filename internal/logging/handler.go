package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MaxLineLength is the maximum length of a buffered line before truncation.
	MaxLineLength = 512

	// DefaultBufferedLines is the ring size used when none is given.
	DefaultBufferedLines = 100
)

// Ring keeps the most recent log lines and a count of records per message.
// The dashboard reads it because log output cannot share the terminal.
type Ring struct {
	mu     sync.Mutex
	buffer []string
	bufIdx int
	counts map[string]int
}

// NewRing creates a ring holding size lines. A size of zero or less selects
// DefaultBufferedLines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultBufferedLines
	}
	return &Ring{
		buffer: make([]string, size),
		counts: make(map[string]int),
	}
}

func (r *Ring) add(msg, line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	r.mu.Lock()
	r.buffer[r.bufIdx] = line
	r.bufIdx = (r.bufIdx + 1) % len(r.buffer)
	r.counts[msg]++
	r.mu.Unlock()
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (r *Ring) RecentLines(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.buffer)
	if n > size {
		n = size
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.bufIdx - n + i + size) % size
		if r.buffer[idx] != "" {
			lines = append(lines, r.buffer[idx])
		}
	}
	return lines
}

// Counts returns how many records were seen per message.
func (r *Ring) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// RingHandler is a slog.Handler that formats records into a Ring and
// optionally forwards them to another handler.
type RingHandler struct {
	ring   *Ring
	level  slog.Leveler
	next   slog.Handler
	prefix string // rendered WithAttrs attributes
	group  string // dotted WithGroup path
}

// NewRingHandler creates a handler recording at or above level into ring.
// next may be nil.
func NewRingHandler(ring *Ring, level slog.Leveler, next slog.Handler) *RingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{ring: ring, level: level, next: next}
}

// Enabled reports whether either destination wants the level.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle records r and forwards it.
func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		h.ring.add(r.Message, h.format(r))
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *RingHandler) format(r slog.Record) string {
	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "%s %-5s %s", ts.Format("15:04:05.000"), r.Level, r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	return b.String()
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if a.Key == "" {
			key = group
		}
		for _, ga := range attrs {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}

// WithAttrs returns a handler that renders attrs on every record.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}

	h2 := *h
	h2.prefix = b.String()
	if h.next != nil {
		h2.next = h.next.WithAttrs(attrs)
	}
	return &h2
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group == "" {
		h2.group = name
	} else {
		h2.group = h.group + "." + name
	}
	if h.next != nil {
		h2.next = h.next.WithGroup(name)
	}
	return &h2
}

// TopCounts returns the n most frequent messages as "msg: count" strings,
// most frequent first and ties by name.
func TopCounts(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n >= 0 && len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return out
}
