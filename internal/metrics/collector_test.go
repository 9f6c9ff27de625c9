package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/lifecycle"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestRegistry creates a new registry for isolated testing.
func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// newTestCollector creates a collector with a test registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := newTestRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

// family returns the named metric family from registry.
func family(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// value returns the value of the metric name whose labels match labels.
// Counters, gauges and histogram sample counts are supported.
func value(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mf := family(t, registry, name)
	if mf == nil {
		return 0
	}
	for _, m := range mf.GetMetric() {
		if !matches(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

// =============================================================================
// Tests: NewCollector
// =============================================================================

func TestNewCollector(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{TableCapacity: 128})
	if c == nil {
		t.Fatal("NewCollectorWithRegistry returned nil")
	}
	if got := value(t, registry, "kproc_table_capacity", nil); got != 128 {
		t.Errorf("kproc_table_capacity = %v, want 128", got)
	}
}

func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	registry := newTestRegistry()
	NewCollectorWithRegistry(CollectorConfig{}, registry)

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic")
		}
	}()
	NewCollectorWithRegistry(CollectorConfig{}, registry)
}

// =============================================================================
// Tests: Event Recording
// =============================================================================

func TestForkFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "table full", err: fmt.Errorf("fork: %w", proc.ErrResourceExhausted), want: ReasonTableFull},
		{name: "thread limit", err: fmt.Errorf("fork: %w: %w", proc.ErrResourceExhausted, thread.ErrTooManyThreads), want: ReasonNoThread},
		{name: "address space copy", err: fmt.Errorf("fork: %w: %w", proc.ErrOperationFailed, addrspace.ErrOutOfMemory), want: ReasonNoMemory},
		{name: "unknown", err: errors.New("boom"), want: ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForkFailureReason(tt.err); got != tt.want {
				t.Errorf("ForkFailureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExitCategory(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, CategorySuccess},
		{1, CategoryError},
		{-1, CategoryError},
		{128, CategoryError},
		{137, CategorySignal},
	}
	for _, tt := range tests {
		if got := ExitCategory(tt.code); got != tt.want {
			t.Errorf("ExitCategory(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCollector_Callbacks(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})
	cb := c.Callbacks()

	cb.OnFork(1, 2)
	cb.OnFork(1, 3)
	cb.OnForkFailed(1, fmt.Errorf("fork: %w", proc.ErrResourceExhausted))
	cb.OnExit(2, 0, 10*time.Millisecond)
	cb.OnExit(3, 7, 20*time.Millisecond)
	cb.OnReap(1, 2, wait.Exited(0), time.Millisecond, true)
	cb.OnReap(1, 3, wait.Exited(7), 0, false)
	cb.OnReclaim(2, lifecycle.ReclaimReaped)
	cb.OnReclaim(3, lifecycle.ReclaimReaped)
	cb.OnReclaim(4, lifecycle.ReclaimOrphan)

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"kproc_forks_total", nil, 2},
		{"kproc_fork_failures_total", map[string]string{"reason": ReasonTableFull}, 1},
		{"kproc_exits_total", map[string]string{"category": CategorySuccess}, 1},
		{"kproc_exits_total", map[string]string{"category": CategoryError}, 1},
		{"kproc_reaps_total", nil, 2},
		{"kproc_reclaims_total", map[string]string{"cause": "reaped"}, 2},
		{"kproc_reclaims_total", map[string]string{"cause": "orphan"}, 1},
		{"kproc_wait_duration_seconds", map[string]string{"blocked": "true"}, 1},
		{"kproc_wait_duration_seconds", map[string]string{"blocked": "false"}, 1},
		{"kproc_process_lifetime_seconds", nil, 2},
	}
	for _, ch := range checks {
		if got := value(t, registry, ch.name, ch.labels); got != ch.want {
			t.Errorf("%s%v = %v, want %v", ch.name, ch.labels, got, ch.want)
		}
	}

	if got := c.TotalForks(); got != 2 {
		t.Errorf("TotalForks() = %d, want 2", got)
	}
}

func TestCollector_SetGauges(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})

	c.SetGauges(Gauges{Live: 5, Zombies: 2, Threads: 3, PagesInUse: 10})
	c.SetGauges(Gauges{Live: 1})

	if got := value(t, registry, "kproc_live_processes", nil); got != 1 {
		t.Errorf("kproc_live_processes = %v, want 1", got)
	}
	if got := c.PeakLive(); got != 5 {
		t.Errorf("PeakLive() = %d, want 5", got)
	}
}

func TestCollector_ObserveLive(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{})

	c.ObserveLive(7)
	c.ObserveLive(3)
	c.SetGauges(Gauges{Live: 4})

	if got := c.PeakLive(); got != 7 {
		t.Errorf("PeakLive() = %d, want 7", got)
	}
	if got := value(t, registry, "kproc_live_processes", nil); got != 4 {
		t.Errorf("kproc_live_processes = %v, want 4 from SetGauges only", got)
	}
}

func TestGaugesFromSnapshot(t *testing.T) {
	infos := []proc.Info{
		{PID: 1, State: proc.StateRunning},
		{PID: 2, State: proc.StateExited},
		{PID: 3, State: proc.StateExited},
	}
	g := GaugesFromSnapshot(infos)
	if g.Live != 3 || g.Zombies != 2 {
		t.Errorf("GaugesFromSnapshot() = %+v, want Live 3 Zombies 2", g)
	}
}

// =============================================================================
// Tests: Summary
// =============================================================================

func TestGenerateSummary(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	for i := 1; i <= 100; i++ {
		c.RecordFork()
		c.RecordExit(i%3, time.Duration(i)*time.Millisecond)
		c.RecordReap(wait.Exited(i%3), time.Duration(i)*time.Microsecond, i%2 == 0)
		c.RecordReclaim(lifecycle.ReclaimReaped)
	}
	c.RecordForkFailure(fmt.Errorf("fork: %w", proc.ErrResourceExhausted))

	s := c.GenerateSummary()
	if s.TotalForks != 100 || s.TotalReaps != 100 || s.TotalExits != 100 {
		t.Errorf("totals = forks %d reaps %d exits %d, want 100 each", s.TotalForks, s.TotalReaps, s.TotalExits)
	}
	if s.BlockedReaps != 50 {
		t.Errorf("BlockedReaps = %d, want 50", s.BlockedReaps)
	}
	if s.ExitCodes[0] != 33 || s.ExitCodes[1] != 34 || s.ExitCodes[2] != 33 {
		t.Errorf("ExitCodes = %v", s.ExitCodes)
	}
	if s.ForkFailures[ReasonTableFull] != 1 {
		t.Errorf("ForkFailures = %v", s.ForkFailures)
	}
	if s.Reclaims["reaped"] != 100 || s.TotalReclaims != 100 {
		t.Errorf("Reclaims = %v (total %d)", s.Reclaims, s.TotalReclaims)
	}

	// Digests are approximate.
	if s.LifetimeP50 < 40*time.Millisecond || s.LifetimeP50 > 60*time.Millisecond {
		t.Errorf("LifetimeP50 = %v, want about 50ms", s.LifetimeP50)
	}
	if !(s.LifetimeP50 <= s.LifetimeP95 && s.LifetimeP95 <= s.LifetimeP99) {
		t.Errorf("lifetime quantiles not ordered: %v %v %v", s.LifetimeP50, s.LifetimeP95, s.LifetimeP99)
	}
	if s.WaitP99 < 90*time.Microsecond || s.WaitP99 > 101*time.Microsecond {
		t.Errorf("WaitP99 = %v, want about 99us", s.WaitP99)
	}
}

func TestGenerateSummary_Empty(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})
	s := c.GenerateSummary()
	if s.WaitP50 != 0 || s.LifetimeP99 != 0 {
		t.Errorf("empty summary quantiles = %v %v, want 0", s.WaitP50, s.LifetimeP99)
	}
	if s.ExitCodes == nil || s.Reclaims == nil {
		t.Error("summary maps should be non-nil")
	}
}

// =============================================================================
// Tests: Exposition
// =============================================================================

func TestWriteText(t *testing.T) {
	c, registry := newTestCollector(CollectorConfig{TableCapacity: 64})
	c.RecordFork()
	c.RecordFork()
	c.RecordFork()

	var buf bytes.Buffer
	if err := WriteText(&buf, registry); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE kproc_forks_total counter",
		"kproc_forks_total 3",
		"kproc_table_capacity 64",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
