package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-kproc/internal/metrics"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/wait"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

// =============================================================================
// Mock Source
// =============================================================================

type mockSource struct {
	snap  *Snapshot
	calls int
}

func (m *mockSource) Snapshot() *Snapshot {
	m.calls++
	return m.snap
}

func sampleSnapshot() *Snapshot {
	now := time.Now()
	return &Snapshot{
		Procs: []proc.Info{
			{PID: 1, Name: "init", State: proc.StateRunning, Children: 2, Threads: 1, Created: now},
			{PID: 2, PPID: 1, Name: "init", State: proc.StateRunning, Threads: 1, Created: now},
			{PID: 3, PPID: 1, Name: "init", State: proc.StateExited, Created: now},
		},
		Threads:      2,
		PagesInUse:   4,
		PageCapacity: 16,
		Summary: &metrics.Summary{
			TotalForks:    10,
			ForkFailures:  map[string]int64{metrics.ReasonTableFull: 2},
			TotalReaps:    8,
			BlockedReaps:  3,
			Reclaims:      map[string]int64{"reaped": 8, "orphan": 1},
			TotalReclaims: 9,
			TotalExits:    9,
			WaitP50:       40 * time.Microsecond,
			WaitP95:       2 * time.Millisecond,
			WaitP99:       3 * time.Millisecond,
		},
		Results: []workload.Result{
			{Workload: "zombie", PID: 2, Status: wait.Exited(0), Elapsed: 5 * time.Millisecond},
			{Workload: "badwait", PID: 4, Status: wait.Exited(1), Err: errors.New("self: waitpid(1) got <nil>, want ECHILD")},
		},
	}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{Capacity: 256, Workloads: 6, MetricsAddr: "localhost:9090"})

	if model.capacity != 256 {
		t.Errorf("capacity = %d, want 256", model.capacity)
	}
	if model.workloads != 6 {
		t.Errorf("workloads = %d, want 6", model.workloads)
	}
	if model.metricsAddr != "localhost:9090" {
		t.Errorf("metricsAddr = %s, want localhost:9090", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var msg tea.KeyMsg
			switch tt.key {
			case "ctrl+c":
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			case "esc":
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			default:
				msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			}

			updated, _ := New(Config{}).Update(msg)
			if got := updated.(Model).quitting; got != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", got, tt.wantQuit)
			}
		})
	}
}

func TestModel_Update_ToggleDetails(t *testing.T) {
	model := New(Config{})
	key := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	updated, _ := model.Update(key)
	if !updated.(Model).detailedView {
		t.Error("detailedView should be true after first toggle")
	}
	updated, _ = updated.(Model).Update(key)
	if updated.(Model).detailedView {
		t.Error("detailedView should be false after second toggle")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	updated, _ := New(Config{}).Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := updated.(Model)
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_TickPollsSource(t *testing.T) {
	src := &mockSource{snap: sampleSnapshot()}
	model := New(Config{Capacity: 16, Source: src})

	updated, cmd := model.Update(TickMsg(time.Now()))
	m := updated.(Model)
	if src.calls != 1 {
		t.Errorf("source polled %d times, want 1", src.calls)
	}
	if cmd == nil {
		t.Error("tick should schedule another tick")
	}
	if m.LiveProcesses() != 3 {
		t.Errorf("LiveProcesses() = %d, want 3", m.LiveProcesses())
	}
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	updated, _ := New(Config{Capacity: 4}).Update(SnapshotMsg{Snapshot: sampleSnapshot()})
	m := updated.(Model)
	if m.Occupancy() != 0.75 {
		t.Errorf("Occupancy() = %v, want 0.75", m.Occupancy())
	}
	if m.MemoryUsage() != 0.25 {
		t.Errorf("MemoryUsage() = %v, want 0.25", m.MemoryUsage())
	}
	if m.Completed() != 2 {
		t.Errorf("Completed() = %d, want 2", m.Completed())
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	updated, cmd := New(Config{}).Update(QuitMsg{})
	if !updated.(Model).quitting {
		t.Error("QuitMsg should set quitting")
	}
	if cmd == nil {
		t.Error("QuitMsg should return tea.Quit")
	}
}

// =============================================================================
// Tests: Accessors without data
// =============================================================================

func TestModel_EmptyAccessors(t *testing.T) {
	m := New(Config{})
	if m.LiveProcesses() != 0 || m.Occupancy() != 0 || m.MemoryUsage() != 0 || m.Completed() != 0 {
		t.Error("accessors should be zero without a snapshot")
	}
	if m.Elapsed() < 0 {
		t.Error("Elapsed() negative")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Summary(t *testing.T) {
	updated, _ := New(Config{Capacity: 16, Workloads: 6, MetricsAddr: "127.0.0.1:9100"}).
		Update(SnapshotMsg{Snapshot: sampleSnapshot()})
	out := updated.(Model).View()

	for _, want := range []string{
		"kproc",
		"Procs: 3/16",
		"Workloads: 2/6",
		"Zombies",
		"Fork failures",
		"table_full: 2",
		"orphan: 1",
		"waitpid Latency",
		"40 µs",
		"zombie",
		"pass",
		"FAIL",
		"want ECHILD",
		"127.0.0.1:9100",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary view missing %q", want)
		}
	}
}

func TestModel_View_Events(t *testing.T) {
	snap := sampleSnapshot()
	for i := range 10 {
		snap.Events = append(snap.Events, "12:00:00.000 INFO  workload_done n="+string(rune('a'+i)))
	}
	snap.Events = append(snap.Events, strings.Repeat("x", 500))

	updated, _ := New(Config{Capacity: 16}).Update(SnapshotMsg{Snapshot: snap})
	out := updated.(Model).View()

	if !strings.Contains(out, "Recent Events") {
		t.Fatal("summary view missing events section")
	}
	if strings.Contains(out, "n=a") {
		t.Error("oldest events should scroll off")
	}
	if !strings.Contains(out, "n=j") {
		t.Error("newest events should be shown")
	}
	if strings.Contains(out, strings.Repeat("x", 100)) {
		t.Error("long event should be truncated to the window width")
	}
}

func TestModel_View_Detailed(t *testing.T) {
	model := New(Config{Capacity: 16})
	updated, _ := model.Update(SnapshotMsg{Snapshot: sampleSnapshot()})
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	out := updated.(Model).View()

	for _, want := range []string{"Process Table", "PPID", "Waiters", "exited", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("detailed view missing %q", want)
		}
	}
}

func TestModel_View_NoData(t *testing.T) {
	out := New(Config{Capacity: 8}).View()
	if !strings.Contains(out, "Procs: 0/8") {
		t.Errorf("empty view missing header: %q", out)
	}
}

func TestModel_View_Quitting(t *testing.T) {
	updated, _ := New(Config{}).Update(QuitMsg{})
	if out := updated.(Model).View(); out != "" {
		t.Errorf("View() after quit = %q, want empty", out)
	}
}

func TestModel_View_ManyProcesses(t *testing.T) {
	snap := &Snapshot{}
	for pid := 1; pid <= 50; pid++ {
		snap.Procs = append(snap.Procs, proc.Info{PID: pid, State: proc.StateRunning, Created: time.Now()})
	}
	model := New(Config{Capacity: 64})
	updated, _ := model.Update(SnapshotMsg{Snapshot: snap})
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	out := updated.(Model).View()
	if !strings.Contains(out, "more processes") {
		t.Error("long table should be truncated")
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"duration", formatDuration(3723 * time.Second), "01:02:03"},
		{"number small", formatNumber(999), "999"},
		{"number K", formatNumber(1500), "1.5K"},
		{"number M", formatNumber(2_500_000), "2.5M"},
		{"latency ns", formatLatency(500 * time.Nanosecond), "500 ns"},
		{"latency us", formatLatency(40 * time.Microsecond), "40 µs"},
		{"latency ms", formatLatency(1500 * time.Microsecond), "1.50 ms"},
		{"age ms", formatAge(20 * time.Millisecond), "20ms"},
		{"age s", formatAge(1500 * time.Millisecond), "1.5s"},
		{"age long", formatAge(2 * time.Minute), "00:02:00"},
		{"counts", formatCounts(map[string]int64{"b": 2, "a": 1}), " (a: 1, b: 2)"},
		{"counts empty", formatCounts(nil), ""},
		{"first line", firstLine("one\ntwo"), "one …"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
