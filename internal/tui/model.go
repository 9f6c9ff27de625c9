package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-kproc/internal/metrics"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an updated kernel snapshot.
type SnapshotMsg struct {
	Snapshot *Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Snapshot is everything the dashboard shows at one instant.
type Snapshot struct {
	Procs        []proc.Info
	Threads      int
	PagesInUse   int
	PageCapacity int
	Summary      *metrics.Summary
	Results      []workload.Result

	// Events holds the most recent log lines, oldest first.
	Events []string

	Done bool
}

// Zombies returns the number of exited, unreaped records.
func (s *Snapshot) Zombies() int {
	return metrics.GaugesFromSnapshot(s.Procs).Zombies
}

// Source provides kernel snapshots.
type Source interface {
	Snapshot() *Snapshot
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	capacity    int
	workloads   int
	metricsAddr string

	// Current state
	snap         *Snapshot
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	source Source

	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Capacity    int
	Workloads   int
	MetricsAddr string
	Source      Source
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		capacity:    cfg.Capacity,
		workloads:   cfg.Workloads,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.snap = m.source.Snapshot()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView && m.snap != nil {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// LiveProcesses returns the number of records in the table.
func (m Model) LiveProcesses() int {
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Procs)
}

// Occupancy returns the table fill ratio (0.0 to 1.0).
func (m Model) Occupancy() float64 {
	if m.capacity == 0 {
		return 0
	}
	return float64(m.LiveProcesses()) / float64(m.capacity)
}

// MemoryUsage returns the page pool fill ratio, or 0 for an unlimited pool.
func (m Model) MemoryUsage() float64 {
	if m.snap == nil || m.snap.PageCapacity == 0 {
		return 0
	}
	return float64(m.snap.PagesInUse) / float64(m.snap.PageCapacity)
}

// Completed returns how many workloads have finished.
func (m Model) Completed() int {
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Results)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot sends a snapshot to the TUI.
func SendSnapshot(p *tea.Program, s *Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg{Snapshot: s})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatLatency formats a duration in the largest unit that keeps it above 1.
func formatLatency(d time.Duration) string {
	switch {
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2f ms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%d µs", d.Microseconds())
	default:
		return fmt.Sprintf("%d ns", d.Nanoseconds())
	}
}

// formatAge formats a process age compactly.
func formatAge(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return formatDuration(d)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
