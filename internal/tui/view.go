package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderOccupancy())

	if m.snap != nil && m.snap.Summary != nil {
		sections = append(sections, m.renderLifecycleStats())
		sections = append(sections, m.renderWaitLatency())
	}
	if m.snap != nil && len(m.snap.Results) > 0 {
		sections = append(sections, m.renderResults())
	}
	if m.snap != nil && len(m.snap.Events) > 0 {
		sections = append(sections, m.renderEvents())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the process table.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderProcTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	status := statusInfo.Render("● running")
	if m.snap != nil && m.snap.Done {
		status = statusOK.Render("● done")
	}

	header := fmt.Sprintf(
		" kproc │ %s │ Procs: %d/%d │ Workloads: %d/%d │ Elapsed: %s ",
		status,
		m.LiveProcesses(),
		m.capacity,
		m.Completed(),
		m.workloads,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Occupancy
// =============================================================================

func (m Model) renderOccupancy() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		sectionHeaderStyle.Render("Occupancy"),
		RenderKeyValue("Process table", fmt.Sprintf("%d / %d", m.LiveProcesses(), m.capacity)),
		RenderProgressBar(m.Occupancy(), barWidth),
	}

	if m.snap != nil {
		rows = append(rows,
			RenderKeyValue("Zombies", fmt.Sprintf("%d", m.snap.Zombies())),
			RenderKeyValue("Threads", fmt.Sprintf("%d", m.snap.Threads)),
		)
		if m.snap.PageCapacity > 0 {
			rows = append(rows,
				RenderKeyValue("Memory pages", fmt.Sprintf("%d / %d", m.snap.PagesInUse, m.snap.PageCapacity)),
				RenderProgressBar(m.MemoryUsage(), barWidth),
			)
		} else {
			rows = append(rows, RenderKeyValue("Memory pages", fmt.Sprintf("%d", m.snap.PagesInUse)))
		}
	}

	status := GetOccupancyStyle(m.Occupancy()).Render(occupancyLabel(m.Occupancy()))
	rows = append(rows, status)

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func occupancyLabel(ratio float64) string {
	switch GetOccupancyStatus(ratio) {
	case OccupancyFull:
		return "✗ Process table full"
	case OccupancyHigh:
		return "! Process table nearly full"
	default:
		return "✓ Capacity available"
	}
}

// =============================================================================
// Lifecycle Statistics
// =============================================================================

func (m Model) renderLifecycleStats() string {
	s := m.snap.Summary

	var failures int64
	for _, n := range s.ForkFailures {
		failures += n
	}
	failStyle := valueGoodStyle
	if failures > 0 {
		failStyle = valueWarnStyle
	}

	rows := []string{
		sectionHeaderStyle.Render("Lifecycle"),
		RenderKeyValueWide("Forks", formatNumber(s.TotalForks)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render("Fork failures:"),
			failStyle.Render(formatNumber(failures)),
			mutedStyle.Render(formatCounts(s.ForkFailures)),
		),
		RenderKeyValueWide("Exits", formatNumber(s.TotalExits)),
		RenderKeyValueWide("Reaps", fmt.Sprintf("%s (%s blocked)", formatNumber(s.TotalReaps), formatNumber(s.BlockedReaps))),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render("Reclaims:"),
			valueStyle.Render(formatNumber(s.TotalReclaims)),
			mutedStyle.Render(formatCounts(s.Reclaims)),
		),
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// formatCounts renders a label map as " (a: 1, b: 2)" in key order.
func formatCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// =============================================================================
// Wait Latency
// =============================================================================

func (m Model) renderWaitLatency() string {
	s := m.snap.Summary
	if s.TotalReaps == 0 {
		return ""
	}

	rows := []string{
		sectionHeaderStyle.Render("waitpid Latency"),
		renderLatencyRow("P50 (median)", s.WaitP50),
		renderLatencyRow("P95", s.WaitP95),
		renderLatencyRow("P99", s.WaitP99),
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderLatencyRow(label string, d time.Duration) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(formatLatency(d)),
	)
}

// =============================================================================
// Workload Results
// =============================================================================

func (m Model) renderResults() string {
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-10s %-6s %-14s %-10s %s", "Workload", "PID", "Status", "Elapsed", "Result"),
	)

	rows := []string{sectionHeaderStyle.Render("Workloads"), header}
	for _, r := range m.snap.Results {
		rows = append(rows, fmt.Sprintf("%-10s %-6d %-14s %-10s %s",
			r.Workload,
			r.PID,
			r.Status.String(),
			formatAge(r.Elapsed),
			GetResultLabel(r.Passed()),
		))
		if r.Err != nil {
			rows = append(rows, valueBadStyle.Render("  "+firstLine(r.Err.Error())))
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// =============================================================================
// Recent Events
// =============================================================================

// maxEventRows caps how many log lines the summary view shows.
const maxEventRows = 6

func (m Model) renderEvents() string {
	events := m.snap.Events
	if len(events) > maxEventRows {
		events = events[len(events)-maxEventRows:]
	}

	width := m.width - 6
	rows := []string{sectionHeaderStyle.Render("Recent Events")}
	for _, e := range events {
		if r := []rune(e); width > 1 && len(r) > width {
			e = string(r[:width-1]) + "…"
		}
		rows = append(rows, dimStyle.Render(e))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Process Table (Detailed View)
// =============================================================================

func (m Model) renderProcTable() string {
	if m.snap == nil || len(m.snap.Procs) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No processes. Press 'd' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-6s %-6s %-10s %-8s %-8s %-8s %-8s %s",
			"PID", "PPID", "Name", "State", "Kids", "Threads", "Waiters", "Age"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	now := time.Now()
	var rows []string
	for i, p := range m.snap.Procs {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more processes", len(m.snap.Procs)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		ppid := "-"
		if p.PPID != 0 {
			ppid = fmt.Sprintf("%d", p.PPID)
		}

		row := fmt.Sprintf("%-6d %-6s %-10s %-8s %-8d %-8d %-8d %s",
			p.PID,
			ppid,
			p.Name,
			GetStateStyle(p.State).Render(fmt.Sprintf("%-8s", p.State)),
			p.Children,
			p.Threads,
			p.Waiters,
			formatAge(now.Sub(p.Created)),
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Process Table"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle process table",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
