package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/logging"
	"github.com/randomizedcoder/go-kproc/internal/metrics"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

const rule = "═══════════════════════════════════════════════════════════════════"

// topEvents is how many log messages the summary lists.
const topEvents = 5

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()
	w := o.out

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "                         kproc Exit Summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Table Capacity:         %d\n", o.table.Capacity())
	fmt.Fprintf(w, "Peak Live Processes:    %d\n", summary.PeakLive)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Workloads:")
	for _, r := range o.report.Results() {
		fmt.Fprintf(w, "  %-10s %-6s %-14s %s\n", r.Workload, resultLabel(r), r.Status, r.Elapsed.Round(time.Microsecond))
		if r.Err != nil {
			fmt.Fprintf(w, "    %v\n", r.Err)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  Forks:                %d\n", summary.TotalForks)
	for _, reason := range sortedKeys(summary.ForkFailures) {
		fmt.Fprintf(w, "  Fork failures %-8s %d\n", reason+":", summary.ForkFailures[reason])
	}
	fmt.Fprintf(w, "  Exits:                %d\n", summary.TotalExits)
	fmt.Fprintf(w, "  Reaps:                %d (%d blocked)\n", summary.TotalReaps, summary.BlockedReaps)
	for _, cause := range sortedKeys(summary.Reclaims) {
		fmt.Fprintf(w, "  Reclaimed %-12s %d\n", cause+":", summary.Reclaims[cause])
	}
	fmt.Fprintln(w)

	if summary.TotalReaps > 0 {
		fmt.Fprintln(w, "waitpid Latency:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", summary.WaitP50)
		fmt.Fprintf(w, "  P95:                  %s\n", summary.WaitP95)
		fmt.Fprintf(w, "  P99:                  %s\n", summary.WaitP99)
		fmt.Fprintln(w)
	}

	if summary.TotalExits > 0 {
		fmt.Fprintln(w, "Process Lifetime:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", summary.LifetimeP50)
		fmt.Fprintf(w, "  P95:                  %s\n", summary.LifetimeP95)
		fmt.Fprintf(w, "  P99:                  %s\n", summary.LifetimeP99)
		fmt.Fprintln(w)
	}

	if len(summary.ExitCodes) > 0 {
		codes := make([]int, 0, len(summary.ExitCodes))
		for code := range summary.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		fmt.Fprintln(w, "Exit Codes:")
		for _, code := range codes {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if o.events != nil {
		if top := logging.TopCounts(o.events.Counts(), topEvents); len(top) > 0 {
			fmt.Fprintln(w, "Log Events:")
			for _, line := range top {
				fmt.Fprintf(w, "  %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}

	if addr := o.MetricsAddr(); addr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", addr)
	}
	fmt.Fprintln(w, rule)
}

func resultLabel(r workload.Result) string {
	if r.Passed() {
		return "PASS"
	}
	return "FAIL"
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatDuration formats a duration as HH:MM:SS.mmm.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch {
	case code == 0:
		return "(clean)"
	case code == 1:
		return "(workload failed)"
	case code == -1:
		return "(subtree failed)"
	case code > metrics.SignalExitBase:
		return fmt.Sprintf("(signal %d)", code-metrics.SignalExitBase)
	default:
		return ""
	}
}
