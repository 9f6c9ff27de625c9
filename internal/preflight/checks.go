// Package preflight checks a configuration against the resources its
// workloads will need before the kernel boots.
package preflight

import (
	"fmt"
	"io"
	"net"

	"github.com/randomizedcoder/go-kproc/internal/config"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks for cfg.
func RunAll(cfg *config.Config) (*Result, error) {
	ws, err := workload.Lookup(cfg.Workloads)
	if err != nil {
		return nil, err
	}
	p := workload.Params{Width: cfg.Width, Depth: cfg.Depth, Orphans: cfg.Orphans}
	need := workload.Footprint(ws, p, cfg.Parallel)

	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkProcessTable(cfg.MaxProcs, need))
	if cfg.MaxThreads > 0 {
		add(checkThreads(cfg.MaxThreads, need))
	}
	if cfg.MemoryPages > 0 {
		add(checkMemory(cfg.MemoryPages, cfg.ProcPages, need))
	}
	for _, w := range ws {
		if w.Name == "exhaust" {
			add(checkExhaust(cfg))
			break
		}
	}
	if cfg.MetricsAddr != "" {
		add(checkListen(cfg.MetricsAddr))
	}

	return result, nil
}

// checkProcessTable verifies the workloads fit in the table.
func checkProcessTable(capacity, need int) Check {
	return Check{
		Name:     "process_table",
		Required: need,
		Actual:   capacity,
		Passed:   capacity >= need,
		Message:  fmt.Sprintf("%d slots (need %d)", capacity, need),
	}
}

// checkThreads warns when the thread limit is below the process peak. Zombies
// hold no thread, so a shortfall is not certain to cause failures.
func checkThreads(limit, need int) Check {
	return Check{
		Name:     "threads",
		Required: need,
		Actual:   limit,
		Passed:   true,
		Warning:  limit < need,
		Message:  fmt.Sprintf("%d threads (peak %d processes)", limit, need),
	}
}

// checkMemory warns when every process at peak could not hold a full copy of
// init's address space.
func checkMemory(pages, perProc, need int) Check {
	required := need * perProc
	return Check{
		Name:     "memory_pages",
		Required: required,
		Actual:   pages,
		Passed:   true,
		Warning:  pages < required,
		Message:  fmt.Sprintf("%d pages (need %d at %d per process)", pages, required, perProc),
	}
}

// checkExhaust verifies exhaust can fork far enough to hit a limit. Init and
// the driver hold two slots, so the fork that fails is number capacity-1.
// A thread or memory limit may trip sooner, which makes a short bound only a
// warning.
func checkExhaust(cfg *config.Config) Check {
	required := cfg.MaxProcs - 1
	short := cfg.ExhaustLimit < required
	otherLimits := cfg.MaxThreads > 0 || cfg.MemoryPages > 0
	return Check{
		Name:     "exhaust_limit",
		Required: required,
		Actual:   cfg.ExhaustLimit,
		Passed:   !short || otherLimits,
		Warning:  short && otherLimits,
		Message:  fmt.Sprintf("%d forks (table fills after %d)", cfg.ExhaustLimit, required),
	}
}

// checkListen verifies the metrics address can be bound.
func checkListen(addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    "metrics_addr",
			Passed:  false,
			Message: fmt.Sprintf("cannot listen on %s: %v", addr, err),
		}
	}
	ln.Close()
	return Check{
		Name:    "metrics_addr",
		Passed:  true,
		Message: fmt.Sprintf("%s available", addr),
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "process_table":
		return "raise -procs, or lower -width, -depth and -orphans"
	case "threads":
		return "raise -threads (0 = unlimited)"
	case "memory_pages":
		return "raise -memory-pages or lower -pages (0 = unlimited)"
	case "exhaust_limit":
		return "raise -exhaust above -procs"
	case "metrics_addr":
		return "pick a free -metrics address or leave it empty"
	default:
		return "see -help"
	}
}
