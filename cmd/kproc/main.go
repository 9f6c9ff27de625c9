// Package main provides the kproc CLI entry point.
//
// kproc boots a small process lifecycle kernel, runs fork/_exit/waitpid
// workloads under an init process and reports on what happened.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-kproc/internal/config"
	"github.com/randomizedcoder/go-kproc/internal/logging"
	"github.com/randomizedcoder/go-kproc/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/kproc
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("kproc %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if config.IsHelp(err) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When the TUI is enabled, logs go to a ring the dashboard displays
	// instead of the terminal it is drawing on.
	var (
		logger *slog.Logger
		events *logging.Ring
	)
	if cfg.TUIEnabled {
		events = logging.NewRing(0)
		level := slog.LevelInfo
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(logging.NewRingHandler(events, level, nil))
	} else {
		logger = logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"workloads", cfg.Workloads,
		"parallel", cfg.Parallel,
		"max_procs", cfg.MaxProcs,
		"config_file", cfg.ConfigFile,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(os.Stdout, cfg)
	}

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	orch.SetEvents(events)

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("run_failed", "error", err)
		if cfg.TUIEnabled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                              kproc                                ║")
	fmt.Fprintln(w, "║          fork / _exit / waitpid process lifecycle kernel          ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Workloads:   %v\n", cfg.Workloads)
	if cfg.Parallel {
		fmt.Fprintln(w, "  Mode:        parallel")
	}
	fmt.Fprintf(w, "  Procs:       %d\n", cfg.MaxProcs)
	if cfg.MaxThreads > 0 {
		fmt.Fprintf(w, "  Threads:     %d\n", cfg.MaxThreads)
	}
	if cfg.MemoryPages > 0 {
		fmt.Fprintf(w, "  Memory:      %d pages\n", cfg.MemoryPages)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
}
