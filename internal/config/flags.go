package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// nameList is a flag type for comma-separated names. The first Set replaces
// the default so "-workloads zombie" does not also run "all".
type nameList struct {
	names *[]string
	set   bool
}

func (l *nameList) String() string {
	if l.names == nil {
		return ""
	}
	return strings.Join(*l.names, ",")
}

func (l *nameList) Set(value string) error {
	if !l.set {
		*l.names = nil
		l.set = true
	}
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*l.names = append(*l.names, name)
		}
	}
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs builds a Config from defaults, then the -config file if one is
// named, then the remaining flags. Usage and parse errors go to out.
func ParseArgs(args []string, out io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	if path := configPath(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("kproc", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.Usage = func() {
		fmt.Fprintf(out, `kproc - process lifecycle kernel with fork/_exit/waitpid workloads

Usage:
  kproc [flags]

Workloads:
`)
		printFlagCategory(fs, out, []string{"workloads", "parallel", "width", "depth", "orphans", "exhaust", "jitter", "seed"})

		fmt.Fprintf(out, "\nKernel Limits:\n")
		printFlagCategory(fs, out, []string{"procs", "threads", "memory-pages", "pages"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, out, []string{"metrics", "v", "log-format", "dump-metrics"})

		fmt.Fprintf(out, "\nDashboard:\n")
		printFlagCategory(fs, out, []string{"tui"})

		fmt.Fprintf(out, "\nRun Control:\n")
		printFlagCategory(fs, out, []string{"timeout", "config", "skip-preflight"})

		fmt.Fprintf(out, `
Configuration Order:
  Defaults, then the -config YAML file, then command-line flags.

Examples:
  # Run every workload once
  kproc

  # Hammer a small process table
  kproc -workloads exhaust -procs 32

  # Shared workloads concurrently with a live dashboard
  kproc -parallel -tui -metrics 127.0.0.1:9100

`)
	}

	workloads := &nameList{names: &cfg.Workloads}

	// Workloads
	fs.Var(workloads, "workloads", `Comma-separated workloads to run, or "all"`)
	fs.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "Run shared workloads concurrently")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Children forked by widefork")
	fs.IntVar(&cfg.Depth, "depth", cfg.Depth, "Depth of the forktree binary tree")
	fs.IntVar(&cfg.Orphans, "orphans", cfg.Orphans, "Grandchildren orphaned by the orphans workload")
	fs.IntVar(&cfg.ExhaustLimit, "exhaust", cfg.ExhaustLimit, "Upper bound on forks attempted by exhaust")
	fs.DurationVar(&cfg.Jitter, "jitter", cfg.Jitter, "Maximum random pause inside workload children")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Jitter seed (0 = seed from time)")

	// Kernel limits
	fs.IntVar(&cfg.MaxProcs, "procs", cfg.MaxProcs, "Process table capacity")
	fs.IntVar(&cfg.MaxThreads, "threads", cfg.MaxThreads, "Live thread limit (0 = unlimited)")
	fs.IntVar(&cfg.MemoryPages, "memory-pages", cfg.MemoryPages, "Physical memory pages (0 = unlimited)")
	fs.IntVar(&cfg.ProcPages, "pages", cfg.ProcPages, "Pages in the init address space")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.DumpMetrics, "dump-metrics", cfg.DumpMetrics, "Print final metrics in Prometheus text format")

	// TUI
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	// Run control
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Abort the run after this long (0 = no limit)")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip capacity checks before boot")
	configFile := cfg.ConfigFile
	fs.StringVar(&configFile, "config", configFile, "YAML file applied before flags")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return cfg, nil
}

// configPath finds the -config value in args without parsing the rest.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// IsHelp reports whether err came from a -h or -help request.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, out io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(out, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(out)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
