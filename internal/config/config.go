// Package config provides configuration management for kproc.
package config

import "time"

// Config holds all configuration options for a run.
type Config struct {
	// Workloads
	Workloads    []string      `yaml:"workloads" json:"workloads"`
	Parallel     bool          `yaml:"parallel" json:"parallel"`
	Width        int           `yaml:"width" json:"width"`
	Depth        int           `yaml:"depth" json:"depth"`
	Orphans      int           `yaml:"orphans" json:"orphans"`
	ExhaustLimit int           `yaml:"exhaust_limit" json:"exhaust_limit"`
	Jitter       time.Duration `yaml:"jitter" json:"jitter"`
	Seed         int64         `yaml:"seed" json:"seed"` // 0 = seed from time

	// Kernel limits
	MaxProcs    int `yaml:"max_procs" json:"max_procs"`
	MaxThreads  int `yaml:"max_threads" json:"max_threads"`   // 0 = unlimited
	MemoryPages int `yaml:"memory_pages" json:"memory_pages"` // 0 = unlimited
	ProcPages   int `yaml:"proc_pages" json:"proc_pages"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"` // "" = disabled
	Verbose     bool   `yaml:"verbose" json:"verbose"`
	LogFormat   string `yaml:"log_format" json:"log_format"` // json, text
	TUIEnabled  bool   `yaml:"tui" json:"tui"`
	DumpMetrics bool   `yaml:"dump_metrics" json:"dump_metrics"`

	// Timeout bounds the whole run; 0 waits forever.
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	SkipPreflight bool          `yaml:"skip_preflight" json:"skip_preflight"`

	// ConfigFile is the file the configuration was loaded from, if any.
	ConfigFile string `yaml:"-" json:"config_file,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Workloads
		Workloads:    []string{"all"},
		Parallel:     false,
		Width:        16,
		Depth:        4,
		Orphans:      8,
		ExhaustLimit: 4096,
		Jitter:       2 * time.Millisecond,

		// Kernel limits
		MaxProcs:    256,
		MaxThreads:  0,
		MemoryPages: 0,
		ProcPages:   2,

		// Observability
		MetricsAddr: "",
		Verbose:     false,
		LogFormat:   "text",
		TUIEnabled:  false,
		DumpMetrics: false,

		Timeout:       time.Minute,
		SkipPreflight: false,
	}
}
