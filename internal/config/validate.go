package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

const (
	// minProcs leaves room for init and one workload driver.
	minProcs = 2

	// maxProcs is every allocatable pid plus the root.
	maxProcs = proc.PIDMax - proc.PIDMin + 2

	// maxDepth keeps forktree within the largest process table.
	maxDepth = 12
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.Workloads) == 0 {
		errs = append(errs, ValidationError{
			Field:   "workloads",
			Message: "at least one workload is required",
		})
	} else if _, err := workload.Lookup(cfg.Workloads); err != nil {
		errs = append(errs, ValidationError{
			Field:   "workloads",
			Message: err.Error(),
		})
	}

	// Kernel limits
	if cfg.MaxProcs < minProcs || cfg.MaxProcs > maxProcs {
		errs = append(errs, ValidationError{
			Field:   "max_procs",
			Message: fmt.Sprintf("must be between %d and %d (got %d)", minProcs, maxProcs, cfg.MaxProcs),
		})
	}
	if cfg.MaxThreads < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_threads",
			Message: "must not be negative",
		})
	} else if cfg.MaxThreads > 0 && cfg.MaxThreads < minProcs {
		errs = append(errs, ValidationError{
			Field:   "max_threads",
			Message: fmt.Sprintf("must be 0 (unlimited) or at least %d", minProcs),
		})
	}
	if cfg.ProcPages < 1 {
		errs = append(errs, ValidationError{
			Field:   "proc_pages",
			Message: "must be at least 1",
		})
	}
	if cfg.MemoryPages < 0 {
		errs = append(errs, ValidationError{
			Field:   "memory_pages",
			Message: "must not be negative",
		})
	} else if cfg.MemoryPages > 0 && cfg.MemoryPages < minProcs*cfg.ProcPages {
		// init and its first driver each need a full copy.
		errs = append(errs, ValidationError{
			Field:   "memory_pages",
			Message: fmt.Sprintf("must be 0 (unlimited) or at least %d for %d-page processes", minProcs*cfg.ProcPages, cfg.ProcPages),
		})
	}

	// Workload parameters
	if cfg.Width < 1 {
		errs = append(errs, ValidationError{
			Field:   "width",
			Message: "must be at least 1",
		})
	}
	if cfg.Depth < 0 || cfg.Depth > maxDepth {
		errs = append(errs, ValidationError{
			Field:   "depth",
			Message: fmt.Sprintf("must be between 0 and %d (got %d)", maxDepth, cfg.Depth),
		})
	}
	if cfg.Orphans < 0 {
		errs = append(errs, ValidationError{
			Field:   "orphans",
			Message: "must not be negative",
		})
	}
	if cfg.ExhaustLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "exhaust_limit",
			Message: "must be at least 1",
		})
	}
	if cfg.Jitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "jitter",
			Message: "must not be negative",
		})
	}

	// Observability
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must not be negative",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateAddr checks for a host:port listen address.
func validateAddr(addr string) error {
	if strings.Contains(addr, "://") {
		return errors.New("must be host:port, not a URL")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}
