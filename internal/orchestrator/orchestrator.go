// Package orchestrator boots the kernel, runs the selected workloads under
// init and reports on the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/config"
	"github.com/randomizedcoder/go-kproc/internal/lifecycle"
	"github.com/randomizedcoder/go-kproc/internal/logging"
	"github.com/randomizedcoder/go-kproc/internal/metrics"
	"github.com/randomizedcoder/go-kproc/internal/preflight"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/syscalls"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/tui"
	"github.com/randomizedcoder/go-kproc/internal/user"
	"github.com/randomizedcoder/go-kproc/internal/workload"
)

const (
	// gaugeInterval is how often occupancy gauges are refreshed.
	gaugeInterval = 100 * time.Millisecond

	// eventLines is how many recent log lines a snapshot carries.
	eventLines = 20

	shutdownTimeout = 5 * time.Second
)

var (
	// ErrTimeout is returned when the workloads outlive the configured timeout.
	ErrTimeout = errors.New("run timed out")

	// ErrInterrupted is returned when the run is stopped by a signal or by
	// quitting the dashboard.
	ErrInterrupted = errors.New("run interrupted")

	// ErrPreflight is returned when the configuration cannot fit its workloads.
	ErrPreflight = errors.New("preflight checks failed (use -skip-preflight to override)")

	// ErrLeak is returned when records or pages survive a finished run.
	ErrLeak = errors.New("kernel resources leaked")
)

// Orchestrator coordinates all components for a run.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	events *logging.Ring
	out    io.Writer

	pool       *addrspace.Pool
	table      *proc.Table
	sched      *thread.Scheduler
	manager    *lifecycle.Manager
	dispatcher *syscalls.Dispatcher

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	workloads []workload.Workload
	params    workload.Params
	report    *workload.Report

	startTime time.Time
	done      atomic.Bool
}

// New creates an Orchestrator for a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, err := workload.Lookup(cfg.Workloads)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	table := proc.NewTable(cfg.MaxProcs)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{TableCapacity: table.Capacity()}, registry)
	sched := thread.NewScheduler(cfg.MaxThreads, logger)

	callbacks := collector.Callbacks()
	onFork := callbacks.OnFork
	callbacks.OnFork = func(parentPID, childPID int) {
		onFork(parentPID, childPID)
		collector.ObserveLive(table.Len())
	}
	manager := lifecycle.New(lifecycle.Config{
		Table:     table,
		Spawner:   sched,
		Logger:    logger,
		Callbacks: callbacks,
	})

	jitter := workload.NewJitterSource(cfg.Seed)
	if cfg.Seed == 0 {
		jitter = workload.NewJitterSourceFromTime()
	}

	o := &Orchestrator{
		config:     cfg,
		logger:     logger,
		out:        os.Stdout,
		pool:       addrspace.NewPool(cfg.MemoryPages),
		table:      table,
		sched:      sched,
		manager:    manager,
		dispatcher: syscalls.New(manager, logger),
		registry:   registry,
		metrics:    collector,
		workloads:  ws,
		params: workload.Params{
			Width:        cfg.Width,
			Depth:        cfg.Depth,
			Orphans:      cfg.Orphans,
			ExhaustLimit: cfg.ExhaustLimit,
			MaxJitter:    cfg.Jitter,
			Jitter:       jitter,
			Logger:       logger,
		},
		report: workload.NewReport(),
	}

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, table.Snapshot, logger)
	}
	return o, nil
}

// SetEvents attaches the ring of recent log lines shown by the dashboard.
func (o *Orchestrator) SetEvents(r *logging.Ring) {
	o.events = r
}

// SetOutput redirects the exit summary and metric dump. The default is stdout.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run boots init over the configured workloads and blocks until every
// process has finished, the timeout passes or the run is interrupted.
// The returned error joins run failures with failed workloads.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result, err := preflight.RunAll(o.config)
		if err != nil {
			return err
		}
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflight
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer o.shutdownMetrics()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	if err := o.boot(); err != nil {
		return err
	}

	kernelDone := make(chan struct{})
	go func() {
		o.sched.Wait()
		o.done.Store(true)
		close(kernelDone)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-kernelDone:
			o.refreshGauges()
			o.logger.Info("workloads_complete",
				"workloads", len(o.workloads),
				"failed", o.report.Failed(),
				"elapsed", time.Since(o.startTime).String(),
			)
			return nil
		case <-gctx.Done():
			return o.abortReason(ctx)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(gaugeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.refreshGauges()
			case <-kernelDone:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})

	if o.config.TUIEnabled {
		g.Go(func() error {
			return o.runTUI(gctx, kernelDone)
		})
	}

	runErr := g.Wait()

	if runErr == nil {
		runErr = o.checkLeaks()
	} else {
		o.logger.Warn("run_stopped", "error", runErr, "live_threads", o.sched.Live(), "records", o.table.Len())
	}

	o.printExitSummary()
	if o.config.DumpMetrics {
		if err := metrics.WriteText(o.out, o.registry); err != nil {
			o.logger.Warn("metrics_dump_failed", "error", err)
		}
	}

	return errors.Join(runErr, o.report.Err())
}

// boot creates init with its address space.
func (o *Orchestrator) boot() error {
	as, err := o.pool.New(o.config.ProcPages)
	if err != nil {
		return fmt.Errorf("init address space: %w", err)
	}

	o.logger.Info("kernel_booting",
		"workloads", o.workloadNames(),
		"parallel", o.config.Parallel,
		"max_procs", o.table.Capacity(),
		"max_threads", o.config.MaxThreads,
		"memory_pages", o.pool.Capacity(),
	)

	program := workload.Init(o.workloads, o.params, o.config.Parallel, o.report)
	if _, err := user.Boot(o.dispatcher, "init", as, program); err != nil {
		as.Destroy()
		return err
	}
	return nil
}

func (o *Orchestrator) workloadNames() []string {
	names := make([]string, len(o.workloads))
	for i, w := range o.workloads {
		names[i] = w.Name
	}
	return names
}

// abortReason maps the cancelled parent context to a run error.
func (o *Orchestrator) abortReason(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.logger.Error("run_timeout", "timeout", o.config.Timeout.String())
		return fmt.Errorf("%w after %s", ErrTimeout, o.config.Timeout)
	}
	o.logger.Info("run_interrupted")
	return ErrInterrupted
}

// runTUI runs the dashboard until the user quits or the group is cancelled.
// Quitting before the workloads finish interrupts the run.
func (o *Orchestrator) runTUI(ctx context.Context, kernelDone <-chan struct{}) error {
	model := tui.New(tui.Config{
		Capacity:    o.table.Capacity(),
		Workloads:   len(o.workloads),
		MetricsAddr: o.config.MetricsAddr,
		Source:      o,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		select {
		case <-kernelDone:
			tui.SendSnapshot(p, o.Snapshot())
		case <-ctx.Done():
			tui.SendQuit(p)
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	if !o.done.Load() && ctx.Err() == nil {
		return ErrInterrupted
	}
	return nil
}

func (o *Orchestrator) refreshGauges() {
	g := metrics.GaugesFromSnapshot(o.table.Snapshot())
	g.Threads = o.sched.Live()
	g.PagesInUse = o.pool.InUse()
	o.metrics.SetGauges(g)
}

// checkLeaks verifies that a finished run left nothing behind.
func (o *Orchestrator) checkLeaks() error {
	var errs []error
	if n := o.table.Len(); n != 0 {
		errs = append(errs, fmt.Errorf("%w: %d process records", ErrLeak, n))
	}
	if n := o.pool.InUse(); n != 0 {
		errs = append(errs, fmt.Errorf("%w: %d memory pages", ErrLeak, n))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) shutdownMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// Snapshot returns the current dashboard view of the kernel.
func (o *Orchestrator) Snapshot() *tui.Snapshot {
	s := &tui.Snapshot{
		Procs:        o.table.Snapshot(),
		Threads:      o.sched.Live(),
		PagesInUse:   o.pool.InUse(),
		PageCapacity: o.pool.Capacity(),
		Summary:      o.metrics.GenerateSummary(),
		Results:      o.report.Results(),
		Done:         o.done.Load(),
	}
	if o.events != nil {
		s.Events = o.events.RecentLines(eventLines)
	}
	return s
}

// Report returns the per-workload results.
func (o *Orchestrator) Report() *workload.Report {
	return o.report
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the registry the collector is registered with.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// MetricsAddr returns the metrics server's listening address, or "" when
// the server is disabled.
func (o *Orchestrator) MetricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}
