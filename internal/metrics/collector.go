// Package metrics provides Prometheus metrics for the process lifecycle.
//
// Counters and histograms are driven by lifecycle callbacks; gauges are
// refreshed from table snapshots. The collector also keeps the totals and
// quantile digests used for the exit summary.
package metrics

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/lifecycle"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// Fork failure reasons.
const (
	ReasonTableFull = "table_full"
	ReasonNoMemory  = "no_memory"
	ReasonNoThread  = "no_thread"
	ReasonOther     = "other"
)

// SignalExitBase is the shell convention for exit codes that report a
// signal: 128 plus the signal number.
const SignalExitBase = 128

// Exit categories.
const (
	CategorySuccess = "success"
	CategoryError   = "error"
	CategorySignal  = "signal"
)

// Collector manages all Prometheus metrics for the kernel.
type Collector struct {
	// --- Panel 1: Process table ---
	liveProcesses   prometheus.Gauge
	zombieProcesses prometheus.Gauge
	tableCapacity   prometheus.Gauge
	liveThreads     prometheus.Gauge
	pagesInUse      prometheus.Gauge

	// --- Panel 2: Lifecycle events ---
	forksTotal        prometheus.Counter
	forkFailuresTotal *prometheus.CounterVec
	exitsTotal        *prometheus.CounterVec
	reapsTotal        prometheus.Counter
	reclaimsTotal     *prometheus.CounterVec

	// --- Panel 3: Latency ---
	waitDuration    *prometheus.HistogramVec
	processLifetime prometheus.Histogram

	startTime time.Time

	// For summary generation
	mu             sync.Mutex
	peakLive       int
	totalForks     int64
	forkFailures   map[string]int64
	totalReaps     int64
	blockedReaps   int64
	reclaims       map[string]int64
	exitCodes      map[int]int64
	waitDigest     *tdigest.TDigest
	lifetimeDigest *tdigest.TDigest
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	TableCapacity int
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		liveProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kproc_live_processes",
			Help: "Process records currently in the table, zombies included",
		}),
		zombieProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kproc_zombie_processes",
			Help: "Exited processes waiting to be reaped",
		}),
		tableCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kproc_table_capacity",
			Help: "Maximum number of live process records",
		}),
		liveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kproc_live_threads",
			Help: "Execution contexts currently running",
		}),
		pagesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kproc_memory_pages_in_use",
			Help: "Address space pages currently allocated",
		}),
		forksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kproc_forks_total",
			Help: "Successful forks",
		}),
		forkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kproc_fork_failures_total",
			Help: "Forks that were unwound, by reason",
		}, []string{"reason"}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kproc_exits_total",
			Help: "Process exits by category",
		}, []string{"category"}),
		reapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kproc_reaps_total",
			Help: "Children reaped by waitpid",
		}),
		reclaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kproc_reclaims_total",
			Help: "Process records destroyed, by cause",
		}, []string{"cause"}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kproc_wait_duration_seconds",
			Help:    "Time waitpid spent before returning a status",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"blocked"}),
		processLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kproc_process_lifetime_seconds",
			Help:    "Time from process creation to exit",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		startTime:      time.Now(),
		forkFailures:   make(map[string]int64),
		reclaims:       make(map[string]int64),
		exitCodes:      make(map[int]int64),
		waitDigest:     tdigest.NewWithCompression(100),
		lifetimeDigest: tdigest.NewWithCompression(100),
	}

	registry.MustRegister(
		c.liveProcesses,
		c.zombieProcesses,
		c.tableCapacity,
		c.liveThreads,
		c.pagesInUse,
		c.forksTotal,
		c.forkFailuresTotal,
		c.exitsTotal,
		c.reapsTotal,
		c.reclaimsTotal,
		c.waitDuration,
		c.processLifetime,
	)

	c.tableCapacity.Set(float64(cfg.TableCapacity))
	return c
}

// Callbacks returns lifecycle callbacks that feed the collector.
func (c *Collector) Callbacks() lifecycle.Callbacks {
	return lifecycle.Callbacks{
		OnFork:       func(int, int) { c.RecordFork() },
		OnForkFailed: func(_ int, err error) { c.RecordForkFailure(err) },
		OnExit:       func(_ int, code int, lifetime time.Duration) { c.RecordExit(code, lifetime) },
		OnReap: func(_, _ int, status wait.Status, waited time.Duration, blocked bool) {
			c.RecordReap(status, waited, blocked)
		},
		OnReclaim: func(_ int, cause lifecycle.ReclaimCause) { c.RecordReclaim(cause) },
	}
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordFork records a successful fork.
func (c *Collector) RecordFork() {
	c.forksTotal.Inc()

	c.mu.Lock()
	c.totalForks++
	c.mu.Unlock()
}

// RecordForkFailure records an unwound fork.
func (c *Collector) RecordForkFailure(err error) {
	reason := ForkFailureReason(err)
	c.forkFailuresTotal.WithLabelValues(reason).Inc()

	c.mu.Lock()
	c.forkFailures[reason]++
	c.mu.Unlock()
}

// ForkFailureReason classifies a fork error for the reason label.
func ForkFailureReason(err error) string {
	switch {
	case errors.Is(err, thread.ErrTooManyThreads):
		return ReasonNoThread
	case errors.Is(err, addrspace.ErrOutOfMemory), errors.Is(err, proc.ErrOperationFailed):
		return ReasonNoMemory
	case errors.Is(err, proc.ErrResourceExhausted):
		return ReasonTableFull
	default:
		return ReasonOther
	}
}

// ExitCategory classifies an exit code.
func ExitCategory(code int) string {
	switch {
	case code == 0:
		return CategorySuccess
	case code > SignalExitBase:
		return CategorySignal
	default:
		return CategoryError
	}
}

// RecordExit records a process exit.
func (c *Collector) RecordExit(code int, lifetime time.Duration) {
	c.exitsTotal.WithLabelValues(ExitCategory(code)).Inc()
	c.processLifetime.Observe(lifetime.Seconds())

	c.mu.Lock()
	c.exitCodes[code]++
	c.lifetimeDigest.Add(lifetime.Seconds(), 1)
	c.mu.Unlock()
}

// RecordReap records a waitpid that returned a status.
func (c *Collector) RecordReap(_ wait.Status, waited time.Duration, blocked bool) {
	c.reapsTotal.Inc()
	c.waitDuration.WithLabelValues(strconv.FormatBool(blocked)).Observe(waited.Seconds())

	c.mu.Lock()
	c.totalReaps++
	if blocked {
		c.blockedReaps++
	}
	c.waitDigest.Add(waited.Seconds(), 1)
	c.mu.Unlock()
}

// RecordReclaim records a destroyed process record.
func (c *Collector) RecordReclaim(cause lifecycle.ReclaimCause) {
	c.reclaimsTotal.WithLabelValues(string(cause)).Inc()

	c.mu.Lock()
	c.reclaims[string(cause)]++
	c.mu.Unlock()
}

// =============================================================================
// Gauges
// =============================================================================

// Gauges is a point-in-time view of kernel occupancy.
type Gauges struct {
	Live       int
	Zombies    int
	Threads    int
	PagesInUse int
}

// GaugesFromSnapshot counts live and zombie records in infos.
func GaugesFromSnapshot(infos []proc.Info) Gauges {
	g := Gauges{Live: len(infos)}
	for _, info := range infos {
		if info.State == proc.StateExited {
			g.Zombies++
		}
	}
	return g
}

// SetGauges updates the occupancy gauges.
func (c *Collector) SetGauges(g Gauges) {
	c.liveProcesses.Set(float64(g.Live))
	c.zombieProcesses.Set(float64(g.Zombies))
	c.liveThreads.Set(float64(g.Threads))
	c.pagesInUse.Set(float64(g.PagesInUse))

	c.mu.Lock()
	if g.Live > c.peakLive {
		c.peakLive = g.Live
	}
	c.mu.Unlock()
}

// ObserveLive raises the peak live count without touching the gauges.
// It lets fork-time counts reach the summary between gauge refreshes.
func (c *Collector) ObserveLive(n int) {
	c.mu.Lock()
	if n > c.peakLive {
		c.peakLive = n
	}
	c.mu.Unlock()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration      time.Duration
	PeakLive      int
	TotalForks    int64
	ForkFailures  map[string]int64
	TotalReaps    int64
	BlockedReaps  int64
	Reclaims      map[string]int64
	ExitCodes     map[int]int64
	WaitP50       time.Duration
	WaitP95       time.Duration
	WaitP99       time.Duration
	LifetimeP50   time.Duration
	LifetimeP95   time.Duration
	LifetimeP99   time.Duration
	TotalExits    int64
	TotalReclaims int64
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:     time.Since(c.startTime),
		PeakLive:     c.peakLive,
		TotalForks:   c.totalForks,
		ForkFailures: make(map[string]int64, len(c.forkFailures)),
		TotalReaps:   c.totalReaps,
		BlockedReaps: c.blockedReaps,
		Reclaims:     make(map[string]int64, len(c.reclaims)),
		ExitCodes:    make(map[int]int64, len(c.exitCodes)),
	}
	for reason, n := range c.forkFailures {
		s.ForkFailures[reason] = n
	}
	for cause, n := range c.reclaims {
		s.Reclaims[cause] = n
		s.TotalReclaims += n
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
		s.TotalExits += n
	}

	if c.totalReaps > 0 {
		s.WaitP50 = seconds(c.waitDigest.Quantile(0.50))
		s.WaitP95 = seconds(c.waitDigest.Quantile(0.95))
		s.WaitP99 = seconds(c.waitDigest.Quantile(0.99))
	}
	if s.TotalExits > 0 {
		s.LifetimeP50 = seconds(c.lifetimeDigest.Quantile(0.50))
		s.LifetimeP95 = seconds(c.lifetimeDigest.Quantile(0.95))
		s.LifetimeP99 = seconds(c.lifetimeDigest.Quantile(0.99))
	}
	return s
}

// PeakLive returns the highest live process count seen by SetGauges.
func (c *Collector) PeakLive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakLive
}

// TotalForks returns the number of successful forks.
func (c *Collector) TotalForks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalForks
}

// WriteText writes every metric gathered from g in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
