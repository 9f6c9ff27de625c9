package workload

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/user"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// Result is the outcome of one workload.
type Result struct {
	Workload string
	PID      int
	Status   wait.Status
	Elapsed  time.Duration
	Err      error
}

// Passed reports whether the driver exited 0 without error.
func (r Result) Passed() bool {
	return r.Err == nil && r.Status == wait.Exited(0)
}

// Report collects workload results. It is safe for concurrent use.
type Report struct {
	mu      sync.Mutex
	order   []string
	results map[string]*Result
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{results: make(map[string]*Result)}
}

func (r *Report) entry(name string) *Result {
	res, ok := r.results[name]
	if !ok {
		res = &Result{Workload: name}
		r.results[name] = res
		r.order = append(r.order, name)
	}
	return res
}

func (r *Report) setErr(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.entry(name)
	res.Err = errors.Join(res.Err, err)
}

func (r *Report) finish(name string, pid int, status wait.Status, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.entry(name)
	res.PID = pid
	res.Status = status
	res.Elapsed = elapsed
	if status != wait.Exited(0) && res.Err == nil {
		res.Err = fmt.Errorf("driver %s", status)
	}
}

// Results returns a copy of the results in the order workloads started.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.results[name])
	}
	return out
}

// Failed returns the number of workloads that did not pass.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results() {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed workload.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results() {
		if !res.Passed() {
			errs = append(errs, fmt.Errorf("%s: %w", res.Workload, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Init returns the init program. It forks one driver process per workload,
// reaps each and records the outcome in report. With parallel set all
// non-exclusive drivers run at once; exclusive ones always run alone
// afterwards.
func Init(ws []Workload, p Params, parallel bool, report *Report) user.Program {
	return func(env *user.Env) {
		var shared, exclusive []Workload
		for _, w := range ws {
			if w.Exclusive {
				exclusive = append(exclusive, w)
			} else {
				shared = append(shared, w)
			}
		}

		if parallel {
			runBatch(env, shared, p, report)
		} else {
			for _, w := range shared {
				runBatch(env, []Workload{w}, p, report)
			}
		}
		for _, w := range exclusive {
			runBatch(env, []Workload{w}, p, report)
		}
	}
}

type running struct {
	w     Workload
	pid   int
	start time.Time
}

func runBatch(env *user.Env, ws []Workload, p Params, report *Report) {
	log := p.logger()
	var started []running
	for _, w := range ws {
		start := time.Now()
		pid, err := env.Fork(func(c *user.Env) {
			if err := w.Run(c, p); err != nil {
				report.setErr(w.Name, err)
				c.Exit(1)
			}
			c.Exit(0)
		})
		if err != nil {
			log.Error("workload_fork_failed", "workload", w.Name, "error", err)
			report.setErr(w.Name, fmt.Errorf("fork driver: %w", err))
			report.finish(w.Name, 0, wait.Exited(1), 0)
			continue
		}
		log.Info("workload_start", "workload", w.Name, "pid", pid)
		started = append(started, running{w: w, pid: pid, start: start})
	}

	for _, r := range started {
		status, _, err := env.Waitpid(r.pid, 0)
		if err != nil {
			report.setErr(r.w.Name, fmt.Errorf("waitpid driver: %w", err))
		}
		elapsed := time.Since(r.start)
		report.finish(r.w.Name, r.pid, status, elapsed)
		log.Info("workload_done", "workload", r.w.Name, "pid", r.pid, "status", status.String(), "elapsed", elapsed)
	}
}
