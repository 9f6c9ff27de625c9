package lifecycle

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

const testTimeout = 5 * time.Second

// =============================================================================
// Test harness
// =============================================================================

type reapEvent struct {
	parent, child int
	status        wait.Status
	blocked       bool
}

// recorder captures lifecycle callbacks.
type recorder struct {
	mu       sync.Mutex
	forks    int
	failures []error
	exits    map[int]int
	reaps    []reapEvent
	reclaims map[int]ReclaimCause
	events   map[int][]string
}

func newRecorder() *recorder {
	return &recorder{
		exits:    make(map[int]int),
		reclaims: make(map[int]ReclaimCause),
		events:   make(map[int][]string),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnFork: func(_, child int) {
			r.mu.Lock()
			r.forks++
			r.events[child] = append(r.events[child], "fork")
			r.mu.Unlock()
		},
		OnForkFailed: func(_ int, err error) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
		},
		OnExit: func(pid, code int, _ time.Duration) {
			r.mu.Lock()
			r.exits[pid] = code
			r.events[pid] = append(r.events[pid], "exit")
			r.mu.Unlock()
		},
		OnReap: func(parent, child int, status wait.Status, _ time.Duration, blocked bool) {
			r.mu.Lock()
			r.reaps = append(r.reaps, reapEvent{parent, child, status, blocked})
			r.events[child] = append(r.events[child], "reap")
			r.mu.Unlock()
		},
		OnReclaim: func(pid int, cause ReclaimCause) {
			r.mu.Lock()
			r.reclaims[pid] = cause
			r.events[pid] = append(r.events[pid], "reclaim")
			r.mu.Unlock()
		},
	}
}

func (r *recorder) reclaimCause(pid int) ReclaimCause {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reclaims[pid]
}

// eventsOf returns the callbacks seen for pid, in order.
func (r *recorder) eventsOf(pid int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events[pid]...)
}

func (r *recorder) reapOf(child int) (reapEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.reaps {
		if e.child == child {
			return e, true
		}
	}
	return reapEvent{}, false
}

type harness struct {
	m     *Manager
	sched *thread.Scheduler
	pool  *addrspace.Pool
	table *proc.Table
	rec   *recorder
}

type harnessConfig struct {
	capacity  int
	poolPages int
	spawner   Spawner
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		sched: thread.NewScheduler(0, logger),
		pool:  addrspace.NewPool(cfg.poolPages),
		table: proc.NewTable(cfg.capacity),
		rec:   newRecorder(),
	}
	spawner := cfg.spawner
	if spawner == nil {
		spawner = h.sched
	}
	h.m = New(Config{
		Table:     h.table,
		Spawner:   spawner,
		Logger:    logger,
		Callbacks: h.rec.callbacks(),
	})
	return h
}

// boot starts a root process with a two-page address space.
func (h *harness) boot(t *testing.T, entry thread.Entry) *thread.Thread {
	t.Helper()
	as, err := h.pool.New(2)
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	th, err := h.m.Boot("init", as, entry)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	return th
}

// quiesce waits for every thread to finish and checks nothing leaked.
func (h *harness) quiesce(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("threads still live after %s: %d", testTimeout, h.sched.Live())
	}
	if n := h.table.Len(); n != 0 {
		t.Errorf("table has %d records after quiescence: %+v", n, h.table.Snapshot())
	}
	if n := h.pool.InUse(); n != 0 {
		t.Errorf("pool has %d pages in use after quiescence", n)
	}
}

// awaitState polls the table until pid reaches want.
func (h *harness) awaitState(t *testing.T, pid int, want proc.State) bool {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		for _, info := range h.table.Snapshot() {
			if info.PID == pid && info.State == want {
				return true
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Errorf("pid %d never reached state %s", pid, want)
	return false
}

func (h *harness) info(pid int) (proc.Info, bool) {
	for _, info := range h.table.Snapshot() {
		if info.PID == pid {
			return info, true
		}
	}
	return proc.Info{}, false
}

// exitWith returns a fork entry that exits immediately with code.
func (h *harness) exitWith(code int) ForkEntry {
	return func(t *thread.Thread, _ *thread.Trapframe) {
		h.m.Exit(t, code)
	}
}

// exitAfter returns a fork entry that exits with code once release is closed.
func (h *harness) exitAfter(release <-chan struct{}, code int) ForkEntry {
	return func(t *thread.Thread, _ *thread.Trapframe) {
		<-release
		h.m.Exit(t, code)
	}
}

// failingSpawner refuses to start threads.
type failingSpawner struct {
	inner   Spawner
	failing func() bool
}

func (f *failingSpawner) Fork(name string, p *proc.Proc, entry thread.Entry) (*thread.Thread, error) {
	if f.failing() {
		return nil, thread.ErrTooManyThreads
	}
	return f.inner.Fork(name, p, entry)
}
