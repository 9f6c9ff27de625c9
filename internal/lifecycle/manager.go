// Package lifecycle implements fork, exit and waitpid over process records.
//
// # Locking protocol
//
// Each record's lock guards its state, exit code, parent and children.
// Exit publishes the exit code, orphans the children and wakes waiters
// while holding the exiting record's lock; waitpid checks and sleeps under
// the same lock. A wakeup therefore cannot be missed and a record cannot be
// claimed twice. Orphaning writes a child's parent link under the child's
// lock, nested inside the parent's. No path nests a parent's lock inside a
// child's, so the tree order rules out deadlock.
package lifecycle

import (
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// Spawner starts execution contexts. *thread.Scheduler implements it.
type Spawner interface {
	Fork(name string, p *proc.Proc, entry thread.Entry) (*thread.Thread, error)
}

// ForkEntry is where a forked child starts running, with its own copy of the
// parent's trap frame. Returning from it is equivalent to exit(0).
type ForkEntry func(t *thread.Thread, tf *thread.Trapframe)

// ReclaimCause says why a record was destroyed.
type ReclaimCause string

const (
	// ReclaimReaped is a destruction by the parent's waitpid.
	ReclaimReaped ReclaimCause = "reaped"

	// ReclaimOrphan is a zombie destroyed because its parent exited.
	ReclaimOrphan ReclaimCause = "orphan"

	// ReclaimParentless is a process destroyed at its own exit because it
	// had no parent by then.
	ReclaimParentless ReclaimCause = "parentless"
)

// Callbacks contains optional callback functions for lifecycle events.
// They run on the calling execution context, sometimes with process locks
// held, and must not call back into the Manager.
//
// For any one pid they fire in order: OnFork, OnExit, OnReap (when
// reaped), OnReclaim. The pid is not reused until OnReclaim returns.
type Callbacks struct {
	// OnFork is called after a child starts.
	OnFork func(parentPID, childPID int)

	// OnForkFailed is called when fork is unwound.
	OnForkFailed func(parentPID int, err error)

	// OnExit is called as a process exits, just before its exit code is published.
	OnExit func(pid, code int, lifetime time.Duration)

	// OnReap is called when waitpid returns a status.
	OnReap func(parentPID, childPID int, status wait.Status, waited time.Duration, blocked bool)

	// OnReclaim is called when a record is destroyed.
	OnReclaim func(pid int, cause ReclaimCause)
}

// Config holds configuration for creating a Manager.
type Config struct {
	Table     *proc.Table
	Spawner   Spawner
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Manager implements the process lifecycle system calls.
type Manager struct {
	table     *proc.Table
	spawner   Spawner
	logger    *slog.Logger
	callbacks Callbacks
}

// New creates a Manager. A nil Table gets a default-size table, a nil Spawner
// an unlimited scheduler, and a nil Logger slog.Default().
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := cfg.Table
	if table == nil {
		table = proc.NewTable(0)
	}
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = thread.NewScheduler(0, logger)
	}
	return &Manager{
		table:     table,
		spawner:   spawner,
		logger:    logger,
		callbacks: cfg.Callbacks,
	}
}

// Table returns the process table.
func (m *Manager) Table() *proc.Table {
	return m.table
}

// Getpid returns the caller's process identifier.
func (m *Manager) Getpid(t *thread.Thread) int {
	return current(t).PID()
}

// destroy releases a record that has reached StateReaped. OnReclaim fires
// before the pid returns to the table.
func (m *Manager) destroy(p *proc.Proc, cause ReclaimCause) {
	m.logger.Debug("proc_destroyed", "pid", p.PID(), "cause", string(cause))
	if m.callbacks.OnReclaim != nil {
		m.callbacks.OnReclaim(p.PID(), cause)
	}
	m.table.Release(p.PID())
}

func current(t *thread.Thread) *proc.Proc {
	p := t.Proc()
	if p == nil {
		panic("lifecycle: thread " + t.Name() + " has no process")
	}
	return p
}
