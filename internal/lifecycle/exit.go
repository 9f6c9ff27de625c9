package lifecycle

import (
	"time"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
)

// Exit terminates the calling process with code and never returns.
//
// The address space is torn down first, before anything a waiter can observe
// is published. OnExit fires next, so it precedes any reap or reclaim of
// the pid. The process then publishes its exit code, orphans its children,
// reclaims any of them that are already zombies, and wakes its parent. A process that has no parent at that point is destroyed right away;
// otherwise it stays resident until reaped. Finally the calling context
// terminates.
func (m *Manager) Exit(t *thread.Thread, code int) {
	p := current(t)

	if as := p.SetAddrSpace(nil); as != nil {
		as.Deactivate()
		as.Destroy()
	}

	t.Detach()

	m.logger.Debug("proc_exit", "pid", p.PID(), "code", code)
	if m.callbacks.OnExit != nil {
		m.callbacks.OnExit(p.PID(), code, time.Since(p.Created()))
	}

	parentless := p.MarkExited(code, func(c *proc.Proc) {
		m.logger.Debug("orphan_reclaimed", "pid", c.PID(), "parent", p.PID())
		m.destroy(c, ReclaimOrphan)
	})
	if parentless {
		m.destroy(p, ReclaimParentless)
	}

	t.Exit()
}
