package lifecycle

import (
	"fmt"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// Waitpid waits for the caller's child pid to exit, reaps it and returns its
// encoded status and pid.
//
// No options are supported. A pid that is not a current child of the caller
// fails with proc.ErrNoSuchChild whether it never existed, belongs to another
// process or was already reaped. The call blocks for as long as the child
// runs; there is no timeout.
func (m *Manager) Waitpid(t *thread.Thread, pid, options int) (wait.Status, int, error) {
	if options != 0 {
		return 0, 0, fmt.Errorf("waitpid: options %#x: %w", options, proc.ErrInvalidArgument)
	}
	if pid < 1 {
		return 0, 0, fmt.Errorf("waitpid: pid %d: %w", pid, proc.ErrInvalidArgument)
	}

	p := current(t)
	child := p.Child(pid)
	if child == nil {
		return 0, 0, fmt.Errorf("waitpid: pid %d: %w", pid, proc.ErrNoSuchChild)
	}

	start := time.Now()
	code, blocked, err := child.Reap()
	if err != nil {
		return 0, 0, fmt.Errorf("waitpid: %w", err)
	}
	waited := time.Since(start)

	if !p.RemoveChild(child) {
		panic(fmt.Sprintf("lifecycle: reaped %s missing from children of %s", child, p))
	}

	status := wait.Exited(code)
	m.logger.Debug("proc_reaped", "parent", p.PID(), "child", pid, "status", status.String(), "blocked", blocked)
	if m.callbacks.OnReap != nil {
		m.callbacks.OnReap(p.PID(), pid, status, waited, blocked)
	}
	m.destroy(child, ReclaimReaped)
	return status, pid, nil
}
