package lifecycle

import (
	"fmt"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/thread"
)

// Boot creates a parentless process owning as and starts it running entry.
// The first boot process gets proc.RootPID. Returning from entry is
// equivalent to exit(0). On error the caller keeps ownership of as.
func (m *Manager) Boot(name string, as addrspace.Space, entry thread.Entry) (*thread.Thread, error) {
	p := proc.New(name)
	pid, err := m.table.AllocateRoot(p)
	if err != nil {
		return nil, fmt.Errorf("boot %s: %w", name, err)
	}
	p.SetAddrSpace(as)

	t, err := m.spawner.Fork(name, p, func(t *thread.Thread) {
		if as := t.Proc().AddrSpace(); as != nil {
			as.Activate()
		}
		entry(t)
		m.Exit(t, 0)
	})
	if err != nil {
		p.SetAddrSpace(nil)
		m.table.Release(pid)
		return nil, fmt.Errorf("boot %s: %w: %w", name, proc.ErrResourceExhausted, err)
	}

	m.logger.Info("proc_boot", "pid", pid, "name", name)
	return t, nil
}

// Fork creates a child of the calling process with a deep copy of its address
// space and trap frame, links it under the caller and starts it in enter.
// It returns the child's pid to the caller; the child context learns its own
// return value from the frame it is handed.
//
// Any failure unwinds completely: no table entry, no copied address space and
// no children entry survive.
func (m *Manager) Fork(t *thread.Thread, tf *thread.Trapframe, enter ForkEntry) (int, error) {
	parent := current(t)

	child := proc.New(parent.Name())
	pid, err := m.table.Allocate(child)
	if err != nil {
		return 0, m.forkFailed(parent, fmt.Errorf("fork: %w", err))
	}

	var childAS addrspace.Space
	if as := parent.AddrSpace(); as != nil {
		childAS, err = as.Copy()
		if err != nil {
			m.table.Release(pid)
			return 0, m.forkFailed(parent, fmt.Errorf("fork: %w: %w", proc.ErrOperationFailed, err))
		}
		child.SetAddrSpace(childAS)
	}

	childTF := tf.Clone()
	parent.AddChild(child)

	// The child waits until OnFork has fired so its exit is never reported
	// first.
	started := make(chan struct{})
	_, err = m.spawner.Fork(parent.Name(), child, func(ct *thread.Thread) {
		<-started
		if enter != nil {
			enter(ct, childTF)
		}
		m.Exit(ct, 0)
	})
	if err != nil {
		parent.RemoveChild(child)
		if childAS != nil {
			child.SetAddrSpace(nil)
			childAS.Destroy()
		}
		m.table.Release(pid)
		return 0, m.forkFailed(parent, fmt.Errorf("fork: %w: %w", proc.ErrResourceExhausted, err))
	}

	m.logger.Debug("proc_fork", "parent", parent.PID(), "child", pid)
	if m.callbacks.OnFork != nil {
		m.callbacks.OnFork(parent.PID(), pid)
	}
	close(started)
	return pid, nil
}

func (m *Manager) forkFailed(parent *proc.Proc, err error) error {
	m.logger.Warn("proc_fork_failed", "parent", parent.PID(), "error", err)
	if m.callbacks.OnForkFailed != nil {
		m.callbacks.OnForkFailed(parent.PID(), err)
	}
	return err
}
