package proc

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
)

// Proc is the record of one live or not-yet-reaped process.
//
// The lock protects state, exit code, parent and children. The parent link is
// a weak back-reference: it is written by the parent (on fork and on the
// parent's exit) but always under the child's own lock. The children slice is
// the owning edge and is only modified by the owning process's context.
//
// Nested locking always goes from a process to one of its children, never the
// other way round.
type Proc struct {
	name    string
	created time.Time

	// pid is assigned by the table before the record is shared and never
	// changes afterwards.
	pid int

	mu       sync.Mutex
	wchan    *WaitChannel
	state    State
	exitCode int
	parent   *Proc
	children []*Proc

	as      addrspace.Space
	threads int
}

// Info is a point-in-time view of a record for observation.
type Info struct {
	PID      int
	PPID     int
	Name     string
	State    State
	Children int
	Threads  int
	Waiters  int
	Created  time.Time
}

// New creates an unregistered running record.
func New(name string) *Proc {
	p := &Proc{name: name, created: time.Now()}
	p.wchan = NewWaitChannel(name, &p.mu)
	return p
}

// PID returns the process identifier, or 0 before registration.
func (p *Proc) PID() int { return p.pid }

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// Created returns the creation time.
func (p *Proc) Created() time.Time { return p.created }

func (p *Proc) String() string {
	return fmt.Sprintf("%s[%d]", p.name, p.pid)
}

// State returns the current lifecycle state.
func (p *Proc) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Parent returns the parent record, or nil if orphaned or a root.
func (p *Proc) Parent() *Proc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Children returns the pids of unreaped children in fork order.
func (p *Proc) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pids := make([]int, len(p.children))
	for i, c := range p.children {
		pids[i] = c.pid
	}
	return pids
}

// Info returns a snapshot of the record.
func (p *Proc) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		PID:      p.pid,
		Name:     p.name,
		State:    p.state,
		Children: len(p.children),
		Threads:  p.threads,
		Waiters:  p.wchan.Sleepers(),
		Created:  p.created,
	}
	if p.parent != nil {
		info.PPID = p.parent.pid
	}
	return info
}

// AddrSpace returns the current address space.
func (p *Proc) AddrSpace() addrspace.Space {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.as
}

// SetAddrSpace installs as and returns the previous space.
func (p *Proc) SetAddrSpace(as addrspace.Space) addrspace.Space {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.as
	p.as = as
	return old
}

// AttachThread records one more execution context running in the process.
func (p *Proc) AttachThread() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads++
}

// DetachThread records that an execution context left the process.
func (p *Proc) DetachThread() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.threads == 0 {
		panic(fmt.Sprintf("proc: %s: detaching thread from process with no threads", p))
	}
	p.threads--
}

// Threads returns the number of attached execution contexts.
func (p *Proc) Threads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads
}

// AddChild links c under p. c must be a fresh running record with no parent.
func (p *Proc) AddChild(c *Proc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.mu.Lock()
	if c.parent != nil || c.state != StateRunning {
		c.mu.Unlock()
		panic(fmt.Sprintf("proc: %s: adopting %s which is %s with parent %v", p, c, c.state, c.parent))
	}
	c.parent = p
	c.mu.Unlock()

	p.children = append(p.children, c)
}

// RemoveChild unlinks c from p's children. It reports whether c was present.
// The child's parent link is left as is; the record is about to be destroyed.
func (p *Proc) RemoveChild(c *Proc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.children, c)
	if i < 0 {
		return false
	}
	p.children = slices.Delete(p.children, i, i+1)
	return true
}

// Child returns the unreaped child with the given pid, or nil.
func (p *Proc) Child(pid int) *Proc {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.children {
		if c.pid == pid {
			return c
		}
	}
	return nil
}

// MarkExited publishes the exit code and wakes any waiter.
//
// Every child is orphaned under its own lock while p's lock is held, so a
// parent that is itself being reaped never sees a half-orphaned child list.
// A child that has already exited can no longer be reaped by anyone; it is
// moved to StateReaped and passed to reclaim, which runs with p's lock held
// and must not touch p.
//
// MarkExited returns true if p has no parent; p is then already in
// StateReaped and the caller must destroy it.
func (p *Proc) MarkExited(code int, reclaim func(*Proc)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		panic(fmt.Sprintf("proc: %s: exit in state %s", p, p.state))
	}
	p.state = StateExited
	p.exitCode = code

	for _, c := range p.children {
		if c.orphan() {
			reclaim(c)
		}
	}
	p.children = nil

	p.wchan.WakeAll()

	if p.parent == nil {
		p.state = StateReaped
		return true
	}
	return false
}

// orphan clears the parent link. It reports whether the child had already
// exited, in which case it is claimed for destruction.
func (p *Proc) orphan() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parent = nil
	if p.state == StateExited {
		p.state = StateReaped
		return true
	}
	return false
}

// Reap blocks until p has exited, then claims it and returns its exit code.
// blocked reports whether the caller had to sleep. A record already claimed
// by another observer yields ErrNoSuchChild.
func (p *Proc) Reap() (code int, blocked bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.state == StateRunning {
		blocked = true
		p.wchan.Sleep()
	}
	if p.state == StateReaped {
		return 0, blocked, fmt.Errorf("pid %d: %w", p.pid, ErrNoSuchChild)
	}
	p.state = StateReaped
	return p.exitCode, blocked, nil
}
