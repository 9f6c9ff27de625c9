// Package thread provides the execution contexts processes run on.
//
// A Thread is backed by a goroutine. Threads run in parallel and are
// preempted by the Go scheduler; nothing in this package is cooperative.
package thread

import (
	"runtime"
	"sync"

	"github.com/randomizedcoder/go-kproc/internal/proc"
)

// Entry is the function a new thread starts in.
type Entry func(t *Thread)

// Trapframe is the saved user-mode register state at a system call.
type Trapframe struct {
	V0  int // call number on entry; return value or errno on return
	V1  int
	A0  int
	A1  int
	A2  int
	A3  int // error flag on return
	EPC int

	// Resume is the user-mode code this frame returns into when a forked
	// child first leaves the kernel. It is shared between parent and child
	// like a read-only text segment.
	Resume func(t *Thread, tf *Trapframe)
}

// Clone returns an independent copy of the frame.
func (tf *Trapframe) Clone() *Trapframe {
	c := *tf
	return &c
}

// Thread is one execution context.
type Thread struct {
	id   int
	name string

	mu   sync.Mutex
	proc *proc.Proc

	done chan struct{}
}

// ID returns the scheduler-assigned thread id.
func (t *Thread) ID() int { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Proc returns the process the thread runs in, or nil after Detach.
func (t *Thread) Proc() *proc.Proc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc
}

// Detach removes the thread from its process and returns that process.
// The thread must not use the process afterwards.
func (t *Thread) Detach() *proc.Proc {
	t.mu.Lock()
	p := t.proc
	t.proc = nil
	t.mu.Unlock()

	if p == nil {
		panic("thread: " + t.name + ": detach without a process")
	}
	p.DetachThread()
	return p
}

// Exit terminates the calling thread. It must be called from the thread's own
// goroutine and never returns; deferred calls on the thread's stack run.
func (t *Thread) Exit() {
	runtime.Goexit()
}

// Done returns a channel closed once the thread has terminated.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}
