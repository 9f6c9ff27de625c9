// Package user is the user-mode side of the system call boundary: thin
// libc-style wrappers that build trap frames and trap into the dispatcher.
package user

import (
	"encoding/binary"
	"fmt"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/syscalls"
	"github.com/randomizedcoder/go-kproc/internal/thread"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// StatusAddr is the scratch user address Waitpid has the kernel write the
// status word to.
const StatusAddr = 0x10

// TextBase is the program counter a booted program starts at.
const TextBase = 0x400000

// Program is user-mode code running in a process.
type Program func(env *Env)

// Env is the user-mode view of one running process.
type Env struct {
	t  *thread.Thread
	d  *syscalls.Dispatcher
	pc int
}

func newEnv(t *thread.Thread, d *syscalls.Dispatcher, pc int) *Env {
	return &Env{t: t, d: d, pc: pc}
}

// Boot starts main as a new parentless process owning as.
func Boot(d *syscalls.Dispatcher, name string, as addrspace.Space, main Program) (*thread.Thread, error) {
	return d.Manager().Boot(name, as, func(t *thread.Thread) {
		main(newEnv(t, d, TextBase))
	})
}

// Thread returns the execution context the program runs on.
func (e *Env) Thread() *thread.Thread {
	return e.t
}

// PC returns the current program counter.
func (e *Env) PC() int {
	return e.pc
}

// Memory returns the process address space.
func (e *Env) Memory() addrspace.Space {
	return e.t.Proc().AddrSpace()
}

func (e *Env) trap(tf *thread.Trapframe) (int, error) {
	tf.EPC = e.pc
	e.d.Dispatch(e.t, tf)
	e.pc = tf.EPC
	if tf.A3 != 0 {
		return 0, syscalls.Errno(tf.V0)
	}
	return tf.V0, nil
}

// Getpid returns the pid of the calling process.
func (e *Env) Getpid() int {
	pid, err := e.trap(&thread.Trapframe{V0: syscalls.SysGetpid})
	if err != nil {
		panic(fmt.Sprintf("user: getpid failed: %v", err))
	}
	return pid
}

// Fork creates a child process that runs child with its own Env and returns
// the child's pid. Returning from child exits the child with code 0.
func (e *Env) Fork(child Program) (int, error) {
	return e.trap(&thread.Trapframe{
		V0: syscalls.SysFork,
		Resume: func(ct *thread.Thread, tf *thread.Trapframe) {
			child(newEnv(ct, e.d, tf.EPC))
		},
	})
}

// Exit terminates the process with code. It does not return.
func (e *Env) Exit(code int) {
	e.trap(&thread.Trapframe{V0: syscalls.SysExit, A0: code})
	panic("user: return from _exit")
}

// Waitpid waits for child pid and returns its status.
func (e *Env) Waitpid(pid, options int) (wait.Status, int, error) {
	got, err := e.WaitpidAt(pid, StatusAddr, options)
	if err != nil {
		return 0, 0, err
	}
	buf, err := e.Memory().CopyIn(StatusAddr, syscalls.StatusSize)
	if err != nil {
		return 0, 0, fmt.Errorf("read status: %w", err)
	}
	return wait.Status(int32(binary.LittleEndian.Uint32(buf))), got, nil
}

// WaitpidAt is waitpid with a raw status pointer. An addr of zero discards
// the status.
func (e *Env) WaitpidAt(pid, addr, options int) (int, error) {
	return e.trap(&thread.Trapframe{V0: syscalls.SysWaitpid, A0: pid, A1: addr, A2: options})
}
