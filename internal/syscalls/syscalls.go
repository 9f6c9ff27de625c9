// Package syscalls is the trap-frame boundary between user-mode code and the
// process lifecycle.
//
// Calls follow the MIPS convention: the call number arrives in v0 and the
// arguments in a0..a3. On return v0 holds the result or an errno, a3 is 0 on
// success and 1 on failure, and epc is advanced past the syscall instruction.
package syscalls

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/randomizedcoder/go-kproc/internal/lifecycle"
	"github.com/randomizedcoder/go-kproc/internal/thread"
)

// Call numbers.
const (
	SysFork    = 0
	SysExit    = 3
	SysWaitpid = 4
	SysGetpid  = 5
)

// InstructionSize is how far epc advances after a system call.
const InstructionSize = 4

// StatusSize is the size in bytes of the status word waitpid copies out.
const StatusSize = 4

// Dispatcher decodes trap frames and invokes the lifecycle manager.
type Dispatcher struct {
	m      *lifecycle.Manager
	logger *slog.Logger
}

// New creates a Dispatcher over m.
func New(m *lifecycle.Manager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{m: m, logger: logger}
}

// Manager returns the lifecycle manager calls are dispatched to.
func (d *Dispatcher) Manager() *lifecycle.Manager {
	return d.m
}

// Dispatch handles the system call in tf on behalf of t and writes the result
// back into tf. _exit does not return.
func (d *Dispatcher) Dispatch(t *thread.Thread, tf *thread.Trapframe) {
	var (
		ret int
		err error
	)

	switch tf.V0 {
	case SysFork:
		ret, err = d.m.Fork(t, tf, d.enterForked)

	case SysExit:
		d.m.Exit(t, tf.A0)

	case SysWaitpid:
		ret, err = d.waitpid(t, tf.A0, tf.A1, tf.A2)

	case SysGetpid:
		ret = d.m.Getpid(t)

	default:
		err = fmt.Errorf("syscall %d: %w", tf.V0, ENOSYS)
	}

	if err != nil {
		errno := ErrnoFor(err)
		d.logger.Debug("syscall_failed", "call", tf.V0, "errno", errno.Error(), "error", err)
		tf.V0 = int(errno)
		tf.A3 = 1
	} else {
		tf.V0 = ret
		tf.A3 = 0
	}
	tf.EPC += InstructionSize
}

// enterForked is where a forked child first leaves the kernel: fork returns
// 0 in the child and execution continues in the frame's user-mode code.
func (d *Dispatcher) enterForked(t *thread.Thread, tf *thread.Trapframe) {
	if as := t.Proc().AddrSpace(); as != nil {
		as.Activate()
	}
	tf.V0 = 0
	tf.A3 = 0
	tf.EPC += InstructionSize
	if tf.Resume != nil {
		tf.Resume(t, tf)
	}
}

// waitpid reaps pid and copies its status to the user address statusAddr.
// A zero address skips the copy. The child is reaped even when the copy
// faults.
func (d *Dispatcher) waitpid(t *thread.Thread, pid, statusAddr, options int) (int, error) {
	status, got, err := d.m.Waitpid(t, pid, options)
	if err != nil {
		return 0, err
	}
	if statusAddr == 0 {
		return got, nil
	}

	as := t.Proc().AddrSpace()
	if as == nil {
		return 0, fmt.Errorf("waitpid: status copyout to %#x: no address space: %w", statusAddr, EFAULT)
	}
	buf := make([]byte, StatusSize)
	binary.LittleEndian.PutUint32(buf, uint32(status))
	if err := as.CopyOut(statusAddr, buf); err != nil {
		return 0, fmt.Errorf("waitpid: status copyout: %w", err)
	}
	return got, nil
}
