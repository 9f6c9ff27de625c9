// Package wait defines the exit status word returned by waitpid.
//
// The layout is fixed and shared with user-level tooling: the low two bits
// carry the termination reason and the remaining bits carry the value
// (exit code, signal number or stop signal).
//
//	31                               2 1 0
//	+---------------------------------+---+
//	|              value              |why|
//	+---------------------------------+---+
package wait

import "fmt"

// Reason codes stored in the low two bits of a Status.
const (
	ReasonExited   = 0
	ReasonSignaled = 1
	ReasonCored    = 2
	ReasonStopped  = 3
)

const (
	reasonBits = 2
	reasonMask = 1<<reasonBits - 1
)

// The value field is 30 bits wide and signed. Values outside
// [MinValue, MaxValue] keep only their low 30 bits, so ExitStatus returns
// the original value only inside that range.
const (
	MaxValue = 1<<(31-reasonBits) - 1
	MinValue = -1 << (31 - reasonBits)
)

// Status is an encoded wait status.
type Status int32

func encode(reason int, value int) Status {
	return Status(int32(value)<<reasonBits | int32(reason))
}

// Exited encodes a normal termination with the given exit code.
func Exited(code int) Status {
	return encode(ReasonExited, code)
}

// Signaled encodes termination by signal sig.
func Signaled(sig int) Status {
	return encode(ReasonSignaled, sig)
}

// Cored encodes termination by signal sig with a core dump.
func Cored(sig int) Status {
	return encode(ReasonCored, sig)
}

// Stopped encodes a stop by signal sig.
func Stopped(sig int) Status {
	return encode(ReasonStopped, sig)
}

// Reason returns the termination reason bits.
func (s Status) Reason() int {
	return int(s & reasonMask)
}

func (s Status) value() int {
	return int(int32(s) >> reasonBits)
}

// Exited reports whether the process terminated normally.
func (s Status) Exited() bool { return s.Reason() == ReasonExited }

// Signaled reports whether the process was killed by a signal, with or
// without a core dump.
func (s Status) Signaled() bool {
	return s.Reason() == ReasonSignaled || s.Reason() == ReasonCored
}

// CoreDumped reports whether a core dump was produced.
func (s Status) CoreDumped() bool { return s.Reason() == ReasonCored }

// Stopped reports whether the process is stopped.
func (s Status) Stopped() bool { return s.Reason() == ReasonStopped }

// ExitStatus returns the exit code. Only meaningful if Exited is true.
func (s Status) ExitStatus() int {
	if !s.Exited() {
		return -1
	}
	return s.value()
}

// TermSig returns the terminating signal. Only meaningful if Signaled is true.
func (s Status) TermSig() int {
	if !s.Signaled() {
		return -1
	}
	return s.value()
}

// StopSig returns the stop signal. Only meaningful if Stopped is true.
func (s Status) StopSig() int {
	if !s.Stopped() {
		return -1
	}
	return s.value()
}

// String returns a human-readable form of the status.
func (s Status) String() string {
	switch s.Reason() {
	case ReasonExited:
		return fmt.Sprintf("exited(%d)", s.value())
	case ReasonSignaled:
		return fmt.Sprintf("signaled(%d)", s.value())
	case ReasonCored:
		return fmt.Sprintf("signaled(%d, core dumped)", s.value())
	default:
		return fmt.Sprintf("stopped(%d)", s.value())
	}
}
