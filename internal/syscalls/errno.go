package syscalls

import (
	"errors"
	"strconv"

	"github.com/randomizedcoder/go-kproc/internal/addrspace"
	"github.com/randomizedcoder/go-kproc/internal/proc"
)

// Errno is a kernel error number as seen by user mode.
type Errno int

const (
	ENOSYS Errno = 1  // no such system call
	ENOMEM Errno = 3  // out of memory
	EFAULT Errno = 6  // bad memory reference
	EINVAL Errno = 8  // invalid argument
	ENPROC Errno = 12 // too many processes
	ECHILD Errno = 16 // no such child process
)

var errnoNames = map[Errno]string{
	ENOSYS: "ENOSYS",
	ENOMEM: "ENOMEM",
	EFAULT: "EFAULT",
	EINVAL: "EINVAL",
	ENPROC: "ENPROC",
	ECHILD: "ECHILD",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "errno " + strconv.Itoa(int(e))
}

// ErrnoFor maps a lifecycle error to the errno user mode receives.
// Unrecognised errors map to ENOMEM.
func ErrnoFor(err error) Errno {
	var errno Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, proc.ErrInvalidArgument):
		return EINVAL
	case errors.Is(err, proc.ErrNoSuchChild):
		return ECHILD
	case errors.Is(err, proc.ErrResourceExhausted):
		return ENPROC
	case errors.Is(err, proc.ErrOperationFailed):
		return ENOMEM
	case errors.Is(err, addrspace.ErrBadAddress):
		return EFAULT
	default:
		return ENOMEM
	}
}
