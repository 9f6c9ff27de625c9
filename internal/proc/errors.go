package proc

import "github.com/randomizedcoder/go-kproc/internal/sentinel"

// Errors shared by fork, exit and waitpid. Callers wrap them with context and
// match them with errors.Is.
const (
	// ErrInvalidArgument reports unsupported options or an invalid pid.
	ErrInvalidArgument = sentinel.Error("invalid argument")

	// ErrNoSuchChild reports a pid that is not a current child of the caller:
	// never existed, belongs to another process, or already reaped.
	ErrNoSuchChild = sentinel.Error("no such child")

	// ErrResourceExhausted reports that the process table, the identifier
	// space, or the thread limit is exhausted.
	ErrResourceExhausted = sentinel.Error("resource exhausted")

	// ErrOperationFailed reports a failure of an external collaborator while
	// constructing a child, such as an address space copy.
	ErrOperationFailed = sentinel.Error("operation failed")
)
