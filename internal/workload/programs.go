package workload

import (
	"errors"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/syscalls"
	"github.com/randomizedcoder/go-kproc/internal/user"
	"github.com/randomizedcoder/go-kproc/internal/wait"
)

// badAddress is a user pointer outside every address space.
const badAddress = 1 << 30

// recoveryTimeout bounds how long exhaust retries its recovery fork.
const recoveryTimeout = 5 * time.Second

// reap waits for pid and checks it exited with want.
func reap(env *user.Env, pid, want int) error {
	status, got, err := env.Waitpid(pid, 0)
	if err != nil {
		return fmt.Errorf("waitpid(%d): %w", pid, err)
	}
	if got != pid {
		return fmt.Errorf("waitpid(%d) returned pid %d", pid, got)
	}
	if status != wait.Exited(want) {
		return fmt.Errorf("waitpid(%d) status %s, want %s", pid, status, wait.Exited(want))
	}
	return nil
}

// reapAll waits for every pid, ignoring codes, and returns the first error.
func reapAll(env *user.Env, pids []int) error {
	var first error
	for _, pid := range pids {
		if _, _, err := env.Waitpid(pid, 0); err != nil && first == nil {
			first = fmt.Errorf("waitpid(%d): %w", pid, err)
		}
	}
	return first
}

func zombie(env *user.Env, p Params) error {
	pid, err := env.Fork(func(c *user.Env) { c.Exit(3) })
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	// Give the child time to become a zombie before waiting.
	p.pause(env.Getpid())
	return reap(env, pid, 3)
}

func widefork(env *user.Env, p Params) error {
	pids := make([]int, 0, p.Width)
	seen := make(map[int]bool, p.Width)
	for i := range p.Width {
		code := i
		pid, err := env.Fork(func(c *user.Env) {
			p.pause(c.Getpid())
			c.Exit(code)
		})
		if err != nil {
			return errors.Join(fmt.Errorf("fork %d of %d: %w", i+1, p.Width, err), reapAll(env, pids))
		}
		if seen[pid] {
			return errors.Join(fmt.Errorf("fork returned duplicate pid %d", pid), reapAll(env, pids))
		}
		seen[pid] = true
		pids = append(pids, pid)
	}

	for i := len(pids) - 1; i >= 0; i-- {
		if err := reap(env, pids[i], i); err != nil {
			return errors.Join(err, reapAll(env, pids[:i]))
		}
	}
	return nil
}

func forktree(env *user.Env, p Params) error {
	n, err := treeNode(env, p.Depth, p)
	if err != nil {
		return err
	}
	if want := 1<<(p.Depth+1) - 1; n != want {
		return fmt.Errorf("tree of depth %d has %d nodes, want %d", p.Depth, n, want)
	}
	return nil
}

// treeNode forks two subtrees of the given depth and returns the number of
// processes in this subtree. Children report their subtree size as their
// exit code and -1 on failure.
func treeNode(env *user.Env, depth int, p Params) (int, error) {
	if depth == 0 {
		p.pause(env.Getpid())
		return 1, nil
	}

	var pids []int
	for range 2 {
		pid, err := env.Fork(func(c *user.Env) {
			n, err := treeNode(c, depth-1, p)
			if err != nil {
				c.Exit(-1)
			}
			c.Exit(n)
		})
		if err != nil {
			return 0, errors.Join(fmt.Errorf("fork at depth %d: %w", depth, err), reapAll(env, pids))
		}
		pids = append(pids, pid)
	}

	total := 1
	var errs []error
	for _, pid := range pids {
		status, _, err := env.Waitpid(pid, 0)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("waitpid(%d): %w", pid, err))
		case status.ExitStatus() < 0:
			errs = append(errs, fmt.Errorf("subtree %d failed: %s", pid, status))
		default:
			total += status.ExitStatus()
		}
	}
	return total, errors.Join(errs...)
}

func orphans(env *user.Env, p Params) error {
	// The channel stands in for a pipe from the middle process.
	grandchildren := make(chan []int, 1)

	middle, err := env.Fork(func(c *user.Env) {
		var pids []int
		for range p.Orphans {
			pid, err := c.Fork(func(g *user.Env) {
				p.pause(g.Getpid())
				g.Exit(0)
			})
			if err != nil {
				break
			}
			pids = append(pids, pid)
		}
		grandchildren <- pids
		if len(pids) != p.Orphans {
			c.Exit(1)
		}
		c.Exit(0)
	})
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}

	if err := reap(env, middle, 0); err != nil {
		return err
	}
	for _, pid := range <-grandchildren {
		if _, _, err := env.Waitpid(pid, 0); !errors.Is(err, syscalls.ECHILD) {
			return fmt.Errorf("waitpid on grandchild %d: got %v, want ECHILD", pid, err)
		}
	}
	return nil
}

func badwait(env *user.Env, p Params) error {
	self := env.Getpid()

	// A long-lived child gives the other checks a real pid to aim at.
	release := make(chan struct{})
	sibling, err := env.Fork(func(c *user.Env) { <-release })
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	defer func() {
		close(release)
		reap(env, sibling, 0)
	}()

	checks := []struct {
		name    string
		pid     int
		addr    int
		options int
		want    syscalls.Errno
	}{
		{name: "nonzero options", pid: sibling, addr: user.StatusAddr, options: 1, want: syscalls.EINVAL},
		{name: "unknown options", pid: sibling, addr: user.StatusAddr, options: 0x100, want: syscalls.EINVAL},
		{name: "pid zero", pid: 0, addr: user.StatusAddr, want: syscalls.EINVAL},
		{name: "negative pid", pid: -5, addr: user.StatusAddr, want: syscalls.EINVAL},
		{name: "self", pid: self, addr: user.StatusAddr, want: syscalls.ECHILD},
		{name: "nonexistent", pid: proc.PIDMax, addr: user.StatusAddr, want: syscalls.ECHILD},
	}
	for _, c := range checks {
		if _, err := env.WaitpidAt(c.pid, c.addr, c.options); !errors.Is(err, c.want) {
			return fmt.Errorf("%s: waitpid(%d) got %v, want %v", c.name, c.pid, err, c.want)
		}
	}

	// A child cannot wait for its parent or its sibling.
	probe, err := env.Fork(func(c *user.Env) {
		for _, pid := range []int{self, sibling} {
			if _, err := c.WaitpidAt(pid, user.StatusAddr, 0); !errors.Is(err, syscalls.ECHILD) {
				c.Exit(1)
			}
		}
		c.Exit(0)
	})
	if err != nil {
		return fmt.Errorf("fork probe: %w", err)
	}
	if err := reap(env, probe, 0); err != nil {
		return fmt.Errorf("waiting on parent or sibling did not fail with ECHILD: %w", err)
	}

	// A faulting status pointer still consumes the child.
	victim, err := env.Fork(func(c *user.Env) { c.Exit(0) })
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}
	if _, err := env.WaitpidAt(victim, badAddress, 0); !errors.Is(err, syscalls.EFAULT) {
		return fmt.Errorf("bad status pointer: got %v, want EFAULT", err)
	}
	if _, err := env.WaitpidAt(victim, 0, 0); !errors.Is(err, syscalls.ECHILD) {
		return fmt.Errorf("second waitpid(%d): got %v, want ECHILD", victim, err)
	}
	return nil
}

func exhaust(env *user.Env, p Params) error {
	release := make(chan struct{})
	var (
		pids    []int
		forkErr error
	)
	for len(pids) < p.ExhaustLimit {
		pid, err := env.Fork(func(c *user.Env) { <-release })
		if err != nil {
			forkErr = err
			break
		}
		pids = append(pids, pid)
	}
	close(release)
	p.logger().Debug("exhaust_limit_reached", "children", len(pids), "error", forkErr)

	var errs []error
	for _, pid := range pids {
		errs = append(errs, reap(env, pid, 0))
	}
	switch {
	case forkErr == nil:
		errs = append(errs, fmt.Errorf("no fork failure after %d forks", len(pids)))
	case !errors.Is(forkErr, syscalls.ENPROC) && !errors.Is(forkErr, syscalls.ENOMEM):
		errs = append(errs, fmt.Errorf("fork failed with %v, want ENPROC or ENOMEM", forkErr))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	// Everything was reclaimed, so fork works again. Reaped children may still
	// be finishing their threads, so a thread limit can take a moment to clear.
	backoff := NewBackoff(RecoveryBackoff(), p.Jitter.ForProcess(env.Getpid()))
	deadline := time.Now().Add(recoveryTimeout)
	for {
		pid, err := env.Fork(func(*user.Env) {})
		if err == nil {
			return reap(env, pid, 0)
		}
		if !errors.Is(err, syscalls.ENPROC) || time.Now().After(deadline) {
			return fmt.Errorf("fork after recovery (%d retries): %w", backoff.Attempts(), err)
		}
		time.Sleep(backoff.Next())
	}
}
