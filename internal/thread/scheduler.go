package thread

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/randomizedcoder/go-kproc/internal/proc"
	"github.com/randomizedcoder/go-kproc/internal/sentinel"
)

// ErrTooManyThreads is returned by Fork when the thread limit is reached.
const ErrTooManyThreads = sentinel.Error("too many threads")

// Scheduler starts threads and tracks how many are alive.
type Scheduler struct {
	limit  int
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	live   int
	idle   *sync.Cond
}

// NewScheduler creates a scheduler allowing at most limit live threads.
// A limit of zero or less means unlimited.
func NewScheduler(limit int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{limit: limit, logger: logger, nextID: 1}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Fork attaches a new thread to p and starts it running entry. The thread is
// attached before Fork returns, so p never appears threadless in between.
func (s *Scheduler) Fork(name string, p *proc.Proc, entry Entry) (*Thread, error) {
	s.mu.Lock()
	if s.limit > 0 && s.live >= s.limit {
		s.mu.Unlock()
		return nil, fmt.Errorf("fork thread %q (%d live): %w", name, s.live, ErrTooManyThreads)
	}
	t := &Thread{id: s.nextID, name: name, proc: p, done: make(chan struct{})}
	s.nextID++
	s.live++
	s.mu.Unlock()

	p.AttachThread()
	s.logger.Debug("thread_fork", "thread", name, "tid", t.id, "pid", p.PID())

	go func() {
		defer s.finish(t)
		entry(t)
	}()
	return t, nil
}

func (s *Scheduler) finish(t *Thread) {
	s.mu.Lock()
	s.live--
	if s.live == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()

	s.logger.Debug("thread_exit", "thread", t.name, "tid", t.id)
	close(t.done)
}

// Live returns the number of threads that have not yet terminated.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Wait blocks until no threads are alive.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.live > 0 {
		s.idle.Wait()
	}
}
