package proc

import "sync"

// WaitChannel lets an execution context sleep until a condition guarded by a
// lock becomes true. The caller must hold the lock for every method call;
// Sleep releases it while blocked and reacquires it before returning.
//
// Wakeups carry no information. A sleeper must re-check its condition after
// Sleep returns.
type WaitChannel struct {
	name     string
	cond     *sync.Cond
	sleepers int
}

// NewWaitChannel creates a wait channel bound to lock.
func NewWaitChannel(name string, lock sync.Locker) *WaitChannel {
	return &WaitChannel{name: name, cond: sync.NewCond(lock)}
}

// Name returns the channel name.
func (w *WaitChannel) Name() string {
	return w.name
}

// Sleep blocks until woken.
func (w *WaitChannel) Sleep() {
	w.sleepers++
	w.cond.Wait()
	w.sleepers--
}

// WakeAll wakes every sleeper.
func (w *WaitChannel) WakeAll() {
	w.cond.Broadcast()
}

// Sleepers returns the number of contexts currently blocked in Sleep.
func (w *WaitChannel) Sleepers() int {
	return w.sleepers
}
