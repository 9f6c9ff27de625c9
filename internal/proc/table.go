package proc

import (
	"fmt"
	"sort"
	"sync"
)

// Identifier range handed out by the table.
const (
	// RootPID is reserved for the boot process.
	RootPID = 1

	// PIDMin is the first identifier handed out by Allocate.
	PIDMin = 2

	// PIDMax is the last identifier handed out by Allocate.
	PIDMax = 32767

	// DefaultCapacity is the table size used when none is configured.
	DefaultCapacity = 256
)

// Table allocates process identifiers and tracks every registered record.
//
// Identifiers are assigned next-fit from a cursor that only moves forward, so
// a released identifier is not handed out again until the cursor wraps past
// PIDMax. Identifiers still registered are always skipped.
//
// The table lock is a leaf: no process lock is acquired while it is held.
type Table struct {
	mu       sync.Mutex
	slots    map[int]*Proc
	next     int
	capacity int
	lo, hi   int
}

// NewTable creates a table holding at most capacity records. A capacity of
// zero or less selects DefaultCapacity.
func NewTable(capacity int) *Table {
	return newTable(capacity, PIDMin, PIDMax)
}

func newTable(capacity, lo, hi int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		slots:    make(map[int]*Proc),
		next:     lo,
		capacity: capacity,
		lo:       lo,
		hi:       hi,
	}
}

// Allocate assigns a fresh identifier to p and registers it.
func (t *Table) Allocate(p *Proc) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkCapacity(); err != nil {
		return 0, err
	}

	span := t.hi - t.lo + 1
	for range span {
		pid := t.next
		t.next++
		if t.next > t.hi {
			t.next = t.lo
		}
		if _, used := t.slots[pid]; !used {
			t.register(pid, p)
			return pid, nil
		}
	}
	return 0, fmt.Errorf("no free identifier in [%d, %d]: %w", t.lo, t.hi, ErrResourceExhausted)
}

// AllocateRoot registers p under RootPID if that identifier is free, and
// falls back to Allocate otherwise.
func (t *Table) AllocateRoot(p *Proc) (int, error) {
	t.mu.Lock()
	if _, used := t.slots[RootPID]; !used {
		if err := t.checkCapacity(); err != nil {
			t.mu.Unlock()
			return 0, err
		}
		t.register(RootPID, p)
		t.mu.Unlock()
		return RootPID, nil
	}
	t.mu.Unlock()
	return t.Allocate(p)
}

func (t *Table) checkCapacity() error {
	if len(t.slots) >= t.capacity {
		return fmt.Errorf("process table full (%d entries): %w", t.capacity, ErrResourceExhausted)
	}
	return nil
}

func (t *Table) register(pid int, p *Proc) {
	if p.pid != 0 {
		panic(fmt.Sprintf("proc: %s registered twice", p))
	}
	p.pid = pid
	t.slots[pid] = p
}

// Release unregisters pid. It must be called exactly once per record, when
// the record is destroyed.
func (t *Table) Release(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.slots[pid]; !ok {
		panic(fmt.Sprintf("proc: releasing unregistered pid %d", pid))
	}
	delete(t.slots, pid)
}

// Len returns the number of registered records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Capacity returns the maximum number of registered records.
func (t *Table) Capacity() int {
	return t.capacity
}

// Snapshot returns a view of every registered record ordered by pid.
// It is meant for observation; lifecycle code follows parent and child links
// instead.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	procs := make([]*Proc, 0, len(t.slots))
	for _, p := range t.slots {
		procs = append(procs, p)
	}
	t.mu.Unlock()

	infos := make([]Info, len(procs))
	for i, p := range procs {
		infos[i] = p.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos
}
