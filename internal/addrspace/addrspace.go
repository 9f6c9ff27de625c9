// Package addrspace provides the address-space collaborator used by the
// process lifecycle: creation, deep copy on fork, activation and teardown.
//
// Memory is modelled as a set of fixed-size pages drawn from a bounded Pool,
// which plays the role of the kernel's physical page allocator. A Copy that
// cannot obtain enough pages fails with ErrOutOfMemory and leaves the pool
// unchanged.
package addrspace

import (
	"fmt"
	"sync"

	"github.com/randomizedcoder/go-kproc/internal/sentinel"
)

// PageSize is the size in bytes of one page.
const PageSize = 4096

// ErrOutOfMemory is returned when the pool cannot supply the requested pages.
const ErrOutOfMemory = sentinel.Error("out of memory")

// ErrBadAddress is returned by CopyIn and CopyOut for addresses outside the
// space.
const ErrBadAddress = sentinel.Error("bad address")

// Space is the contract the lifecycle core relies on.
type Space interface {
	// Copy returns a deep, independent copy of the space.
	Copy() (Space, error)
	// Activate makes the space current on the calling execution context.
	Activate()
	// Deactivate removes the space from the calling execution context.
	Deactivate()
	// Destroy releases the space's memory. Destroying twice is fatal.
	Destroy()
	// CopyIn reads n bytes starting at addr.
	CopyIn(addr, n int) ([]byte, error)
	// CopyOut writes data starting at addr.
	CopyOut(addr int, data []byte) error
}

// Pool is a bounded page allocator shared by every space it creates.
type Pool struct {
	mu       sync.Mutex
	capacity int
	inUse    int
}

// NewPool creates a pool holding capacity pages. A capacity of zero or less
// means unlimited.
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

func (p *Pool) reserve(pages int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity > 0 && p.inUse+pages > p.capacity {
		return fmt.Errorf("reserve %d pages (%d/%d in use): %w", pages, p.inUse, p.capacity, ErrOutOfMemory)
	}
	p.inUse += pages
	return nil
}

func (p *Pool) free(pages int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pages > p.inUse {
		panic(fmt.Sprintf("addrspace: freeing %d pages with only %d in use", pages, p.inUse))
	}
	p.inUse -= pages
}

// InUse returns the number of pages currently allocated.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the pool size in pages, or zero if unlimited.
func (p *Pool) Capacity() int {
	return p.capacity
}

// New creates an empty, zero-filled space of the given number of pages.
func (p *Pool) New(pages int) (*Memory, error) {
	if pages < 1 {
		return nil, fmt.Errorf("addrspace: invalid page count %d", pages)
	}
	if err := p.reserve(pages); err != nil {
		return nil, err
	}
	m := &Memory{pool: p, pages: make([][]byte, pages)}
	for i := range m.pages {
		m.pages[i] = make([]byte, PageSize)
	}
	return m, nil
}
