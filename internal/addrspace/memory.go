package addrspace

import (
	"fmt"
	"sync"
)

// Memory is a paged address space backed by a Pool.
type Memory struct {
	pool *Pool

	mu        sync.Mutex
	pages     [][]byte
	active    int
	destroyed bool
}

var _ Space = (*Memory)(nil)

// Pages returns the number of pages in the space.
func (m *Memory) Pages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Size returns the size of the space in bytes.
func (m *Memory) Size() int {
	return m.Pages() * PageSize
}

// Copy reserves pages for a new space and copies every page into it.
func (m *Memory) Copy() (Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertLive("copy")

	if err := m.pool.reserve(len(m.pages)); err != nil {
		return nil, fmt.Errorf("copy address space: %w", err)
	}
	c := &Memory{pool: m.pool, pages: make([][]byte, len(m.pages))}
	for i, pg := range m.pages {
		c.pages[i] = append([]byte(nil), pg...)
	}
	return c, nil
}

// Activate marks the space as loaded on one more execution context.
func (m *Memory) Activate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertLive("activate")
	m.active++
}

// Deactivate reverses one Activate. Deactivating an inactive space is a no-op,
// matching a context switch away from a process that never ran.
func (m *Memory) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
}

// Active reports whether any execution context has the space loaded.
func (m *Memory) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active > 0
}

// Destroy returns all pages to the pool.
func (m *Memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertLive("destroy")
	if m.active > 0 {
		panic("addrspace: destroying an active address space")
	}
	m.destroyed = true
	n := len(m.pages)
	m.pages = nil
	m.pool.free(n)
}

// Destroyed reports whether Destroy has been called.
func (m *Memory) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// CopyIn returns a copy of n bytes at addr.
func (m *Memory) CopyIn(addr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrBadAddress
	}
	if err := m.checkRange(addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for n > 0 {
		pg, off := addr/PageSize, addr%PageSize
		chunk := min(n, PageSize-off)
		out = append(out, m.pages[pg][off:off+chunk]...)
		addr += chunk
		n -= chunk
	}
	return out, nil
}

// CopyOut writes data at addr.
func (m *Memory) CopyOut(addr int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrBadAddress
	}
	if err := m.checkRange(addr, len(data)); err != nil {
		return err
	}
	for len(data) > 0 {
		pg, off := addr/PageSize, addr%PageSize
		n := copy(m.pages[pg][off:], data)
		addr += n
		data = data[n:]
	}
	return nil
}

func (m *Memory) checkRange(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > len(m.pages)*PageSize {
		return fmt.Errorf("range [%#x, %#x): %w", addr, addr+n, ErrBadAddress)
	}
	return nil
}

func (m *Memory) assertLive(op string) {
	if m.destroyed {
		panic("addrspace: " + op + " on destroyed address space")
	}
}
