package memmap

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tetratelabs/wazero/experimental"
	"golang.org/x/sys/unix"
)

// Allocator backs wazero linear memories with address-space reservations so
// the memory base stays put for the lifetime of the instance. Register it
// with experimental.WithMemoryAllocator before instantiation.
//
// Each container hosts exactly one guest, so the allocator keeps a handle to
// the memory it produced; Last returns it for placement and mapping.
type Allocator struct {
	mu   sync.Mutex
	last *LinearMemory
}

// NewAllocator returns an Allocator ready to register with wazero.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate reserves max bytes of address space (PROT_NONE, so nothing is
// committed yet) and commits the initial capacity in place. wazero calls
// this once per linear memory. Reservation failure breaks a platform
// assumption the rest of the mapping protocol depends on, so it panics
// rather than limping on.
func (a *Allocator) Allocate(cap, max uint64) experimental.LinearMemory {
	page := uint64(unix.Getpagesize())
	rnd := page - 1
	cap = (cap + rnd) &^ rnd
	max = (max + rnd) &^ rnd
	if max == 0 {
		max = page
	}

	buf, err := unix.Mmap(-1, 0, int(max),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		panic(fmt.Sprintf("memmap: reserve %d bytes of linear memory: %v", max, err))
	}

	m := &LinearMemory{reserved: buf}
	if cap > 0 {
		if m.commit(int(cap)) != nil {
			unix.Munmap(buf)
			panic(fmt.Sprintf("memmap: commit initial %d bytes of linear memory", cap))
		}
	}

	a.mu.Lock()
	a.last = m
	a.mu.Unlock()
	return m
}

// Last returns the most recently allocated linear memory, nil if none.
func (a *Allocator) Last() *LinearMemory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// LinearMemory is one guest linear memory backed by a fixed reservation.
// It implements experimental.LinearMemory.
type LinearMemory struct {
	reserved  []byte // the whole reservation, len == cap == max
	committed int    // bytes currently readable/writable
}

// commit makes the reservation readable and writable up to size bytes,
// page-granular. Growth only touches pages above the committed watermark:
// shared regions mapped below it keep their own protection.
func (m *LinearMemory) commit(size int) error {
	page := unix.Getpagesize()
	target := (size + page - 1) &^ (page - 1)
	if target <= m.committed {
		return nil
	}
	if err := unix.Mprotect(m.reserved[m.committed:target], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}
	m.committed = target
	return nil
}

// Reallocate grows the memory to size bytes in place. It never relocates:
// if size exceeds the reservation the growth fails (wazero surfaces that to
// the guest as memory.grow returning -1).
func (m *LinearMemory) Reallocate(size uint64) []byte {
	if size > uint64(len(m.reserved)) {
		return nil
	}
	if m.commit(int(size)) != nil {
		return nil
	}
	return m.reserved[:size]
}

// Free releases the whole reservation, including any fixed mappings that
// were placed inside it.
func (m *LinearMemory) Free() {
	if m.reserved != nil {
		unix.Munmap(m.reserved)
		m.reserved = nil
		m.committed = 0
	}
}

// Base returns the address of byte 0 of the linear memory. Stable from
// Allocate until Free.
func (m *LinearMemory) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(m.reserved)))
}

// Committed returns the bytes currently committed, page-rounded.
func (m *LinearMemory) Committed() int { return m.committed }

var _ experimental.LinearMemory = (*LinearMemory)(nil)
var _ experimental.MemoryAllocator = (*Allocator)(nil)
