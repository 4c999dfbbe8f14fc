package memmap

import (
	"fmt"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/region"
)

func TestLinearMemoryGrowsInPlace(t *testing.T) {
	a := NewAllocator()
	lm := a.Allocate(65536, 4*65536).(*LinearMemory)
	defer lm.Free()

	base := lm.Base()
	if base%uintptr(unix.Getpagesize()) != 0 {
		t.Errorf("base %#x not page aligned", base)
	}

	buf := lm.Reallocate(65536)
	if len(buf) != 65536 {
		t.Fatalf("Reallocate(64K) len = %d", len(buf))
	}
	buf[0], buf[65535] = 1, 2

	grown := lm.Reallocate(3 * 65536)
	if grown == nil {
		t.Fatal("grow within reservation failed")
	}
	if lm.Base() != base {
		t.Errorf("base moved on grow: %#x -> %#x", base, lm.Base())
	}
	if grown[0] != 1 || grown[65535] != 2 {
		t.Error("content lost across grow")
	}
	grown[3*65536-1] = 3

	if lm.Reallocate(5*65536) != nil {
		t.Error("grow past reservation succeeded")
	}
}

func TestAllocatorTracksLast(t *testing.T) {
	a := NewAllocator()
	if a.Last() != nil {
		t.Fatal("Last before Allocate should be nil")
	}
	lm := a.Allocate(65536, 2*65536).(*LinearMemory)
	defer lm.Free()
	if a.Last() != lm {
		t.Error("Last does not return the allocated memory")
	}
}

// Maps a real shared region into a linear memory reservation and checks the
// whole mapping dance without an engine: plan, fixed-map, observe content,
// and keep guest growth away from the mapped pages.
func TestMapFixedIntoReservation(t *testing.T) {
	page := unix.Getpagesize()

	spec := wasmshm.RegionSpec{
		Name: fmt.Sprintf("/wasmshm_test_mapfixed_%d", os.Getpid()),
		Size: 5000,
		Mode: wasmshm.ModeReadOnly,
	}
	r, err := region.Create(spec)
	if err != nil {
		t.Fatalf("Create region: %v", err)
	}
	defer r.Destroy()
	r.Fill()

	a := NewAllocator()
	lm := a.Allocate(2*65536, 8*65536).(*LinearMemory)
	defer lm.Free()
	if lm.Reallocate(2*65536) == nil {
		t.Fatal("commit initial pages")
	}

	// Pretend the guest allocator handed us an unaligned offset.
	allocOff := uintptr(1111)
	size := ReservationSize(spec.Size, 0, page)
	p, err := Plan(lm.Base()+allocOff, size, spec.Size, 0, page)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	fd, err := region.Open(spec.Name, spec.Mode)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := MapFixed(p.RO, spec.Size, fd, spec.Mode); err != nil {
		t.Fatalf("MapFixed: %v", err)
	}
	unix.Close(fd)

	// The mapped window must show the region's pattern at its guest offset.
	guestOff := p.RO - lm.Base()
	view := lm.Reallocate(2 * 65536)[guestOff : guestOff+uintptr(spec.Size)]
	if got := region.Verify(view, spec.Mode); got != region.VerifyOK {
		t.Errorf("Verify through fixed mapping = %d, want ok", got)
	}

	// Coordinator-side writes are visible through the container mapping.
	r.Bytes()[4] = 99
	if view[4] != 99 {
		t.Error("write through region mapping not visible through fixed mapping")
	}
	r.Bytes()[4] = 131 // even offset byte of the fill pattern

	// Growth commits pages above the watermark only; the read-only window
	// must still verify afterwards.
	if lm.Reallocate(6*65536) == nil {
		t.Fatal("grow after mapping failed")
	}
	if got := region.Verify(view, spec.Mode); got != region.VerifyOK {
		t.Errorf("Verify after grow = %d, want ok", got)
	}
}
