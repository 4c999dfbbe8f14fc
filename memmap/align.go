package memmap

import (
	"github.com/wippyai/wasm-shm/errors"
)

// AlignNext rounds addr up to the next multiple of align, advancing a full
// align even when addr is already aligned. The strict advance guarantees the
// result never equals the raw allocation start, which could collide with
// guest-owned bytes immediately before it. align must be a power of two.
func AlignNext(addr, align uintptr) uintptr {
	return (addr | (align - 1)) + 1
}

// ReservationSize returns the guest allocation needed to place both regions
// at page-aligned addresses: the regions themselves plus worst-case padding
// for two independent alignments and the allocation's own misalignment.
func ReservationSize(roSize, rwSize, page int) int {
	return roSize + rwSize + 3*page
}

// Placement is where the two shared regions land inside one reservation.
// Addresses are absolute within the container's address space.
type Placement struct {
	RO  uintptr
	RW  uintptr
	End uintptr // aligned end of the mapped span
}

// Plan computes page-aligned placements for a read-only region of roSize and
// a read-write region of rwSize within the reservation [base, base+size).
// A placement that would overrun the reservation is an arithmetic invariant
// violation, not a runtime condition; callers treat it as fatal.
func Plan(base uintptr, size, roSize, rwSize int, page int) (Placement, error) {
	p := Placement{}
	p.RO = AlignNext(base, uintptr(page))
	p.RW = AlignNext(p.RO+uintptr(roSize), uintptr(page))
	p.End = AlignNext(p.RW+uintptr(rwSize), uintptr(page))
	if p.End > base+uintptr(size) {
		return Placement{}, errors.Invalid(errors.PhaseMapping,
			"placement end %#x exceeds reservation [%#x, %#x)", p.End, base, base+uintptr(size))
	}
	return p, nil
}
