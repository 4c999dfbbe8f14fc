package container

import (
	"context"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
	"github.com/wippyai/wasm-shm/guestmod"
	"github.com/wippyai/wasm-shm/memmap"
	"github.com/wippyai/wasm-shm/region"
)

// MappedRegions records where the shared regions landed inside the guest's
// linear memory. Offsets are guest-relative, addresses process-absolute.
type MappedRegions struct {
	ROOffset  uint32
	RWOffset  uint32
	Placement memmap.Placement
}

// MapSharedRegions carves a reservation out of the guest heap, opens both
// shared memory objects, and maps them at page-aligned fixed addresses
// inside it, then hands the guest-relative offsets to the guest.
//
// The guest allocation guarantees the span belongs to the guest and is
// committed; MAP_FIXED then replaces those anonymous pages with the shared
// ones, read-only where the mode says so. Ordering matters: offsets reach
// the guest only after both mappings exist, so the guest never observes a
// half-mapped window.
func MapSharedRegions(ctx context.Context, g *Guest, ro, rw wasmshm.RegionSpec) (*MappedRegions, error) {
	page := os.Getpagesize()
	size := memmap.ReservationSize(ro.Size, rw.Size, page)

	off, err := g.Call(ctx, guestmod.ExportAllocate, uint64(size))
	if err != nil {
		return nil, err
	}
	if off == 0 {
		return nil, errors.Allocation(size)
	}

	lin := g.Linear()
	if lin == nil {
		return nil, errors.Invalid(errors.PhaseMapping, "guest has no backing reservation")
	}
	base := lin.Base()

	pl, err := memmap.Plan(base+uintptr(off), size, ro.Size, rw.Size, page)
	if err != nil {
		return nil, err
	}

	if err := mapOne(pl.RO, ro); err != nil {
		return nil, err
	}
	if err := mapOne(pl.RW, rw); err != nil {
		return nil, err
	}

	m := &MappedRegions{
		ROOffset:  uint32(pl.RO - base),
		RWOffset:  uint32(pl.RW - base),
		Placement: pl,
	}
	Logger().Debug("shared regions mapped",
		zap.String("ro", ro.Name), zap.Uint32("ro_offset", m.ROOffset),
		zap.String("rw", rw.Name), zap.Uint32("rw_offset", m.RWOffset))

	_, err = g.Call(ctx, guestmod.ExportSetRegions,
		uint64(m.ROOffset), uint64(ro.Size), uint64(m.RWOffset), uint64(rw.Size))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func mapOne(addr uintptr, spec wasmshm.RegionSpec) error {
	fd, err := region.Open(spec.Name, spec.Mode)
	if err != nil {
		return err
	}
	err = memmap.MapFixed(addr, spec.Size, fd, spec.Mode)
	unix.Close(fd)
	return err
}
