package memmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
)

// MapFixed maps size bytes of the shared memory descriptor fd at exactly
// addr, with protection derived from mode: read-only regions get PROT_READ
// only, so any write through the mapping faults at the OS level.
//
// addr must be page-aligned and lie within memory the caller owns (here,
// inside a LinearMemory reservation); MAP_FIXED replaces whatever mapping
// was there. A fixed mapping that lands anywhere else would mean the
// platform broke its contract, which is a panic, not an error.
func MapFixed(addr uintptr, size int, fd int, mode wasmshm.Mode) error {
	prot := unix.PROT_READ
	if mode == wasmshm.ModeReadWrite {
		prot |= unix.PROT_WRITE
	}

	ret, err := unix.MmapPtr(fd, 0, unsafe.Pointer(addr), uintptr(size),
		prot, unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil {
		return errors.System(errors.PhaseMapping, fmt.Sprintf("mmap fixed at %#x", addr), err)
	}
	if uintptr(ret) != addr {
		panic(fmt.Sprintf("memmap: fixed mapping requested at %#x landed at %#x", addr, uintptr(ret)))
	}
	return nil
}
