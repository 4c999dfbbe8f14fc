// Package memmap places externally-owned shared memory inside a wazero
// guest's linear memory with OS-level protection.
//
// Three pieces cooperate:
//
//   - The pure placement arithmetic (AlignNext, ReservationSize, Plan)
//     computes page-aligned sub-regions inside a guest allocation. It is
//     testable without any syscall.
//   - Allocator backs each wazero linear memory with an address-space
//     reservation of the declared maximum (PROT_NONE, committed in place as
//     the guest grows), so the base address never moves after
//     instantiation. That stability is what makes fixed-address mappings
//     into guest memory safe even when the guest later grows its memory.
//   - MapFixed maps a shared memory descriptor at an exact address inside
//     the reservation with protection matching the region's mode.
//
// Linux only: the package drives mmap, mprotect, and MAP_FIXED directly.
package memmap
