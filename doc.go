// Package wasmshm defines the shared contracts of the wasm-shm system: the
// single-byte command protocol spoken between the coordinator and its
// container processes, and the specification of the POSIX shared memory
// regions both sides map.
//
// The system demonstrates safe sharing of memory between independently
// sandboxed WebAssembly instances. A coordinator process creates two named
// shared memory regions (one read-only, one read-write), spawns container
// processes that each host a wazero instance, and drives them in lockstep
// over pipe pairs. Each container maps the shared regions directly into its
// guest's linear memory at page-aligned offsets with per-region protection,
// so a guest write through the read-only mapping faults at the OS level
// while a fault inside the sandbox is contained as an engine trap.
//
// Package layout mirrors the data flow:
//
//   - region: creates and verifies the named shared regions (coordinator side)
//   - memmap: page-alignment arithmetic, the mmap-backed linear memory that
//     keeps the guest base address stable, and fixed-address mapping
//   - guestmod: emits the demo guest module binary
//   - container: guest hosting, shared-region mapping, and the command loop
//   - coordinator: region setup, container supervision, command sequencing
package wasmshm
