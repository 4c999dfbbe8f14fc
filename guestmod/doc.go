// Package guestmod emits the demo guest WebAssembly module as a binary.
//
// The guest is deliberately tiny: a bump allocator over its own linear
// memory plus the fixed export contract the containers call (allocate,
// set-shared-regions, verify-contents, stress-alloc, clear-alloc,
// write-pattern, read-pattern, write-to-readonly, force-fault) and an
// exported "memory". All parameters and results are i32.
//
// Build assembles the module for a given region configuration: the memory
// limits are sized so the shared-region reservation fits in the initial
// pages and the stress allocator can grow without relocating anything.
// The emitted binary targets core wasm with bulk memory (memory.fill),
// which wazero enables by default.
package guestmod
