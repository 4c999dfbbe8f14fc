// Package container runs one sandboxed guest on behalf of the coordinator.
//
// A container is a separate process connected to the coordinator by a pair of
// inherited pipes. It announces readiness with a single byte, then serves
// single-byte commands until told to exit: instantiating the guest module,
// mapping the shared memory regions into the guest's linear memory at fixed
// addresses, and invoking guest exports. Each command is acknowledged with
// the command byte itself on success or a failure byte, so the coordinator
// always knows the outcome before issuing the next command.
//
// The read-only region is mapped PROT_READ. A guest store through that
// mapping is in-bounds for the sandbox, reaches the page, and kills the
// process with a protection fault. That crash is part of the demonstration
// and is observed by the coordinator as pipe EOF, never handled here.
package container
