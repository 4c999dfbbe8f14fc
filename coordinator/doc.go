// Package coordinator owns the shared memory regions and the container
// processes that map them.
//
// The coordinator creates and initializes both POSIX shared memory objects,
// emits the guest module binary, and spawns one container process per label
// with a command pipe and an acknowledgment pipe inherited across exec. It
// then drives the demonstration by dispatching single-byte commands and
// reading single-byte acknowledgments.
//
// Lifecycle ordering is the point of the package: regions exist before any
// container starts, every container has exited (or died) before a region is
// unlinked, and a container lost to an intentional protection fault is
// accounted for rather than treated as a coordinator failure.
package coordinator
