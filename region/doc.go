// Package region implements the shared region allocator: named POSIX shared
// memory objects of fixed size, filled with a verifiable byte pattern and
// mapped by the coordinator and any number of container processes.
//
// The coordinator calls Create, which makes (or truncates) the named object
// and maps it read-write into the caller's address space regardless of the
// mode it will expose to containers. Containers call Open to obtain a file
// descriptor with mode-appropriate access and hand it to memmap.MapFixed.
//
// Destroy unmaps and unlinks the object. The coordinator must only call it
// after every container holding a mapping has exited; unlinking earlier is
// prevented by the coordinator's shutdown ordering, not by this package.
package region
