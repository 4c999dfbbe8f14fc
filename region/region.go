package region

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
)

// shmDir is where Linux exposes POSIX shared memory objects. glibc's
// shm_open is open(2) on this tmpfs with the leading slash stripped.
const shmDir = "/dev/shm"

func shmPath(name string) string {
	return filepath.Join(shmDir, strings.TrimPrefix(name, "/"))
}

// Region is a named shared memory object together with the creating
// process's own read-write mapping.
type Region struct {
	spec wasmshm.RegionSpec
	data []byte
}

// Create makes or truncates the named shared memory object to the spec's
// size, maps it read-write into the caller's address space (the coordinator
// must be able to initialize content whatever mode containers will get),
// and returns the region. The mapping survives the close of the descriptor.
func Create(spec wasmshm.RegionSpec) (*Region, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseRegion, errors.KindInvalid, err, "create")
	}

	fd, err := unix.Open(shmPath(spec.Name), unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, errors.System(errors.PhaseRegion, "shm_open "+spec.Name, err)
	}
	if err := unix.Ftruncate(fd, int64(spec.Size)); err != nil {
		unix.Close(fd)
		return nil, errors.System(errors.PhaseRegion, "ftruncate "+spec.Name, err)
	}

	data, err := unix.Mmap(fd, 0, spec.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.System(errors.PhaseRegion, "mmap "+spec.Name, err)
	}
	if err := unix.Close(fd); err != nil {
		unix.Munmap(data)
		return nil, errors.System(errors.PhaseRegion, "close "+spec.Name, err)
	}

	return &Region{spec: spec, data: data}, nil
}

// Open opens an existing shared memory object with access matching mode and
// returns the raw descriptor. The caller owns the descriptor; once the
// object is mapped the descriptor can be closed.
func Open(name string, mode wasmshm.Mode) (int, error) {
	flags := unix.O_RDONLY
	if mode == wasmshm.ModeReadWrite {
		flags = unix.O_RDWR
	}
	fd, err := unix.Open(shmPath(name), flags|unix.O_CLOEXEC, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, errors.NotFound(errors.PhaseRegion, "shared memory object", name)
		}
		return -1, errors.System(errors.PhaseRegion, "shm_open "+name, err)
	}
	return fd, nil
}

// Spec returns the immutable spec the region was created with.
func (r *Region) Spec() wasmshm.RegionSpec { return r.spec }

// Bytes exposes the coordinator-side mapping. Mutating it is visible to
// every process with a live mapping; callers sequence their writes.
func (r *Region) Bytes() []byte { return r.data }

// Fill initializes the region content with the verifiable pattern for its
// mode. Called exactly once, before any container attaches.
func (r *Region) Fill() {
	Fill(r.data, r.spec.Mode)
}

// Verify scans the coordinator-side mapping; see the package Verify.
func (r *Region) Verify() int {
	return Verify(r.data, r.spec.Mode)
}

// Destroy unmaps the coordinator's mapping and unlinks the named object.
// Only call after every container using the region has exited.
func (r *Region) Destroy() error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return errors.System(errors.PhaseRegion, "munmap "+r.spec.Name, err)
		}
		r.data = nil
	}
	if err := unix.Unlink(shmPath(r.spec.Name)); err != nil {
		return errors.System(errors.PhaseRegion, "shm_unlink "+r.spec.Name, err)
	}
	return nil
}
