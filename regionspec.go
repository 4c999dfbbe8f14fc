package wasmshm

import "fmt"

// Mode is the access a container is granted on a shared region. The
// coordinator always holds a read-write mapping of its own, regardless of
// mode, so it can initialize content.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
)

// Prefix returns the 3-byte tag written at the start of a region's fill
// pattern, which the guest checks during verification.
func (m Mode) Prefix() string {
	if m == ModeReadOnly {
		return "ro:"
	}
	return "rw:"
}

func (m Mode) String() string {
	if m == ModeReadOnly {
		return "read-only"
	}
	return "read-write"
}

// RegionSpec identifies one POSIX shared memory region. Name is the
// process-global shm object name (leading slash, e.g. "/shared_ro"); Size is
// fixed at creation.
type RegionSpec struct {
	Name string
	Size int
	Mode Mode
}

// Validate checks that the spec can back a usable region. The pattern needs
// room for its 3-byte prefix and suffix sentinels.
func (s RegionSpec) Validate() error {
	if s.Name == "" || s.Name[0] != '/' {
		return fmt.Errorf("region name %q must start with '/'", s.Name)
	}
	if s.Size < 8 {
		return fmt.Errorf("region size %d too small for pattern sentinels", s.Size)
	}
	return nil
}

// Default region specs, matching the demo configuration.
var (
	DefaultReadOnly  = RegionSpec{Name: "/shared_ro", Size: 5000, Mode: ModeReadOnly}
	DefaultReadWrite = RegionSpec{Name: "/shared_rw", Size: 1000, Mode: ModeReadWrite}
)
