package container

import (
	"context"
	"io"
	"os"
	"strconv"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
)

// Config describes one container invocation, normally assembled by ParseArgs
// from the argument vector the coordinator spawned us with.
type Config struct {
	ModulePath string
	Label      string
	ReadFD     int // inherited pipe carrying commands in
	WriteFD    int // inherited pipe carrying acknowledgments out
	RO         wasmshm.RegionSpec
	RW         wasmshm.RegionSpec
}

// ParseArgs decodes the coordinator's positional arguments:
//
//	module-path label read-fd write-fd ro-name ro-size rw-name rw-size
func ParseArgs(args []string) (Config, error) {
	if len(args) != 8 {
		return Config{}, errors.Invalid(errors.PhaseSpawn, "want 8 arguments, got %d", len(args))
	}

	cfg := Config{ModulePath: args[0], Label: args[1]}

	var err error
	if cfg.ReadFD, err = strconv.Atoi(args[2]); err != nil {
		return Config{}, errors.Invalid(errors.PhaseSpawn, "read fd %q: %v", args[2], err)
	}
	if cfg.WriteFD, err = strconv.Atoi(args[3]); err != nil {
		return Config{}, errors.Invalid(errors.PhaseSpawn, "write fd %q: %v", args[3], err)
	}

	roSize, err := strconv.Atoi(args[5])
	if err != nil {
		return Config{}, errors.Invalid(errors.PhaseSpawn, "ro size %q: %v", args[5], err)
	}
	rwSize, err := strconv.Atoi(args[7])
	if err != nil {
		return Config{}, errors.Invalid(errors.PhaseSpawn, "rw size %q: %v", args[7], err)
	}

	cfg.RO = wasmshm.RegionSpec{Name: args[4], Size: roSize, Mode: wasmshm.ModeReadOnly}
	cfg.RW = wasmshm.RegionSpec{Name: args[6], Size: rwSize, Mode: wasmshm.ModeReadWrite}

	if err := cfg.RO.Validate(); err != nil {
		return Config{}, errors.Wrap(errors.PhaseSpawn, errors.KindInvalid, err, "read-only region")
	}
	if err := cfg.RW.Validate(); err != nil {
		return Config{}, errors.Wrap(errors.PhaseSpawn, errors.KindInvalid, err, "read-write region")
	}
	return cfg, nil
}

// Container serves the coordinator's command loop for one guest.
type Container struct {
	cfg    Config
	module []byte
	in     io.Reader
	out    io.Writer

	guest  *Guest
	mapped *MappedRegions
}

// New builds a container over explicit pipe endpoints, which is also how
// tests drive the loop in-process.
func New(cfg Config, module []byte, in io.Reader, out io.Writer) *Container {
	return &Container{cfg: cfg, module: module, in: in, out: out}
}

// Run is the process entry point: it materializes the inherited pipe
// descriptors, loads the module binary, and serves commands until exit or
// coordinator disconnect.
func Run(ctx context.Context, cfg Config) error {
	module, err := os.ReadFile(cfg.ModulePath)
	if err != nil {
		return errors.System(errors.PhaseSpawn, "read module "+cfg.ModulePath, err)
	}

	in := os.NewFile(uintptr(cfg.ReadFD), "commands")
	out := os.NewFile(uintptr(cfg.WriteFD), "acks")
	if in == nil || out == nil {
		return errors.Invalid(errors.PhaseSpawn, "bad pipe descriptors %d/%d", cfg.ReadFD, cfg.WriteFD)
	}
	defer in.Close()
	defer out.Close()

	c := New(cfg, module, in, out)
	defer c.close(ctx)
	return c.Serve(ctx)
}

func (c *Container) close(ctx context.Context) {
	if c.guest != nil {
		c.guest.Close(ctx)
		c.guest = nil
	}
}
