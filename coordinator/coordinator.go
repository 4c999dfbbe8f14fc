package coordinator

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
	"github.com/wippyai/wasm-shm/guestmod"
	"github.com/wippyai/wasm-shm/region"
)

// Sentinels for the two protocol outcomes callers branch on.
var (
	// ErrContainerGone reports a container whose pipe hit EOF: the process
	// died, by design (protection fault) or not.
	ErrContainerGone = errors.New(errors.PhaseProtocol, errors.KindClosed)
	// ErrCommandFailed reports a command the container acknowledged with
	// the failure byte. The container is still alive.
	ErrCommandFailed = errors.New(errors.PhaseProtocol, errors.KindFailed)
)

// Child-side descriptor numbers for the inherited pipes. exec.Cmd assigns
// ExtraFiles starting at 3, in order.
const (
	childReadFD  = 3
	childWriteFD = 4
)

// Config describes one coordinator run.
type Config struct {
	RO wasmshm.RegionSpec
	RW wasmshm.RegionSpec

	// ModulePath is where the guest module binary is written for containers
	// to load.
	ModulePath string

	// ContainerCmd is the argv prefix used to spawn a container process;
	// the coordinator appends the container's positional arguments.
	ContainerCmd []string

	// Labels names the containers to spawn, one process each.
	Labels []string
}

// DefaultConfig returns the demo configuration: two containers sharing the
// default regions.
func DefaultConfig(containerCmd []string, modulePath string) Config {
	return Config{
		RO:           wasmshm.DefaultReadOnly,
		RW:           wasmshm.DefaultReadWrite,
		ModulePath:   modulePath,
		ContainerCmd: containerCmd,
		Labels:       []string{"A", "B"},
	}
}

type containerProc struct {
	label   string
	cmd     *exec.Cmd
	cmdW    *os.File // command bytes out
	ackR    *os.File // acknowledgment bytes in
	alive   bool
	crashed bool // died mid-command, observed as pipe EOF
}

// Coordinator owns the regions and container processes for one run.
type Coordinator struct {
	cfg        Config
	ro, rw     *region.Region
	containers map[string]*containerProc
	order      []string
}

// New validates the configuration. Nothing is created until Start.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.RO.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseRegion, errors.KindInvalid, err, "read-only region")
	}
	if err := cfg.RW.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseRegion, errors.KindInvalid, err, "read-write region")
	}
	if cfg.ModulePath == "" {
		return nil, errors.Invalid(errors.PhaseSpawn, "module path required")
	}
	if len(cfg.ContainerCmd) == 0 {
		return nil, errors.Invalid(errors.PhaseSpawn, "container command required")
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.Invalid(errors.PhaseSpawn, "at least one container label required")
	}
	return &Coordinator{cfg: cfg, containers: make(map[string]*containerProc)}, nil
}

// Start creates and initializes the shared regions, writes the guest module
// binary, and spawns every container, waiting for each to announce
// readiness. On any failure it tears down whatever came up.
func (c *Coordinator) Start(ctx context.Context) error {
	log := Logger()

	var err error
	if c.ro, err = region.Create(c.cfg.RO); err != nil {
		return err
	}
	if c.rw, err = region.Create(c.cfg.RW); err != nil {
		c.ro.Destroy()
		return err
	}
	c.ro.Fill()
	c.rw.Fill()
	log.Info("shared regions initialized",
		zap.String("ro", c.cfg.RO.Name), zap.Int("ro_size", c.cfg.RO.Size),
		zap.String("rw", c.cfg.RW.Name), zap.Int("rw_size", c.cfg.RW.Size))

	module := guestmod.Build(guestmod.Config{ROSize: c.cfg.RO.Size, RWSize: c.cfg.RW.Size})
	if err := os.WriteFile(c.cfg.ModulePath, module, 0o644); err != nil {
		c.destroyRegions()
		return errors.System(errors.PhaseSpawn, "write module "+c.cfg.ModulePath, err)
	}

	for _, label := range c.cfg.Labels {
		if err := c.spawn(label); err != nil {
			c.Shutdown(ctx)
			return err
		}
	}
	return nil
}

func (c *Coordinator) spawn(label string) error {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return errors.System(errors.PhaseSpawn, "command pipe", err)
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return errors.System(errors.PhaseSpawn, "ack pipe", err)
	}

	argv := append([]string(nil), c.cfg.ContainerCmd...)
	argv = append(argv,
		c.cfg.ModulePath, label,
		strconv.Itoa(childReadFD), strconv.Itoa(childWriteFD),
		c.cfg.RO.Name, strconv.Itoa(c.cfg.RO.Size),
		c.cfg.RW.Name, strconv.Itoa(c.cfg.RW.Size))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.ExtraFiles = []*os.File{cmdR, ackW}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cmdR.Close()
		cmdW.Close()
		ackR.Close()
		ackW.Close()
		return errors.System(errors.PhaseSpawn, "start container "+label, err)
	}
	// The child holds its own copies now.
	cmdR.Close()
	ackW.Close()

	p := &containerProc{label: label, cmd: cmd, cmdW: cmdW, ackR: ackR, alive: true}
	c.containers[label] = p
	c.order = append(c.order, label)

	ready := make([]byte, 1)
	if _, err := io.ReadFull(ackR, ready); err != nil {
		return errors.Closed("ready byte from container "+label, err)
	}
	if ready[0] != byte(wasmshm.AckReady) {
		return errors.BadAck(ready[0], byte(wasmshm.AckReady))
	}
	Logger().Info("container ready", zap.String("label", label), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Dispatch sends one command byte to the labeled container and blocks for
// its acknowledgment. It returns nil on the echoed command byte,
// ErrCommandFailed on the failure byte, ErrContainerGone when the pipe is
// dead, and a bad-ack error for anything else.
func (c *Coordinator) Dispatch(label string, cmd wasmshm.Command) error {
	p, ok := c.containers[label]
	if !ok {
		return errors.NotFound(errors.PhaseSpawn, "container", label)
	}
	if !p.alive {
		return errors.Wrap(errors.PhaseProtocol, errors.KindClosed, nil, "container "+label+" already gone")
	}

	log := Logger().With(zap.String("label", label), zap.String("command", cmd.String()))
	log.Debug("dispatching command")

	if _, err := p.cmdW.Write([]byte{byte(cmd)}); err != nil {
		p.alive = false
		p.crashed = true
		return errors.Closed("command write to container "+label, err)
	}

	ack := make([]byte, 1)
	if _, err := io.ReadFull(p.ackR, ack); err != nil {
		p.alive = false
		p.crashed = true
		log.Info("container pipe closed")
		return errors.Closed("ack from container "+label, err)
	}

	switch ack[0] {
	case byte(cmd):
		log.Debug("command acknowledged")
		if cmd == wasmshm.CmdExit {
			p.alive = false
		}
		return nil
	case byte(wasmshm.AckFailure):
		log.Warn("command failed in container")
		return errors.Wrap(errors.PhaseProtocol, errors.KindFailed, nil,
			cmd.String()+" in container "+label)
	default:
		return errors.BadAck(ack[0], byte(cmd))
	}
}

// Alive reports whether the labeled container still holds a live pipe.
func (c *Coordinator) Alive(label string) bool {
	p, ok := c.containers[label]
	return ok && p.alive
}

// Labels returns the container labels in spawn order.
func (c *Coordinator) Labels() []string {
	return append([]string(nil), c.order...)
}

// Regions returns the coordinator-side regions, nil before Start.
func (c *Coordinator) Regions() (ro, rw *region.Region) {
	return c.ro, c.rw
}

// Shutdown asks every live container to exit, waits for all container
// processes, and only then destroys the shared regions, so no region is
// unlinked while a mapping's process is still running. Containers that died
// from an intentional fault count as clean. The first unexpected error is
// returned after teardown completes.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	log := Logger()
	var firstErr error

	for _, label := range c.order {
		p := c.containers[label]
		if p.alive {
			if err := c.Dispatch(label, wasmshm.CmdExit); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, label := range c.order {
		p := c.containers[label]
		p.cmdW.Close()
		err := p.cmd.Wait()
		p.ackR.Close()
		switch {
		case err == nil:
			log.Info("container exited", zap.String("label", label))
		case p.crashed:
			// Expected for a container killed by the read-only protection
			// fault.
			log.Info("container terminated", zap.String("label", label), zap.Error(err))
		default:
			log.Warn("container exited abnormally", zap.String("label", label), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrap(errors.PhaseSpawn, errors.KindSystem, err, "wait container "+label)
			}
		}
	}

	if err := c.destroyRegions(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.cfg.ModulePath != "" {
		os.Remove(c.cfg.ModulePath)
	}
	return firstErr
}

func (c *Coordinator) destroyRegions() error {
	var firstErr error
	if c.ro != nil {
		if err := c.ro.Destroy(); err != nil {
			firstErr = err
		}
		c.ro = nil
	}
	if c.rw != nil {
		if err := c.rw.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.rw = nil
	}
	return firstErr
}
