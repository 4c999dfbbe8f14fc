package container

import (
	"context"
	"io"

	"go.uber.org/zap"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/errors"
	"github.com/wippyai/wasm-shm/guestmod"
	"github.com/wippyai/wasm-shm/region"
)

// Fixed pattern used by the write/read round trip across containers: one
// writes ascending bytes, a sibling reads them back through its own mapping.
const (
	patternPos   = 3
	patternValue = 20
	patternLen   = 10
)

// Serve announces readiness and then processes one command byte at a time
// until exit or pipe EOF. Recoverable command failures are acknowledged with
// the failure byte and the loop continues; only a dead pipe ends it with an
// error.
func (c *Container) Serve(ctx context.Context) error {
	log := Logger().With(zap.String("label", c.cfg.Label))

	if err := c.send(byte(wasmshm.AckReady)); err != nil {
		return err
	}
	log.Info("container ready")

	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(c.in, buf); err != nil {
			return errors.Closed("command read", err)
		}
		cmd := wasmshm.Command(buf[0])
		log.Debug("command received", zap.String("command", cmd.String()))

		ok := c.handle(ctx, log, cmd)

		ack := byte(cmd)
		if !ok {
			ack = byte(wasmshm.AckFailure)
		}
		if err := c.send(ack); err != nil {
			return err
		}
		if cmd == wasmshm.CmdExit && ok {
			log.Info("container exiting")
			return nil
		}
	}
}

func (c *Container) send(b byte) error {
	if _, err := c.out.Write([]byte{b}); err != nil {
		return errors.Closed("ack write", err)
	}
	return nil
}

func (c *Container) handle(ctx context.Context, log *zap.Logger, cmd wasmshm.Command) bool {
	if cmd == wasmshm.CmdExit {
		return true
	}
	if cmd == wasmshm.CmdInit {
		return c.handleInit(ctx, log)
	}
	if !cmd.Valid() {
		log.Warn("unknown command", zap.Uint8("byte", byte(cmd)))
		return false
	}
	if c.guest == nil {
		log.Warn("command before init", zap.String("command", cmd.String()))
		return false
	}

	switch cmd {
	case wasmshm.CmdVerify:
		return c.handleVerify(ctx, log)
	case wasmshm.CmdStressAlloc:
		return c.handleStressAlloc(ctx, log)
	case wasmshm.CmdWriteRW:
		return c.handleWriteRW(ctx, log)
	case wasmshm.CmdReadRW:
		return c.handleReadRW(ctx, log)
	case wasmshm.CmdWriteRO:
		return c.handleWriteRO(ctx, log)
	case wasmshm.CmdForceError:
		return c.handleForceError(ctx, log)
	}
	return false
}

func (c *Container) handleInit(ctx context.Context, log *zap.Logger) bool {
	if c.guest != nil {
		log.Warn("guest already initialized")
		return false
	}

	g, err := NewGuest(ctx, c.module)
	if err != nil {
		log.Error("guest instantiation failed", zap.Error(err))
		return false
	}
	m, err := MapSharedRegions(ctx, g, c.cfg.RO, c.cfg.RW)
	if err != nil {
		g.Close(ctx)
		log.Error("region mapping failed", zap.Error(err))
		return false
	}

	c.guest, c.mapped = g, m
	log.Info("guest initialized",
		zap.Uint32("ro_offset", m.ROOffset), zap.Uint32("rw_offset", m.RWOffset))
	return true
}

func (c *Container) handleVerify(ctx context.Context, log *zap.Logger) bool {
	res, err := c.guest.Call(ctx, guestmod.ExportVerify)
	if err != nil {
		log.Error("verify trapped", zap.Error(err))
		return false
	}
	switch int(res) {
	case region.VerifyOK:
		log.Info("region contents verified")
		return true
	case region.VerifyPrefixMismatch:
		log.Error("region content mismatch", zap.String("at", "prefix token"))
	case region.VerifySuffixMismatch:
		log.Error("region content mismatch", zap.String("at", "suffix token"))
	default:
		log.Error("region content mismatch", zap.Uint64("offset", res))
	}
	return false
}

func (c *Container) handleStressAlloc(ctx context.Context, log *zap.Logger) bool {
	res, err := c.guest.Call(ctx, guestmod.ExportStressAlloc)
	if err != nil {
		log.Error("stress allocation trapped", zap.Error(err))
		return false
	}
	if res != 0 {
		log.Info("guest heap exhausted", zap.Uint64("iteration", res))
	}
	log.Info("heap after stress run", zap.Float64("fill_percent", c.fillPercent()))

	if _, err := c.guest.Call(ctx, guestmod.ExportClearAlloc); err != nil {
		log.Error("heap clear trapped", zap.Error(err))
		return false
	}
	log.Info("heap after clear", zap.Float64("fill_percent", c.fillPercent()))
	return true
}

// fillPercent reports how much of the guest memory carries the stress fill
// byte, a coarse view of heap occupancy.
func (c *Container) fillPercent() float64 {
	mem := c.guest.Memory()
	data, ok := mem.Read(0, mem.Size())
	if !ok || len(data) == 0 {
		return 0
	}
	filled := 0
	for _, b := range data {
		if b == guestmod.StressFillByte {
			filled++
		}
	}
	return 100 * float64(filled) / float64(len(data))
}

func (c *Container) handleWriteRW(ctx context.Context, log *zap.Logger) bool {
	_, err := c.guest.Call(ctx, guestmod.ExportWrite, patternPos, patternValue, patternLen)
	if err != nil {
		log.Error("pattern write trapped", zap.Error(err))
		return false
	}
	log.Info("pattern written to read-write region")
	return true
}

func (c *Container) handleReadRW(ctx context.Context, log *zap.Logger) bool {
	res, err := c.guest.Call(ctx, guestmod.ExportRead, patternPos, patternValue, patternLen)
	if err != nil {
		log.Error("pattern read trapped", zap.Error(err))
		return false
	}
	if res != 0 {
		log.Error("pattern mismatch in read-write region")
		return false
	}
	log.Info("pattern read back from read-write region")
	return true
}

// handleWriteRO is expected to never return: the store lands on a PROT_READ
// page and the kernel kills the process mid-call. Returning at all means the
// protection is not in place.
func (c *Container) handleWriteRO(ctx context.Context, log *zap.Logger) bool {
	log.Info("writing through read-only mapping, expecting a fault")
	_, err := c.guest.Call(ctx, guestmod.ExportWriteRO)
	log.Error("read-only write did not fault", zap.Error(err))
	return false
}

// handleForceError succeeds when the wild dereference traps: the engine
// contained a fault that never touched real memory.
func (c *Container) handleForceError(ctx context.Context, log *zap.Logger) bool {
	_, err := c.guest.Call(ctx, guestmod.ExportForceFault)
	if err == nil {
		log.Error("wild dereference did not trap")
		return false
	}
	log.Info("fault contained by sandbox", zap.Error(err))
	return true
}
