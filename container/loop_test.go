package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	wasmshm "github.com/wippyai/wasm-shm"
	shmerrors "github.com/wippyai/wasm-shm/errors"
	"github.com/wippyai/wasm-shm/guestmod"
	"github.com/wippyai/wasm-shm/region"
)

// harness drives one in-process container over real pipes and real shared
// memory regions, playing the coordinator's half of the protocol. Only the
// read-only write command is off limits here: its protection fault would
// kill the test process.
type harness struct {
	t    *testing.T
	ro   *region.Region
	rw   *region.Region
	cmdW io.Writer
	ackR io.Reader
	done chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	roSpec := wasmshm.RegionSpec{
		Name: fmt.Sprintf("/wasmshm_test_loop_ro_%s_%d", t.Name(), os.Getpid()),
		Size: 256, Mode: wasmshm.ModeReadOnly,
	}
	rwSpec := wasmshm.RegionSpec{
		Name: fmt.Sprintf("/wasmshm_test_loop_rw_%s_%d", t.Name(), os.Getpid()),
		Size: 128, Mode: wasmshm.ModeReadWrite,
	}

	ro, err := region.Create(roSpec)
	if err != nil {
		t.Fatalf("create ro region: %v", err)
	}
	t.Cleanup(func() { ro.Destroy() })
	rw, err := region.Create(rwSpec)
	if err != nil {
		t.Fatalf("create rw region: %v", err)
	}
	t.Cleanup(func() { rw.Destroy() })
	ro.Fill()
	rw.Fill()

	module := guestmod.Build(guestmod.Config{ROSize: roSpec.Size, RWSize: rwSpec.Size})

	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		t.Fatalf("command pipe: %v", err)
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		t.Fatalf("ack pipe: %v", err)
	}
	t.Cleanup(func() {
		cmdR.Close()
		cmdW.Close()
		ackR.Close()
		ackW.Close()
	})

	cfg := Config{Label: "T", RO: roSpec, RW: rwSpec}
	c := New(cfg, module, cmdR, ackW)
	h := &harness{t: t, ro: ro, rw: rw, cmdW: cmdW, ackR: ackR, done: make(chan error, 1)}

	ctx := context.Background()
	go func() {
		h.done <- c.Serve(ctx)
		c.close(ctx)
	}()
	h.expectAck(byte(wasmshm.AckReady))
	return h
}

func (h *harness) expectAck(want byte) {
	h.t.Helper()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(h.ackR, buf); err != nil {
		h.t.Fatalf("read ack: %v", err)
	}
	if buf[0] != want {
		h.t.Fatalf("ack = %q, want %q", buf[0], want)
	}
}

func (h *harness) send(cmd byte, wantAck byte) {
	h.t.Helper()
	if _, err := h.cmdW.Write([]byte{cmd}); err != nil {
		h.t.Fatalf("send command %q: %v", cmd, err)
	}
	h.expectAck(wantAck)
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(10 * time.Second):
		h.t.Fatal("container loop did not finish")
		return nil
	}
}

func TestServeFullSession(t *testing.T) {
	h := newHarness(t)

	// Commands before init fail recoverably.
	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.AckFailure))

	h.send(byte(wasmshm.CmdInit), byte(wasmshm.CmdInit))
	// A second init is refused.
	h.send(byte(wasmshm.CmdInit), byte(wasmshm.AckFailure))

	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.CmdVerify))

	// The guest's write lands in the shared object: our own mapping sees it.
	h.send(byte(wasmshm.CmdWriteRW), byte(wasmshm.CmdWriteRW))
	got := h.rw.Bytes()[3:13]
	want := []byte{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}
	if !bytes.Equal(got, want) {
		t.Fatalf("shared bytes after write = %v, want %v", got, want)
	}
	h.send(byte(wasmshm.CmdReadRW), byte(wasmshm.CmdReadRW))

	h.send(byte(wasmshm.CmdStressAlloc), byte(wasmshm.CmdStressAlloc))
	h.send(byte(wasmshm.CmdForceError), byte(wasmshm.CmdForceError))

	// Stress allocation and the contained fault left the mappings intact.
	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.CmdVerify))

	h.send(byte(wasmshm.CmdExit), byte(wasmshm.CmdExit))
	if err := h.wait(); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeSeesCoordinatorWrites(t *testing.T) {
	h := newHarness(t)
	h.send(byte(wasmshm.CmdInit), byte(wasmshm.CmdInit))
	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.CmdVerify))

	// Corrupt through the coordinator-side mapping; the guest's next scan
	// must see it through its own fixed mapping.
	h.ro.Bytes()[10] = 0
	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.AckFailure))

	region.Fill(h.ro.Bytes(), wasmshm.ModeReadOnly)
	h.send(byte(wasmshm.CmdVerify), byte(wasmshm.CmdVerify))

	h.send(byte(wasmshm.CmdExit), byte(wasmshm.CmdExit))
	if err := h.wait(); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.send('Z', byte(wasmshm.AckFailure))
	h.send(byte(wasmshm.CmdExit), byte(wasmshm.CmdExit))
	if err := h.wait(); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestServeCoordinatorDisconnect(t *testing.T) {
	h := newHarness(t)
	if c, ok := h.cmdW.(io.Closer); ok {
		c.Close()
	}
	err := h.wait()
	if !errors.Is(err, shmerrors.New(shmerrors.PhaseProtocol, shmerrors.KindClosed)) {
		t.Fatalf("disconnect error = %v, want protocol/closed", err)
	}
}
