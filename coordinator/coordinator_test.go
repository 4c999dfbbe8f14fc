package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/container"
	"github.com/wippyai/wasm-shm/errors"
)

// TestMain doubles as the container entry point: the coordinator spawns this
// test binary with the helper argument, which routes the process into the
// real container loop instead of the test runner. That exercises the genuine
// process boundary, including the protection fault killing a child.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "container-helper" {
		cfg, err := container.ParseArgs(os.Args[2:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "container-helper:", err)
			os.Exit(2)
		}
		if err := container.Run(context.Background(), cfg); err != nil {
			fmt.Fprintln(os.Stderr, "container-helper:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testConfig(t *testing.T) Config {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	return Config{
		RO: wasmshm.RegionSpec{
			Name: fmt.Sprintf("/wasmshm_test_%s_ro_%d", name, os.Getpid()),
			Size: 5000, Mode: wasmshm.ModeReadOnly,
		},
		RW: wasmshm.RegionSpec{
			Name: fmt.Sprintf("/wasmshm_test_%s_rw_%d", name, os.Getpid()),
			Size: 1000, Mode: wasmshm.ModeReadWrite,
		},
		ModulePath:   filepath.Join(t.TempDir(), "guest.wasm"),
		ContainerCmd: []string{os.Args[0], "container-helper"},
		Labels:       []string{"A", "B"},
	}
}

func startCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	ctx := context.Background()

	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func TestRunDefaultSequence(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)

	if err := c.RunSequence(ctx, DefaultSequence); err != nil {
		c.Shutdown(ctx)
		t.Fatalf("sequence: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Shutdown unlinked both objects.
	for _, spec := range []wasmshm.RegionSpec{testConfig(t).RO, testConfig(t).RW} {
		path := "/dev/shm/" + strings.TrimPrefix(spec.Name, "/")
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("shared object %s still linked (stat err %v)", path, err)
		}
	}
}

func TestWriteReadonlyKillsContainer(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)
	defer c.Shutdown(ctx)

	steps, err := ParseSequence("A:i A:v B:i B:v")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.RunSequence(ctx, steps); err != nil {
		t.Fatalf("setup sequence: %v", err)
	}

	// The protection fault kills A without an acknowledgment.
	err = c.Dispatch("A", wasmshm.CmdWriteRO)
	if !stderrors.Is(err, ErrContainerGone) {
		t.Fatalf("write-ro dispatch = %v, want container-gone", err)
	}
	if c.Alive("A") {
		t.Error("A still marked alive after fault")
	}

	// B's mappings and content are untouched by A's death.
	if !c.Alive("B") {
		t.Fatal("B not alive")
	}
	if err := c.Dispatch("B", wasmshm.CmdVerify); err != nil {
		t.Errorf("B verify after A's fault: %v", err)
	}
	if err := c.Dispatch("B", wasmshm.CmdExit); err != nil {
		t.Errorf("B exit: %v", err)
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown after expected crash: %v", err)
	}
}

func TestWriteReadonlyStepInSequence(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)
	defer c.Shutdown(ctx)

	steps, err := ParseSequence("A:i B:i A:q B:v B:x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.RunSequence(ctx, steps); err != nil {
		t.Fatalf("sequence with expected crash: %v", err)
	}
}

func TestForceErrorContained(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)
	defer c.Shutdown(ctx)

	steps, err := ParseSequence("A:i A:e A:v A:x B:x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// The wild dereference traps inside the sandbox; A survives it and its
	// mappings still verify.
	if err := c.RunSequence(ctx, steps); err != nil {
		t.Fatalf("sequence: %v", err)
	}
}

func TestCommandFailureIsRecoverable(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)
	defer c.Shutdown(ctx)

	// Verify before init fails in the container but leaves it serving.
	err := c.Dispatch("A", wasmshm.CmdVerify)
	if !stderrors.Is(err, ErrCommandFailed) {
		t.Fatalf("pre-init verify = %v, want command-failed", err)
	}
	if !c.Alive("A") {
		t.Fatal("A gone after recoverable failure")
	}
	if err := c.Dispatch("A", wasmshm.CmdInit); err != nil {
		t.Fatalf("init after failure: %v", err)
	}
}

func TestDispatchUnknownLabel(t *testing.T) {
	ctx := context.Background()
	c := startCoordinator(t)
	defer c.Shutdown(ctx)

	err := c.Dispatch("Z", wasmshm.CmdInit)
	if !stderrors.Is(err, errors.New(errors.PhaseSpawn, errors.KindNotFound)) {
		t.Fatalf("unknown label dispatch = %v, want spawn/not-found", err)
	}
}

func TestParseSequence(t *testing.T) {
	steps, err := ParseSequence("A:i a:v B:x")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Step{
		{"A", wasmshm.CmdInit},
		{"A", wasmshm.CmdVerify},
		{"B", wasmshm.CmdExit},
	}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %v, want %v", i, steps[i], want[i])
		}
	}

	t.Run("comma_separated", func(t *testing.T) {
		steps, err := ParseSequence("Ai,Bv")
		if err != nil || len(steps) != 2 {
			t.Fatalf("steps %v, err %v", steps, err)
		}
	})

	for _, bad := range []string{"", "A:z", "ABC", "A"} {
		t.Run("rejects_"+bad, func(t *testing.T) {
			if _, err := ParseSequence(bad); err == nil {
				t.Errorf("ParseSequence(%q) accepted", bad)
			}
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	base := testConfig(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no_module_path", func(c *Config) { c.ModulePath = "" }},
		{"no_container_cmd", func(c *Config) { c.ContainerCmd = nil }},
		{"no_labels", func(c *Config) { c.Labels = nil }},
		{"bad_ro_name", func(c *Config) { c.RO.Name = "shared_ro" }},
		{"tiny_rw", func(c *Config) { c.RW.Size = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}
