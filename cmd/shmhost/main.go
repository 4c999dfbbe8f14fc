package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"golang.org/x/term"

	wasmshm "github.com/wippyai/wasm-shm"
	"github.com/wippyai/wasm-shm/coordinator"
)

// options is the environment-driven configuration, overridable by flags.
// Variables carry the SHM prefix, e.g. SHM_RO_NAME.
type options struct {
	ROName       string `envconfig:"RO_NAME" default:"/shared_ro"`
	ROSize       int    `envconfig:"RO_SIZE" default:"5000"`
	RWName       string `envconfig:"RW_NAME" default:"/shared_rw"`
	RWSize       int    `envconfig:"RW_SIZE" default:"1000"`
	ContainerBin string `envconfig:"CONTAINER_BIN"`
	ModulePath   string `envconfig:"MODULE_PATH"`
	Labels       string `envconfig:"LABELS" default:"A,B"`
	Debug        bool   `envconfig:"DEBUG"`
}

func main() {
	var opts options
	if err := envconfig.Process("shm", &opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		containerBin = flag.String("container", opts.ContainerBin, "Path to the shmcontainer binary (default: next to this binary)")
		modulePath   = flag.String("module", opts.ModulePath, "Where to write the guest module (default: temp file)")
		labels       = flag.String("labels", opts.Labels, "Comma-separated container labels")
		sequence     = flag.String("sequence", "", "Scripted step sequence, e.g. \"A:i A:v B:i B:r A:x B:x\" (default: built-in demo)")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		debug        = flag.Bool("debug", opts.Debug, "Enable debug logging")
	)
	flag.Parse()

	if err := run(opts, *containerBin, *modulePath, *labels, *sequence, *interactive, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, containerBin, modulePath, labels, sequence string, interactive, debug bool) error {
	log, err := newLogger(debug, interactive)
	if err != nil {
		return err
	}
	defer log.Sync()
	coordinator.SetLogger(log)

	if containerBin == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate container binary: %w", err)
		}
		containerBin = filepath.Join(filepath.Dir(exe), "shmcontainer")
	}
	if modulePath == "" {
		f, err := os.CreateTemp("", "guest-*.wasm")
		if err != nil {
			return fmt.Errorf("module temp file: %w", err)
		}
		f.Close()
		modulePath = f.Name()
	}

	containerCmd := []string{containerBin}
	if debug {
		containerCmd = append(containerCmd, "-debug")
	}

	cfg := coordinator.Config{
		RO:           wasmshm.RegionSpec{Name: opts.ROName, Size: opts.ROSize, Mode: wasmshm.ModeReadOnly},
		RW:           wasmshm.RegionSpec{Name: opts.RWName, Size: opts.RWSize, Mode: wasmshm.ModeReadWrite},
		ModulePath:   modulePath,
		ContainerCmd: containerCmd,
		Labels:       splitLabels(labels),
	}

	steps := coordinator.DefaultSequence
	if sequence != "" {
		if steps, err = coordinator.ParseSequence(sequence); err != nil {
			return err
		}
	}

	if interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}

	ctx := context.Background()
	c, err := coordinator.New(cfg)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}

	if interactive {
		runErr := runInteractive(c)
		if err := c.Shutdown(ctx); runErr == nil {
			runErr = err
		}
		return runErr
	}

	seqErr := c.RunSequence(ctx, steps)
	if err := c.Shutdown(ctx); seqErr == nil {
		seqErr = err
	}
	return seqErr
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, strings.ToUpper(l))
		}
	}
	return labels
}

// newLogger keeps the TUI's stdout clean by logging to stderr only.
func newLogger(debug, interactive bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if interactive && !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
