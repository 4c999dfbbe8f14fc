package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-shm/container"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: shmcontainer <module> <label> <read-fd> <write-fd> <ro-name> <ro-size> <rw-name> <rw-size>")
		fmt.Fprintln(os.Stderr, "Spawned by shmhost with pipe descriptors inherited; not meant to run by hand.")
		os.Exit(2)
	}

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	container.SetLogger(log)

	cfg, err := container.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := container.Run(context.Background(), cfg); err != nil {
		log.Error("container failed", zap.String("label", cfg.Label), zap.Error(err))
		os.Exit(1)
	}
}

// newLogger builds a stderr logger: stdout stays clean in case the
// coordinator interleaves container output with its own.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
