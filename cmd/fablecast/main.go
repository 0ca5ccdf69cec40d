// fablecast runs the audiobook pipeline: the HTTP ingress server plus the
// splitter, chunker, synthesizer, stitcher and event-tracker workers, each
// as its own subcommand so every stage scales as an independent process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/fablecast/fablecast/pkg/types"
)

const version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "fablecast",
		Short:   "EPUB to audiobook conversion pipeline",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(
		newServeCmd(),
		newTrackerCmd(),
		newSplitterCmd(),
		newChunkerCmd(),
		newSynthesizerCmd(),
		newStitcherCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configured file; with no file it starts from the
// built-in defaults. Environment overrides apply either way.
func loadConfig() *types.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if configPath != "" {
		log.Printf("Configuration loaded from: %s", configPath)
	}
	return cfg
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
