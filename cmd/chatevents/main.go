package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatevents/pkg/config"
	"chatevents/pkg/logger"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func versionString() string {
	v := version
	if commit != "none" {
		v += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		v += " @ " + buildDate
	}
	return v
}

// storageFlags are shared by every subcommand that opens storage.
type storageFlags struct {
	config string
	path   string
	engine string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&f.path, "path", "", "storage directory")
	cmd.Flags().StringVar(&f.engine, "engine", "", "storage engine: pebble, sqlite or memory")
}

func (f *storageFlags) toConfig(cmd *cobra.Command) config.Flags {
	set := map[string]bool{}
	for _, name := range []string{"config", "path", "engine", "addr"} {
		if fl := cmd.Flags().Lookup(name); fl != nil && fl.Changed {
			set[name] = true
		}
	}
	return config.Flags{Config: f.config, Path: f.path, Engine: f.engine, Set: set}
}

// load builds the effective config and initialises the logger from it.
func (f *storageFlags) load(cmd *cobra.Command) (*config.Config, config.Source, error) {
	return f.loadFlags(f.toConfig(cmd))
}

func (f *storageFlags) loadFlags(flags config.Flags) (*config.Config, config.Source, error) {
	cfg, src, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		return nil, src, err
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, src, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatevents",
		Short:         "Chat event store",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newBenchCmd(), newInspectCmd())
	return root
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	err := newRootCmd().Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
