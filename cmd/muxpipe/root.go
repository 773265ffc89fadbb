package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/logger"
)

const configEnv = "MUXPIPE_CONFIG_PATH"

var defaultConfigPaths = []string{"./muxpipe.yaml", "/etc/muxpipe/muxpipe.yaml"}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "muxpipe",
		Short:         "Mux media streams with ffmpeg over named pipes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	cmd.AddCommand(newMuxCommand())
	cmd.AddCommand(newProbeCommand())
	cmd.AddCommand(newServeCommand())
	return cmd
}

// loadConfig loads the global configuration and reconfigures the root logger
// from it. An explicit path must exist; otherwise the environment and the
// default locations are tried.
func loadConfig(path string) error {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	} else {
		path = findConfig()
	}

	if err := config.Load(path); err != nil {
		return err
	}

	cfg := config.Get()
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return nil
}

func findConfig() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
