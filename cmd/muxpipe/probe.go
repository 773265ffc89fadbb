package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
)

func newProbeCommand() *cobra.Command {
	var (
		binaryPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Resolve the ffmpeg binary and print its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if binaryPath == "" {
				binaryPath = cfg.FFmpeg.Path
			}

			resolver := binary.NewResolver(logger.Named("probe"), binary.ResolverConfig{
				ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
			})
			res := resolver.Lookup(binaryPath, true)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Path != "" {
				fmt.Fprintf(out, "%s\t%s\n", res.Path, res.Version)
			}

			if res.Path == "" {
				return fmt.Errorf("no usable %s binary found", binary.ToolName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&binaryPath, "ffmpeg", "", "preferred ffmpeg binary")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
