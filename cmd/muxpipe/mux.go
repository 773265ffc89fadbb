package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mantonx/muxpipe/internal/config"
	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// absentInput marks an input slot with no stream
const absentInput = "-"

type muxFlags struct {
	output      string
	format      string
	videoCodec  string
	audioCodec  string
	copyTS      bool
	startAtZero bool
	maps        []string
	subtitles   []string
	metadata    []string
}

func newMuxCommand() *cobra.Command {
	var flags muxFlags

	cmd := &cobra.Command{
		Use:   "mux [flags] INPUT...",
		Short: "Mux input files into one container stream",
		Long: `Mux video and audio files into a single container. The muxed stream is
written to stdout unless --output is set. Pass "-" as an input to leave a
slot empty.`,
		Example: `  muxpipe mux video.h264 audio.aac -o movie.mkv
  muxpipe mux video.h264 - --sub eng=movie.srt -f matroska > movie.mkv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			return runMux(cmd.Context(), req, flags.output, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.output, "output", "o", "", "write the muxed stream to this file")
	f.StringVarP(&flags.format, "format", "f", "", "container format (default matroska)")
	f.StringVar(&flags.videoCodec, "vcodec", "", "video codec (default copy)")
	f.StringVar(&flags.audioCodec, "acodec", "", "audio codec (default copy)")
	f.BoolVar(&flags.copyTS, "copyts", false, "keep input timestamps")
	f.BoolVar(&flags.startAtZero, "start-at-zero", false, "shift timestamps to start at zero (with --copyts)")
	f.StringArrayVar(&flags.maps, "map", nil, "stream map, repeatable")
	f.StringArrayVar(&flags.subtitles, "sub", nil, "subtitle as LANG=PATH, repeatable")
	f.StringArrayVar(&flags.metadata, "metadata", nil, "metadata as [SELECTOR@]KEY=VALUE, repeatable")
	return cmd
}

func (f muxFlags) request(args []string) (types.MuxRequest, error) {
	req := types.MuxRequest{
		Format:      f.format,
		VideoCodec:  f.videoCodec,
		AudioCodec:  f.audioCodec,
		CopyTS:      f.copyTS,
		StartAtZero: f.startAtZero,
		Maps:        f.maps,
	}

	for _, arg := range args {
		if arg == absentInput {
			arg = ""
		}
		req.Inputs = append(req.Inputs, arg)
	}

	for _, s := range f.subtitles {
		lang, path, ok := strings.Cut(s, "=")
		if !ok || lang == "" || path == "" {
			return req, fmt.Errorf("invalid subtitle %q, want LANG=PATH", s)
		}
		req.Subtitles = append(req.Subtitles, types.SubtitleRequest{Language: lang, Path: path})
	}

	for _, m := range f.metadata {
		selector, datum := "", m
		if sel, rest, ok := strings.Cut(m, "@"); ok {
			selector, datum = sel, rest
		}
		if !strings.Contains(datum, "=") {
			return req, fmt.Errorf("invalid metadata %q, want [SELECTOR@]KEY=VALUE", m)
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string][]string)
		}
		req.Metadata[selector] = append(req.Metadata[selector], datum)
	}

	return req, nil
}

func runMux(ctx context.Context, req types.MuxRequest, output string, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	// Local invocations may name any file
	cfg.Server.MediaRoot = ""

	log := logger.Named("mux")
	registry := process.NewRegistry(log, process.RegistryConfig{})
	defer registry.Shutdown(context.Background())

	resolver := binary.NewResolver(log, binary.ResolverConfig{ProbeTimeout: cfg.FFmpeg.ProbeTimeout})
	svc := muxingmodule.NewService(cfg, resolver, registry, nil, nil, log)
	defer svc.Shutdown(context.Background())

	out, err := svc.Mux(ctx, req)
	if err != nil {
		return err
	}
	defer out.Close()

	// The output file is only touched once the inputs were accepted
	dst := stdout
	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		dst = file
	}

	written, err := io.Copy(dst, out)
	if err != nil {
		return fmt.Errorf("copy muxed stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	<-out.Exited()
	if code := out.ExitCode(); code != 0 {
		return fmt.Errorf("%s exited with code %d", binary.ToolName, code)
	}

	log.Info("mux finished", "mux_id", out.ID(), "bytes", written)
	return nil
}
