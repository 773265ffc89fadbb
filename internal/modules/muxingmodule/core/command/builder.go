// Package command builds the muxing child's command line.
//
// The argument vector is always laid out as
//
//	<binary> -y -nostats -loglevel <level>
//	  -i <pipe>...                       one per input, in input order
//	  -c:v <vcodec> -c:a <acodec>
//	  -map <m>...                        in caller order
//	  [-copyts [-start_at_zero]]
//	  -metadata[:<selector>] <datum>...  in insertion order
//	  -f <format> <output>
//
// Session options ("ffmpeg-*" keys) take precedence over per-call options,
// which take precedence over the defaults below.
package command

import (
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// Defaults applied when neither the session nor the caller set a value
const (
	DefaultLogLevel = "info"
	DefaultFormat   = "matroska"
	DefaultCodec    = "copy"
	DefaultOutput   = "pipe:1"
)

// Config is the fully resolved muxer configuration
type Config struct {
	LogLevel    string
	Format      string
	OutPath     string
	VCodec      string
	ACodec      string
	CopyTS      bool
	StartAtZero bool
	Maps        []string
	Metadata    types.Metadata
}

// Resolve merges session options, per-call options and defaults
func Resolve(session types.Session, opts types.MuxOptions) Config {
	return Config{
		LogLevel:    pick(session, types.OptFFmpegLogLevel, opts.LogLevel, DefaultLogLevel),
		Format:      pick(session, types.OptFFmpegFormat, opts.Format, DefaultFormat),
		OutPath:     firstNonEmpty(opts.OutPath, DefaultOutput),
		VCodec:      pick(session, types.OptFFmpegVideoCodec, opts.VCodec, DefaultCodec),
		ACodec:      pick(session, types.OptFFmpegAudioCodec, opts.ACodec, DefaultCodec),
		CopyTS:      types.SessionBool(session, types.OptFFmpegCopyTS) || opts.CopyTS,
		StartAtZero: types.SessionBool(session, types.OptFFmpegStartAtZero) || opts.StartAtZero,
		Maps:        append([]string(nil), opts.Maps...),
		Metadata:    opts.Metadata.Clone(),
	}
}

// Build returns the full argument vector, binary first
func Build(binary string, inputs []string, cfg Config) []string {
	args := []string{binary}

	// Global options
	args = append(args, "-y", "-nostats")
	args = append(args, "-loglevel", cfg.LogLevel)

	// Inputs
	for _, input := range inputs {
		args = append(args, "-i", input)
	}

	// Codecs
	args = append(args, "-c:v", cfg.VCodec)
	args = append(args, "-c:a", cfg.ACodec)

	// Stream mapping
	for _, m := range cfg.Maps {
		args = append(args, "-map", m)
	}

	// Timestamps; start_at_zero only has meaning with copyts
	if cfg.CopyTS {
		args = append(args, "-copyts")
		if cfg.StartAtZero {
			args = append(args, "-start_at_zero")
		}
	}

	// Metadata
	for _, entry := range cfg.Metadata {
		flag := "-metadata"
		if entry.Selector != "" {
			flag += ":" + entry.Selector
		}
		for _, datum := range entry.Data {
			args = append(args, flag, datum)
		}
	}

	// Output
	args = append(args, "-f", cfg.Format, cfg.OutPath)

	return args
}

func pick(session types.Session, key, perCall, fallback string) string {
	if v, ok := types.SessionString(session, key); ok {
		return v
	}
	return firstNonEmpty(perCall, fallback)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
