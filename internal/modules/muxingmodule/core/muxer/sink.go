package muxer

import (
	"io"
	"os"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// SinkKind selects where the child's stderr goes
type SinkKind int

const (
	// SinkNull discards the child's diagnostics
	SinkNull SinkKind = iota
	// SinkStderr forwards diagnostics to this process's stderr
	SinkStderr
	// SinkOwned writes diagnostics to a file the muxer opened and must close
	SinkOwned
)

func (k SinkKind) String() string {
	switch k {
	case SinkStderr:
		return "stderr"
	case SinkOwned:
		return "file"
	default:
		return "null"
	}
}

// Sink is the child's error-log destination
type Sink struct {
	Kind SinkKind
	Path string
	file *os.File
}

// ResolveSink picks the sink from the session: a verbose path wins over the
// verbose flag, otherwise output is discarded.
func ResolveSink(session types.Session) (Sink, error) {
	if path, ok := types.SessionString(session, types.OptFFmpegVerbosePath); ok {
		f, err := os.Create(path)
		if err != nil {
			return Sink{}, muxerrors.ValidationError("open_log", err).WithDetail("path", path)
		}
		return Sink{Kind: SinkOwned, Path: path, file: f}, nil
	}

	if types.SessionBool(session, types.OptFFmpegVerbose) {
		return Sink{Kind: SinkStderr}, nil
	}

	return Sink{Kind: SinkNull}, nil
}

// Writer returns the writer to hand to the child. Nil means the null device.
func (s Sink) Writer() io.Writer {
	switch s.Kind {
	case SinkOwned:
		return s.file
	case SinkStderr:
		return os.Stderr
	default:
		return nil
	}
}

// Close closes the sink if the muxer owns it
func (s Sink) Close() error {
	if s.Kind != SinkOwned || s.file == nil {
		return nil
	}
	return s.file.Close()
}
