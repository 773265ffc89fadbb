// Package stream opens a bundle of substream sources and hands them to a
// muxer, producing one container stream.
package stream

import (
	"fmt"
	"io"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/muxpipe/internal/logger"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/binary"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/muxer"
	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// SubtitleSelector returns the metadata selector of the i-th subtitle stream
func SubtitleSelector(i int) string {
	return "s:s:" + strconv.Itoa(i)
}

// MuxedStream is a video/audio/subtitle bundle that muxes into one stream
type MuxedStream struct {
	session types.Session
	inputs  []types.Input
	opts    types.MuxOptions
	options []muxer.Option
	logger  hclog.Logger
}

// NewMuxedStream creates a muxed stream. inputs are the video and audio slots
// in declaration order; subtitles come from opts.Subtitles.
func NewMuxedStream(session types.Session, inputs []types.Input, opts types.MuxOptions, options ...muxer.Option) *MuxedStream {
	return &MuxedStream{
		session: session,
		inputs:  inputs,
		opts:    opts,
		options: options,
		logger:  logger.Named("stream"),
	}
}

// WithLogger replaces the stream's logger
func (s *MuxedStream) WithLogger(l hclog.Logger) *MuxedStream {
	if l != nil {
		s.logger = l
	}
	return s
}

// Options returns the per-call options, including any maps and subtitle
// metadata filled in by Build
func (s *MuxedStream) Options() types.MuxOptions {
	return s.opts
}

// IsUsable reports whether the muxing binary can be used for this session
func (s *MuxedStream) IsUsable(resolver *binary.Resolver) bool {
	return muxer.IsUsable(s.session, resolver)
}

// Build opens every substream and constructs the muxer without starting it.
// Absent slots are skipped and take no map index. If anything fails, the
// substreams opened so far are closed.
func (s *MuxedStream) Build() (*muxer.Muxer, error) {
	var fds []types.Substream
	metadata := s.opts.Metadata.Clone()
	maps := append([]string(nil), s.opts.Maps...)
	updateMaps := len(maps) == 0

	open := func(src types.Source, what string) error {
		sub, err := src.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", what, err)
		}
		if updateMaps {
			maps = append(maps, strconv.Itoa(len(fds)))
		}
		fds = append(fds, sub)
		return nil
	}

	for i, in := range s.inputs {
		src, ok := in.Source()
		if !ok {
			s.logger.Debug("skipping absent input", "position", i)
			continue
		}
		if err := open(src, fmt.Sprintf("input %d", i)); err != nil {
			closeAll(fds, s.logger)
			return nil, muxerrors.StreamError("open_substream", err)
		}
	}

	// Subtitle selectors count only the subtitle streams actually muxed
	n := 0
	for i, sub := range s.opts.Subtitles {
		if sub.Source == nil {
			s.logger.Debug("skipping absent subtitle", "position", i, "language", sub.Language)
			continue
		}
		if err := open(sub.Source, fmt.Sprintf("subtitle %d", i)); err != nil {
			closeAll(fds, s.logger)
			return nil, muxerrors.StreamError("open_substream", err)
		}
		metadata.Set(SubtitleSelector(n), "language="+sub.Language)
		n++
	}

	s.opts.Metadata = metadata
	s.opts.Maps = maps

	m, err := muxer.New(s.session, fds, s.opts, s.options...)
	if err != nil {
		closeAll(fds, s.logger)
		return nil, err
	}
	return m, nil
}

// Open builds the muxer and starts it
func (s *MuxedStream) Open() (*muxer.Muxer, error) {
	m, err := s.Build()
	if err != nil {
		return nil, err
	}
	if err := m.Open(); err != nil {
		return nil, err
	}
	return m, nil
}

func closeAll(fds []types.Substream, log hclog.Logger) {
	for i, fd := range fds {
		c, ok := fd.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			log.Debug("failed to close substream", "input", i, "error", err)
		}
	}
}
