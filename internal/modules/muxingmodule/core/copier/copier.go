// Package copier moves bytes from an upstream substream into a named pipe
// read by the muxing child.
package copier

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// ProcessState reports whether the muxing child is still running
type ProcessState interface {
	Running() bool
}

// FinishFunc is called once when a copier exits. err is nil for a completed
// substream and for expected teardown errors.
type FinishFunc func(index int, written int64, err error)

// Copier copies one substream into one pipe on its own goroutine
type Copier struct {
	index  int
	stream types.Substream
	pipe   types.Pipe
	proc   ProcessState
	logger hclog.Logger

	onFinish FinishFunc

	startOnce sync.Once
	done      chan struct{}
	written   atomic.Int64
	err       error
}

// New creates an unstarted copier
func New(index int, stream types.Substream, pipe types.Pipe, proc ProcessState, logger hclog.Logger) *Copier {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Copier{
		index:  index,
		stream: stream,
		pipe:   pipe,
		proc:   proc,
		logger: logger.With("input", index),
		done:   make(chan struct{}),
	}
}

// OnFinish registers the exit callback. Must be called before Start.
func (c *Copier) OnFinish(fn FinishFunc) {
	c.onFinish = fn
}

// Start launches the copy loop. Later calls do nothing.
func (c *Copier) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Done is closed when the copier has exited
func (c *Copier) Done() <-chan struct{} {
	return c.done
}

// Join waits for the copier to exit. A timeout <= 0 waits forever.
// It reports whether the copier exited in time.
func (c *Copier) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-c.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

// Index returns the input position of the copier
func (c *Copier) Index() int {
	return c.index
}

// Written returns the number of bytes written to the pipe so far
func (c *Copier) Written() int64 {
	return c.written.Load()
}

// Err returns the failure that stopped the copier. Only valid after Done.
func (c *Copier) Err() error {
	return c.err
}

func (c *Copier) run() {
	defer func() {
		if c.onFinish != nil {
			c.onFinish(c.index, c.written.Load(), c.err)
		}
		close(c.done)
	}()
	defer func() {
		_ = c.pipe.Close()
	}()

	if err := c.pipe.Open(); err != nil {
		if c.stopping(err) {
			c.logger.Debug("pipe closed before the muxer attached")
			return
		}
		c.logger.Error("failed to open pipe", "path", c.pipe.Path(), "error", err)
		c.err = err
		return
	}

	buf := make([]byte, types.CopyChunkSize)
	for {
		n, readErr := c.stream.Read(buf)
		if n > 0 {
			if _, err := c.pipe.Write(buf[:n]); err != nil {
				if c.stopping(err) {
					c.logger.Debug("pipe closed, muxer stopped", "written", c.written.Load())
					return
				}
				c.logger.Error("error writing to pipe", "error", err)
				c.err = muxerrors.PipeError("write", err)
				return
			}
			c.written.Add(int64(n))
		}

		if errors.Is(readErr, io.EOF) {
			c.logger.Debug("substream finished", "written", c.written.Load())
			return
		}
		if readErr != nil {
			if c.stream.Closed() {
				c.logger.Debug("substream closed during read", "error", readErr)
				return
			}
			c.logger.Error("error reading substream", "error", readErr)
			c.err = readErr
			return
		}
	}
}

// stopping reports whether a pipe error is expected teardown noise: the
// substream was closed, the pipe was aborted, or the child is gone.
func (c *Copier) stopping(err error) bool {
	if errors.Is(err, muxerrors.ErrPipeClosed) {
		return true
	}
	if c.stream.Closed() {
		return true
	}
	return c.proc == nil || !c.proc.Running()
}
